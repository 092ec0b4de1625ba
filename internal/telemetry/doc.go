// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики executor'а, очереди и планировщика
//
// Метрики регистрируются в явно переданном prometheus.Registerer,
// глобальный registry не используется.
package telemetry
