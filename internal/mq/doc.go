// Package mq доставляет RunEntry через RabbitMQ.
//
// Процесс, выполняющий actions, публикует каждую запись в обменник и
// не ждёт записи в БД. Consumer (запускается в conveyor serve) читает
// очередь и пишет каждую запись в action_runs через runlog.Writer;
// сообщение подтверждается только после успешной записи.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений
//   - runs.go       — RunPublisher (runlog.Sink) и обработчик для recorder
//
// Топология:
//
//	conveyor.runs (direct)
//	└── runs.recorded [routing: recorded]   → recorder, DLQ: dlq.runs
//	conveyor.dlq (direct)
//	└── dlq.runs [routing: runs]            → ручной разбор
package mq
