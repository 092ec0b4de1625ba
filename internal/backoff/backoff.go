// Package backoff вычисляет задержки между повторными попытками.
//
// Стратегии:
//   - "exponential": delay = base * 2^(attempt-1), не больше max
//   - "fixed":       delay = base
//
// Используется Executor'ом (retry внутри вызова action) и очередью задач
// (перенос run_at при retrying).
package backoff

import "time"

// Kind — стратегия backoff.
type Kind string

const (
	Exponential Kind = "exponential"
	Fixed       Kind = "fixed"
)

// Значения по умолчанию.
const (
	DefaultBase = time.Second
	DefaultMax  = 30 * time.Second
)

// Policy — параметры вычисления задержки.
type Policy struct {
	Kind Kind
	Base time.Duration
	Max  time.Duration
}

// Delay возвращает задержку перед повторной попыткой.
// attempt — номер только что завершившейся попытки (начиная с 1).
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	maxDelay := p.Max
	if maxDelay <= 0 {
		maxDelay = DefaultMax
	}

	switch p.Kind {
	case Fixed:
		return min(base, maxDelay)
	default:
		return ExponentialDelay(base, maxDelay, attempt)
	}
}

// ExponentialDelay возвращает min(base * 2^(attempt-1), maxDelay).
// Удвоение с проверкой на каждом шаге — без переполнения при больших attempt.
func ExponentialDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay || delay <= 0 {
			return maxDelay
		}
	}

	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// ParseKind разбирает строку в Kind. Неизвестные значения → Exponential.
func ParseKind(s string) Kind {
	if s == string(Fixed) {
		return Fixed
	}
	return Exponential
}
