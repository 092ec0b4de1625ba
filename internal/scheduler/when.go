package scheduler

import "time"

type whenKind int

const (
	whenAfter whenKind = iota
	whenAt
	whenCron
)

// When — момент запуска задачи.
type When struct {
	kind  whenKind
	delay time.Duration
	at    time.Time
	expr  string
}

// After — однократно через d.
func After(d time.Duration) When {
	return When{kind: whenAfter, delay: d}
}

// At — однократно в момент t (прошедшее время — немедленно).
func At(t time.Time) When {
	return When{kind: whenAt, at: t}
}

// Cron — периодически по cron-выражению.
func Cron(expr string) When {
	return When{kind: whenCron, expr: expr}
}

func (w When) String() string {
	switch w.kind {
	case whenAfter:
		return "after " + w.delay.String()
	case whenAt:
		return "at " + w.at.UTC().Format(time.RFC3339)
	default:
		return "cron " + w.expr
	}
}
