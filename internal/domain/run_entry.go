package domain

import (
	"encoding/json"
	"time"
)

// RunStatus — итог одной попытки выполнения action.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// TriggerType — источник вызова action.
type TriggerType string

const (
	TriggerHTTP     TriggerType = "http"
	TriggerEvent    TriggerType = "event"
	TriggerTool     TriggerType = "tool"
	TriggerCron     TriggerType = "cron"
	TriggerJob      TriggerType = "job"
	TriggerInternal TriggerType = "internal"
)

// RunEntry — неизменяемая audit-запись одной попытки выполнения.
//
// Создаётся Executor'ом и передаётся в persistence sink.
// Движок никогда не читает эти записи обратно.
type RunEntry struct {
	TraceID     string      `json:"trace_id"`
	ActionName  string      `json:"action_name"`
	ModuleName  string      `json:"module_name,omitempty"`
	TriggerType TriggerType `json:"trigger_type"`
	Status      RunStatus   `json:"status"`

	// Input/Output — сериализованные вход и результат (JSON).
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	ErrorStack   string `json:"error_stack,omitempty"`

	Duration time.Duration `json:"duration"`

	// Attempt/MaxAttempts заполняются только при MaxAttempts > 1.
	Attempt     int `json:"attempt,omitempty"`
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Final — false для промежуточных неудачных попыток перед retry.
	Final bool `json:"final"`

	CreatedAt time.Time `json:"created_at"`
}
