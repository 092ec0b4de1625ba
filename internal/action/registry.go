package action

import (
	"fmt"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Registry — реестр actions по имени.
//
// Хранит копии: изменения исходной структуры после Register не видны.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Action
	order   []string
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Action)}
}

// Register добавляет action.
func (r *Registry) Register(a *Action) error {
	if err := validateAction(a); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.actions[a.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, a.Name)
	}

	r.actions[a.Name] = a.clone()
	r.order = append(r.order, a.Name)
	return nil
}

// MustRegister — Register с panic при ошибке (для статической регистрации).
func (r *Registry) MustRegister(actions ...*Action) {
	for _, a := range actions {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
}

// Get возвращает action по имени.
func (r *Registry) Get(name string) (*Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.actions[name]
	return a, ok
}

// All возвращает все actions в порядке регистрации.
func (r *Registry) All() []*Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Action, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.actions[name])
	}
	return out
}

// Len возвращает количество actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

func validateAction(a *Action) error {
	if a == nil {
		return fmt.Errorf("%w: nil action", ErrInvalidAction)
	}
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAction)
	}
	if a.Handler == nil {
		return fmt.Errorf("%w: %s: handler is required", ErrInvalidAction, a.Name)
	}
	if a.LockTTL < 0 {
		return fmt.Errorf("%w: %s: lock ttl must be positive", ErrInvalidAction, a.Name)
	}
	if a.Retry != nil && a.Retry.MaxAttempts < 0 {
		return fmt.Errorf("%w: %s: max attempts must be positive", ErrInvalidAction, a.Name)
	}

	crons := 0
	for _, t := range a.Triggers {
		if t.Type == domain.TriggerCron {
			crons++
			if t.Cron == "" {
				return fmt.Errorf("%w: %s: cron trigger without expression", ErrInvalidAction, a.Name)
			}
		}
	}
	if crons > 1 {
		return fmt.Errorf("%w: %s: at most one cron trigger", ErrInvalidAction, a.Name)
	}
	return nil
}
