package action

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Guard — проверка перед handler'ом (авторизация, rate limit и т.п.).
//
// Выполняется один раз за вызов и никогда не повторяется.
// Отказ принято возвращать как *GuardError.
type Guard func(ctx context.Context, ec *Context) error

// GuardMode — режим выполнения набора guards.
type GuardMode int

const (
	// GuardsSequential — по порядку, до первой ошибки.
	GuardsSequential GuardMode = iota

	// GuardsParallel — одновременно, первая ошибка отменяет остальные.
	GuardsParallel
)

// GuardSet — набор guards с режимом выполнения, выбранным при регистрации.
type GuardSet struct {
	Mode   GuardMode
	Guards []Guard
}

// Sequential создаёт последовательный набор guards.
func Sequential(guards ...Guard) GuardSet {
	return GuardSet{Mode: GuardsSequential, Guards: guards}
}

// Parallel создаёт параллельный набор guards.
func Parallel(guards ...Guard) GuardSet {
	return GuardSet{Mode: GuardsParallel, Guards: guards}
}

// Len возвращает количество guards.
func (s GuardSet) Len() int {
	return len(s.Guards)
}

// Run выполняет guards и возвращает первую ошибку.
func (s GuardSet) Run(ctx context.Context, ec *Context) error {
	if len(s.Guards) == 0 {
		return nil
	}

	if s.Mode == GuardsParallel && len(s.Guards) > 1 {
		return s.runParallel(ctx, ec)
	}

	for _, g := range s.Guards {
		if err := g.call(ctx, ec); err != nil {
			return err
		}
	}
	return nil
}

func (s GuardSet) runParallel(ctx context.Context, ec *Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, guard := range s.Guards {
		guard := guard
		g.Go(func() error {
			return guard.call(gctx, ec)
		})
	}
	return g.Wait()
}

// call выполняет guard, превращая панику в ExecutionError.
// В параллельном режиме guard работает в отдельной горутине, где
// recover вызывающего кода не действует.
func (g Guard) call(ctx context.Context, ec *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExecutionError{
				Message: fmt.Sprintf("panic: %v", r),
				Stack:   string(debug.Stack()),
			}
		}
	}()
	return g(ctx, ec)
}

func (s GuardSet) clone() GuardSet {
	return GuardSet{Mode: s.Mode, Guards: append([]Guard(nil), s.Guards...)}
}

// RequireAuth отклоняет анонимные вызовы.
func RequireAuth() Guard {
	return func(_ context.Context, ec *Context) error {
		if !ec.Auth().Authenticated() {
			return Unauthorized("authentication required")
		}
		return nil
	}
}

// RequireRole требует наличия роли у пользователя.
func RequireRole(role string) Guard {
	return func(_ context.Context, ec *Context) error {
		auth := ec.Auth()
		if !auth.Authenticated() {
			return Unauthorized("authentication required")
		}
		if !auth.HasRole(role) {
			return Forbidden("role " + role + " required")
		}
		return nil
	}
}
