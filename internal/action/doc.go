// Package action описывает зарегистрированные единицы работы (actions)
// и контекст их выполнения.
//
// Структура:
//   - action.go   — Action, Trigger, RetryPolicy, Output (транспортные метаданные)
//   - guard.go    — Guard и GuardSet (Sequential | Parallel)
//   - context.go  — Context и ContextBuilder (ленивые capabilities)
//   - path.go     — Path, неизменяемый путь вложенных вызовов (обнаружение циклов)
//   - registry.go — Registry, реестр actions по имени
//   - errors.go   — типизированные ошибки и классификация retry
//
// Выполнение actions (guards, retry, audit) — в пакете executor.
package action
