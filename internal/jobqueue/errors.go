package jobqueue

import "errors"

var (
	// ErrHandlerNotFound — для задачи не зарегистрирован обработчик.
	// Задача переводится в failed без повторов.
	ErrHandlerNotFound = errors.New("job handler not found")

	// ErrEmptyName — имя задачи не задано.
	ErrEmptyName = errors.New("job name is required")

	// ErrAlreadyRunning — очередь уже запущена.
	ErrAlreadyRunning = errors.New("job queue already running")

	// ErrStopTimeout — не все обработчики завершились за StopTimeout.
	ErrStopTimeout = errors.New("job queue stop timed out")
)
