package repo

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound — задача или запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись с таким id уже существует.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — операция невозможна в текущем статусе задачи.
	ErrInvalidState = errors.New("invalid state")
)

// uniqueViolation — SQLSTATE нарушения уникальности.
const uniqueViolation = "23505"

// mapError переводит ошибки pgx в ошибки пакета.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyExists
	}
	return err
}
