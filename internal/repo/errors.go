package repo

import "errors"

// Общие ошибки хранилища.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — операция невозможна в текущем состоянии.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict — состояние instance изменилось с момента загрузки.
	// Вызывающий код перечитывает instance и повторяет execution.
	ErrConflict = errors.New("concurrent modification")
)
