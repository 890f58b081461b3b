package client

import "errors"

var (
	// ErrValidation — некорректный запрос (ID, имя orchestration, вход).
	ErrValidation = errors.New("validation error")

	// ErrInstanceNotFound — instance не существует.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrSequenceConsumed — последовательность ListActiveInstances уже прочитана.
	ErrSequenceConsumed = errors.New("sequence already consumed")
)
