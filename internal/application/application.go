package application

import (
	"context"
	"errors"
	"fmt"
)

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

// ErrValidation marks malformed input surfaced directly to the caller with a
// stable 400 at the boundary.
var ErrValidation = errors.New("validation")

func NewValidationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
