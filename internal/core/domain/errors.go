package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrIndexUnavailable      = errors.New("index unavailable")
	ErrAllIndexesUnavailable = errors.New("all indexes unavailable")
	ErrGeneration            = errors.New("generation failure")
	ErrCacheMiss             = errors.New("cache miss")
	ErrCache                 = errors.New("cache failure")
	ErrTemporary             = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
