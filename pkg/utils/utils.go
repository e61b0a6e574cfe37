package utils

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang-stock-pulse/pkg/logger"
)

// GoSafe runs fn in a goroutine and recovers panics so one ticker cannot take the process down.
func GoSafe(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Printf("recovered from panic: %v\n%s\n", r, debug.Stack())
			}
		}()
		fn()
	}()
}

// ShouldContinue reports whether ctx is still live, logging when it is not.
func ShouldContinue(ctx context.Context, log *logger.Logger) bool {
	select {
	case <-ctx.Done():
		if log != nil {
			log.Warn("Context done, stopping work", logger.ErrorField(ctx.Err()))
		}
		return false
	default:
		return true
	}
}

func ToPointer[T any](v T) *T {
	return &v
}
