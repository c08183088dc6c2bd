package kernel

import (
	"fmt"
	"runtime/debug"
)

// runSafely executes fn and converts panics into returned errors tagged with scope.
// It guards goroutine and lifecycle boundaries so one module cannot crash the process.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s: panic recovered: %v\n%s", scope, recovered, debug.Stack())
		}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}
