// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package fixedpool runs a fixed set of tasks to completion.
package fixedpool

import (
	"context"
	"errors"
	"sync"

	"github.com/z5labs/evhttp/internal/try"
)

// Task is one unit of work given to Wait.
type Task func(context.Context) error

// Wait runs every task on its own goroutine and returns once all of them
// have returned. The first failure cancels the context the others see.
// Panics are recovered as [try.PanicError]s. All failures are joined.
func Wait(ctx context.Context, tasks ...Task) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	errCh := make(chan error, len(tasks))

	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := run(ctx, task)
			if err != nil {
				errCh <- err
				cancel(err)
			}
		}()
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func run(ctx context.Context, t Task) (err error) {
	defer try.Recover(&err)
	return t(ctx)
}
