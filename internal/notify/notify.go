// Package notify delivers short messages to portal users after a workflow
// transition commits. Delivery is best effort: callers log and count
// failures, they never undo the transition.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"projectflow/internal/logger"
)

type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, userID, message string) error

func (f Func) Notify(ctx context.Context, userID, message string) error {
	return f(ctx, userID, message)
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }

// Log writes each message to the process log.
type Log struct{}

func (Log) Notify(_ context.Context, userID, message string) error {
	logger.Info().Str("recipient", userID).Str("message", message).Msg("notification")
	return nil
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, userID, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, userID, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async detaches delivery from the caller. Notify always returns nil;
// delivery errors go to OnError.
type Async struct {
	Next    Notifier
	Timeout time.Duration
	OnError func(userID string, err error)

	wg sync.WaitGroup
}

func (a *Async) Notify(ctx context.Context, userID, message string) error {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	// the request context is usually gone by the time delivery runs
	base := context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		dctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()
		if err := a.Next.Notify(dctx, userID, message); err != nil && a.OnError != nil {
			a.OnError(userID, err)
		}
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (a *Async) Wait() {
	a.wg.Wait()
}
