package approval

import "context"

// Notifier is told when a request reaches approved or rejected. It runs
// after commit; an error is logged and does not undo the transition.
type Notifier interface {
	RequestClosed(ctx context.Context, r Request) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) RequestClosed(context.Context, Request) error { return nil }

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, r Request) error

func (f NotifierFunc) RequestClosed(ctx context.Context, r Request) error { return f(ctx, r) }
