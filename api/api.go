// Package api defines the public contracts of shmchan.
package api

import "context"

// Handler consumes one drained message. The payload slice is only valid for
// the duration of the call; implementations that keep it must copy.
type Handler interface {
	HandleMessage(ctx context.Context, payload []byte) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload []byte) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, payload []byte) error {
	return f(ctx, payload)
}

// Sender is the producing endpoint of a channel.
type Sender interface {
	// Send blocks until the message is enqueued or ctx ends.
	Send(ctx context.Context, payload []byte) error
	// TrySend enqueues without blocking or fails fast.
	TrySend(payload []byte) error
	// Close marks the channel closed for writing.
	Close() error
}

// Runner drives a consuming endpoint until its context ends.
type Runner interface {
	Serve(ctx context.Context) error
}
