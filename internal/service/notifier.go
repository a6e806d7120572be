package service

import (
	"context"
	"sync"
)

// Notifier is a one-shot broadcast: any number of callers may Wait for
// its single Resolve, each receiving the same terminal value.
type Notifier struct {
	once   sync.Once
	done   chan struct{}
	result any
}

func NewNotifier() *Notifier {
	return &Notifier{done: make(chan struct{})}
}

// Resolve assigns the terminal value. Only the first call has effect.
func (n *Notifier) Resolve(v any) {
	n.once.Do(func() {
		n.result = v
		close(n.done)
	})
}

// Wait blocks until Resolve is called or ctx is done.
func (n *Notifier) Wait(ctx context.Context) (any, error) {
	select {
	case <-n.done:
		return n.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
