package transport

import (
	"context"

	"github.com/google/uuid"
)

// noop is a Transport that accepts every command and never emits
// notifications. Useful for wiring tests that exercise the layers above
// the transfer machinery.
type noop struct {
	ch chan Notification
}

func NewNoop() Transport {
	return &noop{ch: make(chan Notification)}
}

func (n *noop) Start(ctx context.Context, req Request) (string, error) {
	return uuid.NewString(), nil
}

func (n *noop) StartFromResumeData(ctx context.Context, blob []byte, req Request) (string, error) {
	return uuid.NewString(), nil
}

func (n *noop) Suspend(ctx context.Context, gid string) error { return nil }

func (n *noop) Resume(ctx context.Context, gid string) error { return nil }

func (n *noop) Cancel(ctx context.Context, gid string) error { return nil }

func (n *noop) ExistingTasks(ctx context.Context) ([]TaskInfo, error) { return nil, nil }

func (n *noop) Notifications() <-chan Notification { return n.ch }
