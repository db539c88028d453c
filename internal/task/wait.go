package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antonkrylov/xbastion/internal/fault"
)

// DefaultPollInterval is how often a provisioning task is re-described.
const DefaultPollInterval = time.Second

// Waiter blocks until a launched task is ready for connections.
type Waiter interface {
	AwaitReady(ctx context.Context, t *Task) (*Task, error)
}

// DescribeFunc returns the current state of the task with the given ARN.
type DescribeFunc func(ctx context.Context, arn string) (*Task, error)

// PollWaiter re-describes the task on a fixed interval until it is RUNNING
// or STOPPED. It has no deadline of its own; see WithDeadline.
type PollWaiter struct {
	Describe DescribeFunc
	Interval time.Duration
	// After defaults to time.After.
	After func(time.Duration) <-chan time.Time
	// OnStatus is called whenever the observed status differs from the
	// previous observation.
	OnStatus func(status string)
}

// AwaitReady implements Waiter. A task observed STOPPED fails immediately
// with fault.ErrTaskFailed; there is no resubmission.
func (w *PollWaiter) AwaitReady(ctx context.Context, t *Task) (*Task, error) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	after := w.After
	if after == nil {
		after = time.After
	}
	prev := t
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-after(interval):
		}
		cur, err := w.Describe(ctx, prev.ARN)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if cur.Status == StatusStopped {
			msg := "task is in status STOPPED; see the ECS console for details"
			if cur.Reason != "" {
				msg = fmt.Sprintf("task is in status STOPPED: %s", cur.Reason)
			}
			return nil, fault.E(fault.ErrTaskFailed, nil, "%s", msg)
		}
		if cur.Status != prev.Status && w.OnStatus != nil {
			w.OnStatus(cur.Status)
		}
		if cur.Status == StatusRunning {
			return cur, nil
		}
		prev = cur
	}
}

type deadlineWaiter struct {
	inner Waiter
	limit time.Duration
}

// WithDeadline bounds w: a task that is not ready within limit fails with
// fault.ErrTaskFailed. A non-positive limit returns w unchanged.
func WithDeadline(w Waiter, limit time.Duration) Waiter {
	if limit <= 0 {
		return w
	}
	return &deadlineWaiter{inner: w, limit: limit}
}

func (d *deadlineWaiter) AwaitReady(ctx context.Context, t *Task) (*Task, error) {
	wctx, cancel := context.WithTimeout(ctx, d.limit)
	defer cancel()
	ready, err := d.inner.AwaitReady(wctx, t)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fault.E(fault.ErrTaskFailed, nil, "task %s not ready after %s", t.ID, d.limit)
	}
	return ready, err
}
