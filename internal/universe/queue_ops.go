package universe

import (
	"time"

	"github.com/corekernel/corekernel/internal/ipcqueue"
	"github.com/corekernel/corekernel/internal/kerr"
)

// ipcQueueHandle bundles a Queue with the single Consumer that drains it,
// since queue_wait is specified as a per-queue operation rather than
// requiring the caller to manage its own Consumer.
type ipcQueueHandle struct {
	queue    *ipcqueue.Queue
	consumer *ipcqueue.Consumer
}

// QueueCreate mmaps a new IpcQueue (queue_create) and attaches it.
func (u *Universe) QueueCreate(cfg ipcqueue.Config) (HandleId, error) {
	q, err := ipcqueue.New(cfg, u.observer)
	if err != nil {
		return 0, err
	}
	h := &ipcQueueHandle{queue: q, consumer: ipcqueue.NewConsumer(q)}
	return u.Attach(KindIpcQueue, h), nil
}

func (u *Universe) queueHandle(handle HandleId) (*ipcQueueHandle, error) {
	d, err := u.Lookup(handle)
	if err != nil {
		return nil, err
	}
	h, ok := d.Value.(*ipcQueueHandle)
	if !ok {
		return nil, kerr.NewSubjectError("queue_wait", "", kerr.KindIllegalArgument, "handle is not an ipc queue")
	}
	return h, nil
}

// QueueWait blocks until at least one completion is available on the
// queue named by handle, or deadline passes (queue_wait). A zero
// deadline means wait indefinitely.
func (u *Universe) QueueWait(handle HandleId, deadline time.Time) ([]ipcqueue.Completion, error) {
	h, err := u.queueHandle(handle)
	if err != nil {
		return nil, err
	}

	result := make(chan []ipcqueue.Completion, 1)
	go func() { result <- h.consumer.WaitCompletions() }()

	if deadline.IsZero() {
		return <-result, nil
	}
	select {
	case c := <-result:
		return c, nil
	case <-time.After(time.Until(deadline)):
		// The goroutine above is left to complete in the background and
		// deliver into result's buffer of 1 on its next wakeup; queue_wait
		// has no way to interrupt a parked futex wait from the outside.
		return nil, kerr.NewSubjectError("queue_wait", "", kerr.KindCancelled, "deadline exceeded")
	}
}

// Submitter returns a fresh Submitter over the queue named by handle, for
// the caller's own write-side cursor (multiple submitters may write into
// distinct chunks of the same queue over time).
func (u *Universe) Submitter(handle HandleId) (*ipcqueue.Submitter, error) {
	h, err := u.queueHandle(handle)
	if err != nil {
		return nil, err
	}
	return ipcqueue.NewSubmitter(h.queue), nil
}
