package klog

import (
	"context"
	"fmt"

	"github.com/corekernel/corekernel/internal/ipcqueue"
)

// Dumper drains a Ring asynchronously onto an ipcqueue.Queue, mirroring
// the original kernel's dumpLogToKmsg coroutine: follow the ring's
// sequence cursor, and park in Wait whenever nothing new is available
// yet rather than polling.
type Dumper struct {
	ring  *Ring
	queue *ipcqueue.Queue
}

// NewDumper pairs ring with the queue its records are forwarded onto.
func NewDumper(ring *Ring, queue *ipcqueue.Queue) *Dumper {
	return &Dumper{ring: ring, queue: queue}
}

// Run drains ring onto the Dumper's queue until ctx is cancelled. Each
// record is encoded as "severity,seq: message" and enqueued with the
// record's sequence number as the completion context, matching the
// original's "severity,seq,timestamp;message" kmsg framing closely
// enough for a userspace reader to recover ordering and severity.
func (d *Dumper) Run(ctx context.Context) error {
	var after uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		records, newAfter := d.ring.DequeueAfter(after)
		if len(records) == 0 {
			if err := d.ring.Wait(ctx, after); err != nil {
				return err
			}
			continue
		}
		for _, rec := range records {
			line := fmt.Sprintf("%s,%d: %s", rec.Severity, rec.Seq, rec.Message)
			if err := d.queue.EnqueueCompletion(rec.Seq, []byte(line)); err != nil {
				return err
			}
		}
		after = newAfter
	}
}
