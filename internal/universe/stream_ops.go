package universe

import (
	"github.com/corekernel/corekernel/internal/kerr"
	"github.com/corekernel/corekernel/internal/stream"
)

// AttachStream creates a fresh Stream and attaches both lane ends,
// returning the two KindLane handles a caller uses for lane_submit and
// lane_shutdown.
func (u *Universe) AttachStream() (side0, side1 HandleId) {
	s := stream.New(u.observer)
	side0 = u.Attach(KindLane, &stream.Lane{Stream: s, Side: 0})
	side1 = u.Attach(KindLane, &stream.Lane{Stream: s, Side: 1})
	return side0, side1
}

func (u *Universe) lane(handle HandleId) (*stream.Lane, error) {
	d, err := u.Lookup(handle)
	if err != nil {
		return nil, err
	}
	lane, ok := d.Value.(*stream.Lane)
	if !ok {
		return nil, kerr.NewSubjectError("lane_submit", "", kerr.KindIllegalArgument, "handle is not a lane")
	}
	return lane, nil
}

// LaneSubmit forwards node onto the Stream lane named by handle.
func (u *Universe) LaneSubmit(handle HandleId, node *stream.Node) error {
	lane, err := u.lane(handle)
	if err != nil {
		return err
	}
	node.Lane = lane.Side
	lane.Stream.LaneSubmit(node)
	return nil
}

// LaneShutdown shuts down the lane named by handle.
func (u *Universe) LaneShutdown(handle HandleId) error {
	lane, err := u.lane(handle)
	if err != nil {
		return err
	}
	lane.Stream.LaneShutdown(lane.Side)
	return nil
}
