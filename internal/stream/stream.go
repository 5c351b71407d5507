// Package stream implements Stream: a two-lane bidirectional channel that
// matches typed transmission operations (StreamNodes) submitted on either
// lane, per the transfer-rules table.
package stream

import (
	"sync"

	"github.com/hayabusa-cloud/lfq"

	"github.com/corekernel/corekernel/internal/constants"
	"github.com/corekernel/corekernel/internal/kerr"
	"github.com/corekernel/corekernel/internal/kmetrics"
)

// Tag identifies the kind of transmission a StreamNode carries. The
// ordering here is the fixed total order used to canonicalize a matched
// pair so the transfer table only needs to be checked in one direction.
type Tag int

const (
	TagAccept Tag = iota
	TagOffer
	TagExtractCreds
	TagImbueCreds
	TagRecvInline
	TagRecvToBuffer
	TagSendBuffer
	TagPullDescriptor
	TagPushDescriptor
)

func (t Tag) String() string {
	switch t {
	case TagOffer:
		return "Offer"
	case TagAccept:
		return "Accept"
	case TagImbueCreds:
		return "ImbueCreds"
	case TagExtractCreds:
		return "ExtractCreds"
	case TagSendBuffer:
		return "SendBuffer"
	case TagRecvInline:
		return "RecvInline"
	case TagRecvToBuffer:
		return "RecvToBuffer"
	case TagPushDescriptor:
		return "PushDescriptor"
	case TagPullDescriptor:
		return "PullDescriptor"
	default:
		return "Unknown"
	}
}

// Result is delivered to a StreamNode's Done channel once it is matched,
// cancelled, or the lane it waits on tears down.
type Result struct {
	Err  *kerr.Error
	Peer *Node // the node this one was matched against, nil on failure
}

// Node is a single transmission operation awaiting matchmaking, plus an
// ordered ancillary chain that is delivered atomically on a match.
type Node struct {
	Tag       Tag
	Lane      int
	Ancillary []*Node

	// Payload fields, used depending on Tag.
	CredBlob     []byte // ImbueCreds source / ExtractCreds destination
	Buffer       []byte // SendBuffer source
	MaxLen       int    // RecvInline capacity
	RecvBuf      []byte // RecvToBuffer destination
	ActualLength int     // RecvToBuffer: bytes actually copied
	Descriptor   any    // PushDescriptor source / PullDescriptor destination

	// NewPeerLane is populated on an Offer/Accept match with the lane
	// handle the caller should receive for the newly-created child Stream.
	NewPeerLane *Lane

	Done chan Result
}

// NewNode allocates a Node with its completion channel ready.
func NewNode(tag Tag, lane int) *Node {
	return &Node{Tag: tag, Lane: lane, Done: make(chan Result, 1)}
}

func (n *Node) complete(peer *Node, err *kerr.Error) {
	select {
	case n.Done <- Result{Peer: peer, Err: err}:
	default:
	}
}

// Lane identifies one endpoint of a Stream by value, per spec §9's
// guidance to avoid cyclic ownership: {Stream handle, side}.
type Lane struct {
	Stream *Stream
	Side   int
}

// Stream is a two-lane bidirectional channel.
type Stream struct {
	mu sync.Mutex

	processQueue [2]lfq.Queue[*Node]
	broken       [2]bool
	shutdown     [2]bool
	peerCount    [2]int

	observer kmetrics.Observer
}

// New creates a Stream with one outstanding handle per lane.
func New(observer kmetrics.Observer) *Stream {
	if observer == nil {
		observer = kmetrics.NoOpObserver{}
	}
	s := &Stream{observer: observer}
	s.peerCount[0] = 1
	s.peerCount[1] = 1
	s.processQueue[0] = lfq.NewMPMC[*Node](constants.DefaultStreamLaneBacklog)
	s.processQueue[1] = lfq.NewMPMC[*Node](constants.DefaultStreamLaneBacklog)
	return s
}

// drainQueue pops every node currently queued on q, in FIFO order.
func drainQueue(q lfq.Queue[*Node]) []*Node {
	var out []*Node
	for {
		n, err := q.Dequeue()
		if err != nil {
			return out
		}
		out = append(out, n)
	}
}

func otherLane(p int) int { return 1 - p }

// canonicalize orders (u, v) so tag(u) >= tag(v), matching the spec's
// fixed total order over the nine tags (Tag's iota order above).
func canonicalize(a, b *Node) (u, v *Node) {
	if a.Tag >= b.Tag {
		return a, b
	}
	return b, a
}

// LaneSubmit enters node into lane p's matchmaking. At most one of the two
// process queues is non-empty at any time: if the peer queue holds a
// waiting node, they're popped and matched outside the lock; otherwise
// node is enqueued to wait for a peer.
func (s *Stream) LaneSubmit(node *Node) {
	s.mu.Lock()

	p := node.Lane
	if s.shutdown[p] {
		s.mu.Unlock()
		node.complete(nil, kerr.NewError("lane_submit", kerr.KindLaneShutdown, "lane shut down"))
		return
	}
	if s.broken[otherLane(p)] {
		s.mu.Unlock()
		node.complete(nil, kerr.NewError("lane_submit", kerr.KindEndOfLane, "peer lane closed"))
		return
	}

	if peer, err := s.processQueue[otherLane(p)].Dequeue(); err == nil {
		s.mu.Unlock()
		s.process(node, peer)
		return
	}

	if err := s.processQueue[p].Enqueue(&node); err != nil {
		s.mu.Unlock()
		node.complete(nil, kerr.NewError("lane_submit", kerr.KindOutOfMemory, "lane backlog full"))
		return
	}
	s.mu.Unlock()
}

// process resolves one matched pair outside the stream lock, per the
// transfer rules table.
func (s *Stream) process(a, b *Node) {
	u, v := canonicalize(a, b)

	switch {
	case u.Tag == TagOffer && v.Tag == TagAccept:
		s.matchOfferAccept(u, v)
	case u.Tag == TagImbueCreds && v.Tag == TagExtractCreds:
		copy(v.CredBlob, u.CredBlob)
		u.complete(v, nil)
		v.complete(u, nil)
	case u.Tag == TagSendBuffer && v.Tag == TagRecvInline:
		s.matchSendRecvInline(u, v)
	case u.Tag == TagSendBuffer && v.Tag == TagRecvToBuffer:
		s.matchSendRecvToBuffer(u, v)
	case u.Tag == TagPushDescriptor && v.Tag == TagPullDescriptor:
		v.Descriptor = u.Descriptor
		u.complete(v, nil)
		v.complete(u, nil)
	default:
		mismatch := kerr.NewError("lane_submit", kerr.KindTransmissionMismatch, "incompatible stream tags")
		u.complete(v, mismatch)
		v.complete(u, mismatch)
		return
	}

	s.observer.ObserveStreamMatch()
}

func (s *Stream) matchOfferAccept(offer, accept *Node) {
	child := New(s.observer)
	offer.NewPeerLane = &Lane{Stream: child, Side: 0}
	accept.NewPeerLane = &Lane{Stream: child, Side: 1}

	for _, n := range offer.Ancillary {
		n.Lane = 0
		child.LaneSubmit(n)
	}
	for _, n := range accept.Ancillary {
		n.Lane = 1
		child.LaneSubmit(n)
	}

	offer.complete(accept, nil)
	accept.complete(offer, nil)
}

func (s *Stream) matchSendRecvInline(send, recv *Node) {
	if len(send.Buffer) > recv.MaxLen {
		tooSmall := kerr.NewError("lane_submit", kerr.KindBufferTooSmall, "payload exceeds receiver capacity")
		send.complete(recv, tooSmall)
		recv.complete(send, tooSmall)
		return
	}
	recv.RecvBuf = send.Buffer
	recv.ActualLength = len(send.Buffer)
	send.complete(recv, nil)
	recv.complete(send, nil)
}

func (s *Stream) matchSendRecvToBuffer(send, recv *Node) {
	if len(send.Buffer) > len(recv.RecvBuf) {
		tooSmall := kerr.NewError("lane_submit", kerr.KindBufferTooSmall, "payload exceeds receiver buffer")
		send.complete(recv, tooSmall)
		recv.complete(send, tooSmall)
		return
	}
	recv.ActualLength = copy(recv.RecvBuf, send.Buffer)
	send.complete(recv, nil)
	recv.complete(send, nil)
}

// LaneShutdown sets shutdown[p] and drains both lanes: nodes pending on p
// complete with lane_shutdown, nodes pending on the peer lane complete
// with end_of_lane.
func (s *Stream) LaneShutdown(p int) {
	s.mu.Lock()
	s.shutdown[p] = true
	own := drainQueue(s.processQueue[p])
	peer := drainQueue(s.processQueue[otherLane(p)])
	s.mu.Unlock()

	ownErr := kerr.NewError("lane_shutdown", kerr.KindLaneShutdown, "lane shut down")
	for _, n := range own {
		n.complete(nil, ownErr)
	}
	peerErr := kerr.NewError("lane_shutdown", kerr.KindEndOfLane, "peer lane closed")
	for _, n := range peer {
		n.complete(nil, peerErr)
	}
}

// DropHandle decrements peer_count[p]; when it reaches zero, broken[p] is
// set (release semantics via the mutex) and pending nodes on the opposite
// lane complete with end_of_lane.
func (s *Stream) DropHandle(p int) {
	s.mu.Lock()
	s.peerCount[p]--
	if s.peerCount[p] > 0 {
		s.mu.Unlock()
		return
	}
	s.broken[p] = true
	peer := drainQueue(s.processQueue[otherLane(p)])
	s.mu.Unlock()

	err := kerr.NewError("drop_handle", kerr.KindEndOfLane, "peer lane closed")
	for _, n := range peer {
		n.complete(nil, err)
	}
}

// AddHandle increments peer_count[p], e.g. on handle_duplicate.
func (s *Stream) AddHandle(p int) {
	s.mu.Lock()
	s.peerCount[p]++
	s.mu.Unlock()
}

// Dropped reports whether both lanes' peer counts have reached zero.
func (s *Stream) Dropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerCount[0] == 0 && s.peerCount[1] == 0
}
