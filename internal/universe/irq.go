package universe

import (
	"sync"

	"github.com/corekernel/corekernel/internal/kerr"
)

// irqObject is the kernel object behind one attached IRQ pin: a sequence
// counter bumped on each interrupt, with waiters blocking on a condition
// variable until the sequence advances past the value they last observed.
type irqObject struct {
	mu   sync.Mutex
	cond *sync.Cond
	pin  int
	seq  uint64
}

func newIrqObject(pin int) *irqObject {
	o := &irqObject{pin: pin}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// IrqAttach registers pin and returns a handle to its object (irq_attach).
func (u *Universe) IrqAttach(pin int) HandleId {
	return u.Attach(KindIrq, newIrqObject(pin))
}

func (u *Universe) irqObject(handle HandleId) (*irqObject, error) {
	d, err := u.Lookup(handle)
	if err != nil {
		return nil, err
	}
	o, ok := d.Value.(*irqObject)
	if !ok {
		return nil, kerr.NewSubjectError("irq_await", "", kerr.KindIllegalArgument, "handle is not an irq object")
	}
	return o, nil
}

// IrqAwait blocks until object's sequence counter advances past seq,
// returning the new sequence value (irq_await).
func (u *Universe) IrqAwait(handle HandleId, seq uint64) (uint64, error) {
	o, err := u.irqObject(handle)
	if err != nil {
		return 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.seq <= seq {
		o.cond.Wait()
	}
	return o.seq, nil
}

// RaiseIrq delivers one interrupt to the object named by handle, waking
// every waiter in IrqAwait. Production wiring drives this from the real
// interrupt controller; tests drive it directly.
func (u *Universe) RaiseIrq(handle HandleId) error {
	o, err := u.irqObject(handle)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.seq++
	o.mu.Unlock()
	o.cond.Broadcast()
	return nil
}
