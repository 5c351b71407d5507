package universe

import (
	"runtime"

	"github.com/corekernel/corekernel/internal/kerr"
	"github.com/corekernel/corekernel/internal/pagespace"
	"github.com/corekernel/corekernel/internal/sched"
)

// threadObject is the minimal contract surface spec.md names for
// Thread/Fiber (full scheduling is out of scope): an entry closure bound
// to an address space, resumable onto a specific CPU's WorkQueue.
type threadObject struct {
	space *pagespace.PageSpace
	entry func()
}

// ThreadCreate registers entry, to run against spaceHandle's address
// space once resumed (thread_create).
func (u *Universe) ThreadCreate(spaceHandle HandleId, entry func()) (HandleId, error) {
	space, err := u.addressSpace(spaceHandle)
	if err != nil {
		return 0, err
	}
	if entry == nil {
		return 0, kerr.NewError("thread_create", kerr.KindIllegalArgument, "entry must not be nil")
	}
	return u.Attach(KindThread, &threadObject{space: space, entry: entry}), nil
}

// ThreadResume posts threadHandle's entry onto wq, the specific CPU's
// run-queue it should execute on (thread_resume).
func (u *Universe) ThreadResume(threadHandle HandleId, wq *sched.WorkQueue) error {
	d, err := u.Lookup(threadHandle)
	if err != nil {
		return err
	}
	t, ok := d.Value.(*threadObject)
	if !ok {
		return kerr.NewSubjectError("thread_resume", "", kerr.KindIllegalArgument, "handle is not a thread")
	}
	if !wq.Post(t.entry) {
		return kerr.NewError("thread_resume", kerr.KindOutOfMemory, "run queue full")
	}
	return nil
}

// ThreadYield cooperatively yields the calling goroutine back to the Go
// scheduler. Full fiber suspension/resumption mid-closure is out of
// scope (spec.md leaves Thread/Fiber "not fully specified"); this is the
// closest stand-in available without a coroutine runtime.
func ThreadYield() {
	runtime.Gosched()
}
