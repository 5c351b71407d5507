package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/corekernel/corekernel/internal/klog"
	"github.com/corekernel/corekernel/internal/logging"
	"github.com/corekernel/corekernel/internal/pagespace"
	"github.com/corekernel/corekernel/internal/sched"
	"github.com/corekernel/corekernel/internal/timer"
	"github.com/corekernel/corekernel/internal/universe"
)

// bumpAllocator is a toy FrameAllocator; production wiring (a buddy
// allocator over discovered physical memory) is out of scope.
type bumpAllocator struct {
	next pagespace.PhysFrame
}

func (b *bumpAllocator) AllocFrame() (pagespace.PhysFrame, error) {
	f := b.next
	b.next += pagespace.FrameSize
	return f, nil
}

func (b *bumpAllocator) FreeFrame(pagespace.PhysFrame) {}

func main() {
	var (
		numCPUs = flag.Int("cpus", 4, "number of simulated CPUs")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	u := universe.New(nil)

	space, err := pagespace.NewKernelPageSpace(&bumpAllocator{}, 4, *numCPUs)
	if err != nil {
		logger.Error("failed to create kernel page space", "error", err)
		os.Exit(1)
	}
	spaceHandle := u.AttachAddressSpace(space)

	engine := timer.NewEngine(timer.NewTimerAlarm(), func() int64 { return time.Now().UnixNano() }, nil)
	u.SetTimerEngine(engine)

	ring := klog.NewRing(4096, nil)
	wq := sched.NewWorkQueue(1024)

	logger.Info("universe initialized", "address_space", spaceHandle, "cpus", *numCPUs)
	ring.Enqueue(klog.SeverityInfo, fmt.Sprintf("corekernel demo starting with %d cpus", *numCPUs))

	for i := 0; i < 3; i++ {
		i := i
		wq.Post(func() {
			ring.Enqueue(klog.SeverityDebug, fmt.Sprintf("worklet %d ran", i))
		})
	}
	wq.Drain()

	fmt.Printf("corekernel demo running with %d simulated CPUs\n", *numCPUs)
	fmt.Printf("Press Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	wq.Shutdown()
}
