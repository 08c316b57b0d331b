package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"citadel/pkg/logger"
)

type fakeEngine struct {
	results  chan HdpServerResult
	shutdown chan struct{}
	runErr   chan error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		results:  make(chan HdpServerResult, 16),
		shutdown: make(chan struct{}),
		runErr:   make(chan error, 1),
	}
}

func (f *fakeEngine) Run(ctx context.Context) error {
	select {
	case err := <-f.runErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeEngine) Results() <-chan HdpServerResult { return f.results }
func (f *fakeEngine) ShutdownAlert() <-chan struct{}  { return f.shutdown }

type fakeKernel struct {
	mu        sync.Mutex
	started   bool
	stopped   bool
	received  []HdpServerResult
	canRun    bool
	onMessage func(HdpServerResult) error
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{canRun: true}
}

func (k *fakeKernel) OnStart(remote *Remote) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.started = true
	return nil
}

func (k *fakeKernel) OnServerMessageReceived(result HdpServerResult) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.received = append(k.received, result)
	if k.onMessage != nil {
		return k.onMessage(result)
	}
	return nil
}

func (k *fakeKernel) CanRun() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.canRun
}

func (k *fakeKernel) OnStop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopped = true
	return nil
}

func (k *fakeKernel) receivedCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.received)
}

func TestKernelExecutor_ShutdownMessageEndsCleanly(t *testing.T) {
	engine := newFakeEngine()
	kernelImpl := newFakeKernel()
	remote := NewRemote()
	exec := NewKernelExecutor(engine, remote, kernelImpl, logger.NewDefaultLogger())

	engine.results <- HdpServerResult{Kind: ResultSessionEstablished, CID: 1}
	engine.results <- HdpServerResult{Kind: ResultShutdown}
	close(engine.shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := exec.Execute(ctx)
	if !errors.Is(err, ErrProperShutdown) {
		t.Fatalf("expected ErrProperShutdown, got %v", err)
	}
	if !kernelImpl.started || !kernelImpl.stopped {
		t.Fatalf("expected OnStart and OnStop both called, got started=%v stopped=%v", kernelImpl.started, kernelImpl.stopped)
	}
	if kernelImpl.receivedCount() != 1 {
		t.Fatalf("expected exactly 1 dispatched message before shutdown, got %d", kernelImpl.receivedCount())
	}
}

func TestKernelExecutor_ConsumerErrorRequestsEngineShutdown(t *testing.T) {
	engine := newFakeEngine()
	kernelImpl := newFakeKernel()
	kernelImpl.onMessage = func(HdpServerResult) error { return errors.New("boom") }
	remote := NewRemote()
	exec := NewKernelExecutor(engine, remote, kernelImpl, logger.NewDefaultLogger())

	engine.results <- HdpServerResult{Kind: ResultConnectFail, Reason: "test"}
	close(engine.shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := exec.Execute(ctx)
	if err == nil {
		t.Fatalf("expected an error from a failing consumer")
	}
	var internalErr *InternalError
	if !errors.As(err, &internalErr) {
		t.Fatalf("expected *InternalError, got %T: %v", err, err)
	}

	select {
	case <-remote.Done():
	default:
		t.Fatalf("expected remote.Shutdown to have been requested")
	}
}

func TestKernelExecutor_CanRunFalseStopsLoop(t *testing.T) {
	engine := newFakeEngine()
	kernelImpl := newFakeKernel()
	kernelImpl.canRun = false
	remote := NewRemote()
	exec := NewKernelExecutor(engine, remote, kernelImpl, logger.NewDefaultLogger())

	engine.results <- HdpServerResult{Kind: ResultSessionClosed, CID: 2}
	close(engine.shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := exec.Execute(ctx)
	if !errors.Is(err, ErrProperShutdown) {
		t.Fatalf("expected ErrProperShutdown, got %v", err)
	}
	if kernelImpl.receivedCount() != 0 {
		t.Fatalf("expected no messages dispatched once CanRun is false, got %d", kernelImpl.receivedCount())
	}
}
