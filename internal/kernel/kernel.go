// Package kernel implements the kernel executor: the task that
// bridges a pluggable user kernel with the network engine, dispatching
// server results concurrently while guaranteeing clean shutdown.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"citadel/pkg/logger"
)

// ErrProperShutdown is returned by the kernel loop when it terminates
// because the engine sent a Shutdown result or the kernel reported it
// can no longer run. It is not itself a failure.
var ErrProperShutdown = errors.New("kernel: proper shutdown")

// InternalError wraps an unexpected failure raised while dispatching a
// server result to the kernel consumer.
type InternalError struct{ Err error }

func (e *InternalError) Error() string { return fmt.Sprintf("kernel: internal error: %v", e.Err) }
func (e *InternalError) Unwrap() error { return e.Err }

// AccountError wraps a failure surfaced by the account-manager
// collaborator during message dispatch.
type AccountError struct{ Err error }

func (e *AccountError) Error() string { return fmt.Sprintf("kernel: account error: %v", e.Err) }
func (e *AccountError) Unwrap() error { return e.Err }

// HdpServerResultKind discriminates HdpServerResult variants.
type HdpServerResultKind int

const (
	ResultShutdown HdpServerResultKind = iota
	ResultSessionEstablished
	ResultSessionClosed
	ResultConnectFail
	ResultRegisterFailure
	ResultInternalServerError
	ResultPeerSignalReceived
)

// HdpServerResult is the tagged union of messages the engine emits
// toward the kernel consumer.
type HdpServerResult struct {
	Kind   HdpServerResultKind
	CID    uint64
	Reason string
	Err    error
	Signal interface{} // carries a *peer.PeerSignal for ResultPeerSignalReceived; left untyped to avoid an import cycle with internal/peer
}

// Remote is the handle a kernel uses to act back on the engine, most
// importantly to request a graceful shutdown.
type Remote struct {
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewRemote builds a Remote backed by a fresh shutdown channel.
func NewRemote() *Remote {
	return &Remote{shutdownCh: make(chan struct{})}
}

// Shutdown requests the engine stop; safe to call more than once and
// from any goroutine.
func (r *Remote) Shutdown() error {
	r.shutdownOnce.Do(func() { close(r.shutdownCh) })
	return nil
}

// Done returns a channel closed once Shutdown has been called.
func (r *Remote) Done() <-chan struct{} { return r.shutdownCh }

// NetKernel is the pluggable user-supplied event consumer the
// executor drives.
type NetKernel interface {
	OnStart(remote *Remote) error
	OnServerMessageReceived(result HdpServerResult) error
	CanRun() bool
	OnStop() error
}

// Engine is the minimal surface the executor needs from the network
// engine it drives: a results stream and a future representing the
// engine's own run loop.
type Engine interface {
	// Run executes the engine's own loop until ctx is cancelled or a
	// fatal error occurs.
	Run(ctx context.Context) error
	// Results returns the channel of HdpServerResult messages the
	// engine emits; closed when the engine stops producing results.
	Results() <-chan HdpServerResult
	// ShutdownAlert is closed once the engine has confirmed a clean
	// shutdown, mirroring the one-shot alerter in the original design.
	ShutdownAlert() <-chan struct{}
}

// ShutdownWait bounds how long the executor waits for the engine's
// shutdown alert after the kernel loop exits, before calling
// kernel.OnStop().
const ShutdownWait = 300 * time.Millisecond

// KernelExecutor drives a NetKernel against an Engine's result stream
// until shutdown.
type KernelExecutor struct {
	engine Engine
	remote *Remote
	kernel NetKernel
	log    logger.Logger
}

// NewKernelExecutor builds an executor over an already-constructed
// engine and remote handle.
func NewKernelExecutor(engine Engine, remote *Remote, kernel NetKernel, log logger.Logger) *KernelExecutor {
	return &KernelExecutor{engine: engine, remote: remote, kernel: kernel, log: log.WithComponent("kernel")}
}

// Execute runs the kernel against the engine until either finishes or
// ctx is cancelled. It is meant to be called once.
func (e *KernelExecutor) Execute(ctx context.Context) error {
	if err := e.kernel.OnStart(e.remote); err != nil {
		return fmt.Errorf("kernel: on_start: %w", err)
	}

	engineCtx, cancelEngine := context.WithCancel(ctx)
	defer cancelEngine()

	engineErrCh := make(chan error, 1)
	go func() { engineErrCh <- e.engine.Run(engineCtx) }()

	kernelErrCh := make(chan error, 1)
	go func() { kernelErrCh <- e.kernelLoop(ctx) }()

	var ret error
	select {
	case ret = <-engineErrCh:
	case ret = <-kernelErrCh:
		cancelEngine()
	}

	e.log.Info("kernel executor waiting for shutdown confirmation")
	select {
	case <-e.engine.ShutdownAlert():
	case <-time.After(ShutdownWait):
	}

	if stopErr := e.kernel.OnStop(); stopErr != nil {
		if ret == nil {
			ret = fmt.Errorf("kernel: on_stop: %w", stopErr)
		} else {
			e.log.Error("on_stop failed after prior error", logger.Error(stopErr))
		}
	}

	if errors.Is(ret, ErrProperShutdown) {
		return ErrProperShutdown
	}
	return ret
}

// kernelLoop consumes engine results with unordered concurrency,
// dispatching each message in its own goroutine so a slow consumer
// does not block the reader (spec.md 4.E.3). The number of in-flight
// dispatches is not bounded.
func (e *KernelExecutor) kernelLoop(ctx context.Context) error {
	var wg sync.WaitGroup
	dispatchErrCh := make(chan error, 1)

	defer wg.Wait()

	for {
		select {
		case msg, ok := <-e.engine.Results():
			if !ok {
				return nil
			}

			if msg.Kind == ResultShutdown {
				e.log.Info("kernel received safe shutdown signal")
				return ErrProperShutdown
			}
			if !e.kernel.CanRun() {
				return ErrProperShutdown
			}

			wg.Add(1)
			go func(msg HdpServerResult) {
				defer wg.Done()
				if err := e.kernel.OnServerMessageReceived(msg); err != nil {
					e.log.Error("kernel threw an error, ending", logger.Error(err))
					if shutErr := e.remote.Shutdown(); shutErr != nil {
						e.log.Error("failed to request engine shutdown", logger.Error(shutErr))
					}
					select {
					case dispatchErrCh <- &InternalError{Err: err}:
					default:
					}
				}
			}(msg)

		case err := <-dispatchErrCh:
			return err

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
