package supervisor

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run drives the engine described in spec.md § 4.1: start every spec
// in order, wait for the first shutdown trigger (external, or an
// unexpected child exit), then stop everything in reverse order.
//
// specs is a finite ordered sequence of StartProcess capabilities.
// externalShutdown yields at most one notification and may also be
// closed at any time — either is a valid shutdown request. Run
// returns the first StartProcessError encountered during startup,
// unchanged, after rollback completes; otherwise nil.
func Run(ctx context.Context, log *zap.Logger, specs []Named, externalShutdown <-chan struct{}) error {
	runID := uuid.New().String()
	log = log.With(zap.String("run_id", runID))

	// The trigger channel fans in three kinds of event: external
	// shutdown, an unexpected daemon exit, and (indirectly) startup
	// abort. Every live handle's reaper goroutine and the shutdown
	// bridge below send into it; the engine is the sole reader.
	//
	// Go channels aren't reference-counted the way the originating
	// Rust mpsc channel is, so there is no "last sender dropped, the
	// channel closed itself" moment to key off of here. Instead the
	// buffer is sized so every possible sender (one per handle, plus
	// the bridge) can always send without blocking, and the engine
	// simply never closes this channel — it drains whatever is
	// sitting in the buffer and then abandons it.
	trigger := make(chan struct{}, len(specs)+1)

	running := make([]ManageProcess, 0, len(specs))
	runningNames := make([]string, 0, len(specs))

	for _, spec := range specs {
		mp, err := spec.Start(ctx, trigger)
		if err != nil {
			log.Error("failed to start process; aborting startup",
				zap.String("process", spec.Name()), zap.Error(err))
			rollback(ctx, log, running, runningNames)
			drain(trigger)
			log.Error("startup aborted", zap.String("process", spec.Name()))
			return err
		}
		running = append(running, mp)
		runningNames = append(runningNames, spec.Name())
	}

	bridgeCtx, cancelBridge := context.WithCancel(ctx)
	defer cancelBridge()
	g, _ := errgroup.WithContext(bridgeCtx)
	g.Go(func() error {
		// Both receiving a value and the channel closing are valid
		// shutdown requests (spec.md § 3, § 4.1 step 3).
		select {
		case <-externalShutdown:
		case <-bridgeCtx.Done():
			return nil
		}
		select {
		case trigger <- struct{}{}:
		default:
		}
		return nil
	})

	log.Info("startup phase completed; waiting for shutdown signal or any process to exit",
		zap.Int("process_count", len(running)))

	// First trigger wins: read exactly once. The receiver cannot
	// spuriously wake with nothing to read while any handle is live,
	// because every handle and the bridge above hold a path to send.
	<-trigger

	log.Info("shutting down")
	teardown(ctx, log, running, runningNames)

	cancelBridge()
	_ = g.Wait()

	log.Info("all processes have exited")
	return nil
}

// rollback stops every already-started handle, LIFO, used when
// startup fails mid-sequence. Stop errors are logged, never
// propagated — the original start error is what the caller returns.
func rollback(ctx context.Context, log *zap.Logger, running []ManageProcess, names []string) {
	for i := len(running) - 1; i >= 0; i-- {
		if err := running[i].Stop(ctx); err != nil {
			log.Error("error stopping process after aborted startup",
				zap.String("process", names[i]), zap.Error(err))
		}
	}
}

// teardown stops every handle, LIFO, in the steady-state shutdown
// path. Stop errors are logged, never propagated.
func teardown(ctx context.Context, log *zap.Logger, running []ManageProcess, names []string) {
	for i := len(running) - 1; i >= 0; i-- {
		if err := running[i].Stop(ctx); err != nil {
			log.Error("error stopping process", zap.String("process", names[i]), zap.Error(err))
		}
	}
}

// drain discards any notifications already sitting in trigger,
// non-blockingly. It runs after rollback, before the engine returns,
// so that stray exit notifications from the processes just rolled
// back never appear after — or interleaved with — this run's final
// log lines (spec.md § 9).
func drain(trigger chan struct{}) {
	for {
		select {
		case <-trigger:
		default:
			return
		}
	}
}
