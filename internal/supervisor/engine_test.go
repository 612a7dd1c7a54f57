package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStart and fakeManage are testify/mock doubles standing in for
// the Rust implementation's mockall::automock doubles (see
// original_source/src/lib.rs's MockStartProcess/MockManageProcess).
// A shared *sequence records call order across both, playing the
// role of the original's mockall::Sequence oracle (spec.md § 9).

type sequence struct{ calls []string }

func (s *sequence) record(event string) { s.calls = append(s.calls, event) }

type fakeStart struct {
	mock.Mock
	name string
	seq  *sequence
}

func (f *fakeStart) Name() string { return f.name }

func (f *fakeStart) Start(ctx context.Context, notify chan<- struct{}) (ManageProcess, error) {
	f.seq.record("start:" + f.name)
	args := f.Called(ctx, notify)
	var mp ManageProcess
	if v := args.Get(0); v != nil {
		mp = v.(ManageProcess)
	}
	return mp, args.Error(1)
}

type fakeManage struct {
	mock.Mock
	name string
	seq  *sequence
}

func (f *fakeManage) Stop(ctx context.Context) error {
	f.seq.record("stop:" + f.name)
	args := f.Called(ctx)
	return args.Error(0)
}

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	log, err := zap.NewDevelopment()
	require.NoError(t, err)
	return log
}

// S1: happy path — specs [A, B, C] all start; external shutdown fires;
// expect start order A,B,C and stop order C,B,A; result ok.
func TestRun_HappyPath(t *testing.T) {
	seq := &sequence{}
	a := &fakeStart{name: "a", seq: seq}
	b := &fakeStart{name: "b", seq: seq}
	c := &fakeStart{name: "c", seq: seq}
	ma := &fakeManage{name: "a", seq: seq}
	mb := &fakeManage{name: "b", seq: seq}
	mc := &fakeManage{name: "c", seq: seq}

	a.On("Start", mock.Anything, mock.Anything).Return(ManageProcess(ma), nil).Once()
	b.On("Start", mock.Anything, mock.Anything).Return(ManageProcess(mb), nil).Once()
	c.On("Start", mock.Anything, mock.Anything).Return(ManageProcess(mc), nil).Once()
	ma.On("Stop", mock.Anything).Return(nil).Once()
	mb.On("Stop", mock.Anything).Return(nil).Once()
	mc.On("Stop", mock.Anything).Return(nil).Once()

	shutdown := make(chan struct{}, 1)
	shutdown <- struct{}{}

	err := Run(context.Background(), testLogger(t), []Named{a, b, c}, shutdown)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start:a", "start:b", "start:c",
		"stop:c", "stop:b", "stop:a",
	}, seq.calls)

	a.AssertExpectations(t)
	b.AssertExpectations(t)
	c.AssertExpectations(t)
	ma.AssertExpectations(t)
	mb.AssertExpectations(t)
	mc.AssertExpectations(t)
}

// S2: first-start failure — specs [A]; A's start fails; no stops;
// result is A's error.
func TestRun_FirstStartFailure(t *testing.T) {
	seq := &sequence{}
	a := &fakeStart{name: "a", seq: seq}
	wantErr := &StartProcessError{Kind: PreRunFailed, Process: "a"}
	a.On("Start", mock.Anything, mock.Anything).Return(nil, wantErr).Once()

	shutdown := make(chan struct{})
	err := Run(context.Background(), testLogger(t), []Named{a}, shutdown)

	require.Equal(t, wantErr, err)
	assert.Equal(t, []string{"start:a"}, seq.calls)
	a.AssertExpectations(t)
}

// S3: mid-sequence failure — specs [A, B, C]; A succeeds, B fails, C
// is never touched; expect starts A,B; stop A only; result B's error.
func TestRun_MidSequenceFailure(t *testing.T) {
	seq := &sequence{}
	a := &fakeStart{name: "a", seq: seq}
	b := &fakeStart{name: "b", seq: seq}
	c := &fakeStart{name: "c", seq: seq}
	ma := &fakeManage{name: "a", seq: seq}

	a.On("Start", mock.Anything, mock.Anything).Return(ManageProcess(ma), nil).Once()
	wantErr := &StartProcessError{Kind: PreRunFailed, Process: "b"}
	b.On("Start", mock.Anything, mock.Anything).Return(nil, wantErr).Once()
	ma.On("Stop", mock.Anything).Return(nil).Once()

	shutdown := make(chan struct{})
	err := Run(context.Background(), testLogger(t), []Named{a, b, c}, shutdown)

	require.Equal(t, wantErr, err)
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, seq.calls)
	a.AssertExpectations(t)
	b.AssertExpectations(t)
	ma.AssertExpectations(t)
	c.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

// S4: daemon dies during steady state — specs [A, B]; both start; B's
// launcher emits an exit notification before external shutdown fires;
// expect stop order B,A; result ok.
func TestRun_ChildExitTriggersTeardown(t *testing.T) {
	seq := &sequence{}
	a := &fakeStart{name: "a", seq: seq}
	b := &fakeStart{name: "b", seq: seq}
	ma := &fakeManage{name: "a", seq: seq}
	mb := &fakeManage{name: "b", seq: seq}

	a.On("Start", mock.Anything, mock.Anything).Return(ManageProcess(ma), nil).Once()
	b.On("Start", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			notify := args.Get(1).(chan<- struct{})
			go func() { notify <- struct{}{} }()
		}).
		Return(ManageProcess(mb), nil).Once()
	ma.On("Stop", mock.Anything).Return(nil).Once()
	mb.On("Stop", mock.Anything).Return(nil).Once()

	// Never closed/sent: the child exit must win the race, not this.
	shutdown := make(chan struct{})

	err := Run(context.Background(), testLogger(t), []Named{a, b}, shutdown)
	require.NoError(t, err)
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, seq.calls)
}

// S5: empty spec list — closing external shutdown yields ok with no
// starts and no stops.
func TestRun_EmptySpecList(t *testing.T) {
	shutdown := make(chan struct{})
	close(shutdown)

	err := Run(context.Background(), testLogger(t), nil, shutdown)
	require.NoError(t, err)
}

// Closing (not sending on) external shutdown is an equally valid
// trigger (spec.md property 5).
func TestRun_ClosedShutdownChannelTriggersTeardown(t *testing.T) {
	seq := &sequence{}
	a := &fakeStart{name: "a", seq: seq}
	ma := &fakeManage{name: "a", seq: seq}
	a.On("Start", mock.Anything, mock.Anything).Return(ManageProcess(ma), nil).Once()
	ma.On("Stop", mock.Anything).Return(nil).Once()

	shutdown := make(chan struct{})
	close(shutdown)

	err := Run(context.Background(), testLogger(t), []Named{a}, shutdown)
	require.NoError(t, err)
	assert.Equal(t, []string{"start:a", "stop:a"}, seq.calls)
}

// S6: rollback drain — specs [A, B]; A starts and (when stopped)
// emits a spurious exit notification; B fails to start; expect A
// stopped, engine still returns B's error, and no goroutine blocks
// trying to deliver that spurious notification (this would show up
// as the test hanging/timing out, not as an assertion failure).
func TestRun_RollbackDrainsSpuriousNotifications(t *testing.T) {
	seq := &sequence{}
	a := &fakeStart{name: "a", seq: seq}
	b := &fakeStart{name: "b", seq: seq}
	ma := &fakeManage{name: "a", seq: seq}

	var aNotify chan<- struct{}
	a.On("Start", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { aNotify = args.Get(1).(chan<- struct{}) }).
		Return(ManageProcess(ma), nil).Once()
	wantErr := &StartProcessError{Kind: RunFailed, Process: "b"}
	b.On("Start", mock.Anything, mock.Anything).Return(nil, wantErr).Once()
	ma.On("Stop", mock.Anything).
		Run(func(args mock.Arguments) {
			// A spurious "exit" notification fired by A's own
			// reaper goroutine as a side effect of being stopped.
			select {
			case aNotify <- struct{}{}:
			default:
			}
		}).
		Return(nil).Once()

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), testLogger(t), []Named{a, b}, make(chan struct{}))
	}()

	select {
	case err := <-done:
		require.Equal(t, wantErr, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return: rollback drain likely blocked on a stray notification")
	}

	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, seq.calls)
}

// Multiple near-simultaneous triggers: a second child-exit
// notification arriving after the first must not cause a second
// teardown pass or any panic (spec.md property 6 / tie-break rule).
func TestRun_SecondNotificationIsIgnored(t *testing.T) {
	seq := &sequence{}
	a := &fakeStart{name: "a", seq: seq}
	ma := &fakeManage{name: "a", seq: seq}

	var notifyCh chan<- struct{}
	a.On("Start", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			notifyCh = args.Get(1).(chan<- struct{})
			go func() {
				notifyCh <- struct{}{}
				notifyCh <- struct{}{}
			}()
		}).
		Return(ManageProcess(ma), nil).Once()
	ma.On("Stop", mock.Anything).Return(nil).Once()

	err := Run(context.Background(), testLogger(t), []Named{a}, make(chan struct{}))
	require.NoError(t, err)
	ma.AssertNumberOfCalls(t, "Stop", 1)
}
