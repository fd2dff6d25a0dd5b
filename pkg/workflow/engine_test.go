package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/veloflow/veloflow/pkg/breaker"
	"github.com/veloflow/veloflow/pkg/conditions"
	"github.com/veloflow/veloflow/pkg/eventbus"
	"github.com/veloflow/veloflow/pkg/events"
	"github.com/veloflow/veloflow/pkg/mocks"
	"github.com/veloflow/veloflow/pkg/models"
	"github.com/veloflow/veloflow/pkg/persistence"
	"github.com/veloflow/veloflow/pkg/persistence/memory"
	"github.com/veloflow/veloflow/pkg/protocol"
	"github.com/veloflow/veloflow/pkg/registry"
	"github.com/veloflow/veloflow/pkg/retry"
)

type stubAction struct {
	fn func(ctx context.Context, execCtx models.ExecutionContext) (any, error)
}

func (a stubAction) Execute(ctx context.Context, execCtx models.ExecutionContext, _ *slog.Logger) (any, error) {
	return a.fn(ctx, execCtx)
}

type stubFactory struct {
	id string
	fn func(ctx context.Context, execCtx models.ExecutionContext) (any, error)
}

func (f stubFactory) Create(_ map[string]any) (protocol.Action, error) {
	return stubAction{fn: f.fn}, nil
}

func (f stubFactory) ID() string             { return f.id }
func (f stubFactory) Schema() map[string]any { return nil }

type capturingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *capturingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)

	return nil
}

func (b *capturingBus) Handle(events.EventType, eventbus.EventHandler) error { return nil }
func (b *capturingBus) Subscribe(context.Context) error                      { return nil }
func (b *capturingBus) Close() error                                         { return nil }
func (b *capturingBus) GenerateID() string                                   { return uuid.New().String() }

func (b *capturingBus) byType(eventType events.EventType) []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []eventbus.Event

	for _, event := range b.events {
		if event.GetType() == eventType {
			out = append(out, event)
		}
	}

	return out
}

type engineFixture struct {
	engine *Engine
	store  persistence.Persistence
	bus    *capturingBus
}

func newEngineFixture(t *testing.T, factories ...protocol.ActionFactory) *engineFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(&testWriter{t: t}, nil))

	reg := registry.NewRegistry(logger)
	for _, factory := range factories {
		reg.RegisterAction(factory)
	}

	evaluator, err := conditions.NewEvaluator(128, logger)
	require.NoError(t, err)

	store := memory.NewPersistence()
	bus := &capturingBus{}
	retrier := retry.NewCoordinator(breaker.NewRegistry(5, 0, logger), logger)

	return &engineFixture{
		engine: NewEngine(store, reg, evaluator, retrier, bus, logger),
		store:  store,
		bus:    bus,
	}
}

type testWriter struct{ t *testing.T }

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))

	return len(p), nil
}

func intPtr(v int) *int { return &v }

func actionStep(id string, actionType string, next ...string) *models.Step {
	return &models.Step{
		ID:         id,
		Name:       "Step " + id,
		Kind:       models.StepKindAction,
		Action:     &models.ActionStepConfig{Type: actionType},
		Next:       next,
		MaxRetries: intPtr(0),
		Enabled:    true,
	}
}

func testWorkflow(steps ...*models.Step) *models.Workflow {
	return &models.Workflow{
		ID:      "wf-" + uuid.New().String()[:8],
		Name:    "Order Processing",
		Status:  models.WorkflowStatusActive,
		OwnerID: "org-1",
		Steps:   steps,
	}
}

func TestEngineRunCompletes(t *testing.T) {
	fix := newEngineFixture(t,
		stubFactory{id: "emit", fn: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			return map[string]any{"value": 42}, nil
		}},
	)

	wf := testWorkflow(
		actionStep("first", "emit", "second"),
		actionStep("second", "emit"),
	)
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	executionID, err := fix.engine.Run(context.Background(), wf.ID, map[string]any{"source": "test"}, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, executionID)

	record, err := fix.store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)
	assert.NotNil(t, record.CompletedAt)
	assert.Empty(t, record.Error)

	_, err = fix.store.CheckpointByExecutionID(context.Background(), executionID)
	assert.True(t, persistence.IsNotFound(err), "checkpoint should be removed on completion")

	assert.Len(t, fix.bus.byType(events.ExecutionStartedEvent), 1)
	assert.Len(t, fix.bus.byType(events.ExecutionCompletedEvent), 1)
}

func TestEngineRunUnknownWorkflow(t *testing.T) {
	fix := newEngineFixture(t)

	_, err := fix.engine.Run(context.Background(), "missing", nil, "user-1")
	require.Error(t, err)
	assert.True(t, persistence.IsNotFound(err))
}

func TestEngineRunInactiveWorkflow(t *testing.T) {
	fix := newEngineFixture(t)

	wf := testWorkflow(actionStep("only", "emit"))
	wf.Status = models.WorkflowStatusDraft
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	_, err := fix.engine.Run(context.Background(), wf.ID, nil, "user-1")
	require.ErrorIs(t, err, ErrWorkflowInactive)
}

func TestEngineConditionBranching(t *testing.T) {
	tests := []struct {
		name         string
		amount       any
		expectedStep string
		skippedStep  string
	}{
		{name: "then branch", amount: 150, expectedStep: "approve", skippedStep: "reject"},
		{name: "else branch", amount: 50, expectedStep: "reject", skippedStep: "approve"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executed := make(map[string]bool)

			var mu sync.Mutex

			fix := newEngineFixture(t,
				stubFactory{id: "mark", fn: func(_ context.Context, execCtx models.ExecutionContext) (any, error) {
					mu.Lock()
					defer mu.Unlock()
					executed[execCtx.CurrentStepID] = true

					return "done", nil
				}},
			)

			wf := testWorkflow(
				&models.Step{
					ID:   "gate",
					Name: "Amount gate",
					Kind: models.StepKindCondition,
					Condition: &models.ConditionStepConfig{
						Condition: models.Condition{
							Kind:     models.ConditionKindField,
							Field:    "trigger.amount",
							Operator: models.OperatorGreaterThan,
							Operand:  100,
						},
						Then: []string{"approve"},
						Else: []string{"reject"},
					},
					Enabled: true,
				},
				actionStep("approve", "mark"),
				actionStep("reject", "mark"),
			)
			require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

			executionID, err := fix.engine.Run(context.Background(), wf.ID, map[string]any{"amount": tt.amount}, "user-1")
			require.NoError(t, err)

			record, err := fix.store.ExecutionByID(context.Background(), executionID)
			require.NoError(t, err)
			assert.Equal(t, models.ExecutionStatusCompleted, record.Status)

			assert.True(t, executed[tt.expectedStep])
			assert.False(t, executed[tt.skippedStep], "taken branch must not fall through to the other")
		})
	}
}

func TestEngineErrorPolicies(t *testing.T) {
	tests := []struct {
		name           string
		policy         models.ErrorPolicy
		expectedStatus models.ExecutionStatus
		afterRuns      bool
		notifications  int
	}{
		{name: "stop aborts", policy: models.ErrorPolicyStop, expectedStatus: models.ExecutionStatusFailed},
		{name: "continue advances", policy: models.ErrorPolicyContinue, expectedStatus: models.ExecutionStatusCompleted, afterRuns: true},
		{name: "notify publishes then aborts", policy: models.ErrorPolicyNotify, expectedStatus: models.ExecutionStatusFailed, notifications: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			afterRan := false

			fix := newEngineFixture(t,
				stubFactory{id: "fail", fn: func(_ context.Context, _ models.ExecutionContext) (any, error) {
					return nil, errors.New("boom")
				}},
				stubFactory{id: "after", fn: func(_ context.Context, _ models.ExecutionContext) (any, error) {
					afterRan = true

					return "ok", nil
				}},
			)

			failing := actionStep("failing", "fail", "tail")
			failing.OnError = tt.policy

			wf := testWorkflow(failing, actionStep("tail", "after"))
			require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

			executionID, err := fix.engine.Run(context.Background(), wf.ID, nil, "user-1")
			require.NoError(t, err)

			record, err := fix.store.ExecutionByID(context.Background(), executionID)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, record.Status)
			assert.Equal(t, tt.afterRuns, afterRan)
			assert.Len(t, fix.bus.byType(events.StepNotificationEvent), tt.notifications)

			if tt.expectedStatus == models.ExecutionStatusFailed {
				assert.Equal(t, "failing", record.FailedStepID)
				assert.Contains(t, record.Error, "boom")
			}
		})
	}
}

func TestEngineDisabledStepSkipped(t *testing.T) {
	fix := newEngineFixture(t,
		stubFactory{id: "emit", fn: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			return "ok", nil
		}},
	)

	disabled := actionStep("disabled", "emit", "tail")
	disabled.Enabled = false

	wf := testWorkflow(disabled, actionStep("tail", "emit"))
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	executionID, err := fix.engine.Run(context.Background(), wf.ID, nil, "user-1")
	require.NoError(t, err)

	record, err := fix.store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)
}

func TestEngineResumeRequiresPausedExecution(t *testing.T) {
	fix := newEngineFixture(t,
		stubFactory{id: "emit", fn: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			return "ok", nil
		}},
	)

	wf := testWorkflow(actionStep("only", "emit"))
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	executionID, err := fix.engine.Run(context.Background(), wf.ID, nil, "user-1")
	require.NoError(t, err)

	err = fix.engine.Resume(context.Background(), executionID)
	require.ErrorIs(t, err, ErrNotResumable)
}

func TestEngineResumeFromCheckpoint(t *testing.T) {
	fix := newEngineFixture(t,
		stubFactory{id: "emit", fn: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			return "ok", nil
		}},
	)

	wf := testWorkflow(actionStep("first", "emit", "second"), actionStep("second", "emit"))
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	// A paused record plus its checkpoint, as the driver leaves them at a
	// step boundary.
	record := &models.ExecutionRecord{
		ID:         "exec-paused1",
		WorkflowID: wf.ID,
		TenantID:   wf.OwnerID,
		Status:     models.ExecutionStatusPaused,
	}
	require.NoError(t, fix.store.SaveExecution(context.Background(), record))

	execCtx := &models.ExecutionContext{
		ID:            record.ID,
		WorkflowID:    wf.ID,
		TenantID:      wf.OwnerID,
		Variables:     map[string]any{},
		StepResults:   map[string]any{"first": "ok"},
		CurrentStepID: "first",
		Cursor:        1,
	}
	require.NoError(t, fix.store.SaveCheckpoint(context.Background(), &models.Checkpoint{
		ExecutionID: record.ID,
		WorkflowID:  wf.ID,
		Context:     execCtx,
		NextStepIDs: []string{"second"},
	}))

	require.NoError(t, fix.engine.Resume(context.Background(), record.ID))

	stored, err := fix.store.ExecutionByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)
	assert.Len(t, fix.bus.byType(events.ExecutionResumedEvent), 1)
}

func TestEngineCancelWritesTerminalRecord(t *testing.T) {
	fix := newEngineFixture(t)

	record := &models.ExecutionRecord{
		ID:         "exec-running1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusRunning,
	}
	require.NoError(t, fix.store.SaveExecution(context.Background(), record))

	require.NoError(t, fix.engine.Cancel(context.Background(), record.ID))

	stored, err := fix.store.ExecutionByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	// Terminal records reject further cancellation.
	require.Error(t, fix.engine.Cancel(context.Background(), record.ID))
}

func TestEngineParallelJoinsOneOutcomePerFork(t *testing.T) {
	fix := newEngineFixture(t,
		stubFactory{id: "emit", fn: func(_ context.Context, execCtx models.ExecutionContext) (any, error) {
			return "result-" + execCtx.CurrentStepID, nil
		}},
	)

	branchA := actionStep("branch-a", "emit")
	branchB := actionStep("branch-b", "emit")
	branchC := actionStep("branch-c", "emit")

	wf := testWorkflow(
		&models.Step{
			ID:       "fanout",
			Name:     "Fan out",
			Kind:     models.StepKindParallel,
			Parallel: &models.ParallelStepConfig{Steps: []string{"branch-a", "branch-b", "branch-c"}},
			Enabled:  true,
		},
		branchA, branchB, branchC,
	)
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	executionID, err := fix.engine.Run(context.Background(), wf.ID, nil, "user-1")
	require.NoError(t, err)

	record, err := fix.store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, record.Status)

	checkpointless, err := fix.store.CheckpointByExecutionID(context.Background(), executionID)
	assert.Nil(t, checkpointless)
	assert.Error(t, err)
}

func TestEngineParallelSiblingIsolation(t *testing.T) {
	var succeeded sync.Map

	fix := newEngineFixture(t,
		stubFactory{id: "ok", fn: func(_ context.Context, execCtx models.ExecutionContext) (any, error) {
			succeeded.Store(execCtx.CurrentStepID, true)

			return "ok", nil
		}},
		stubFactory{id: "fail", fn: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			return nil, errors.New("branch down")
		}},
	)

	failing := actionStep("flaky", "fail")
	failing.OnError = models.ErrorPolicyContinue

	wf := testWorkflow(
		&models.Step{
			ID:       "fanout",
			Name:     "Fan out",
			Kind:     models.StepKindParallel,
			Parallel: &models.ParallelStepConfig{Steps: []string{"left", "flaky", "right"}},
			Enabled:  true,
		},
		actionStep("left", "ok"),
		failing,
		actionStep("right", "ok"),
	)
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	executionID, err := fix.engine.Run(context.Background(), wf.ID, nil, "user-1")
	require.NoError(t, err)

	record, err := fix.store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status,
		"failed branch with continue policy must not abort the run")

	_, leftRan := succeeded.Load("left")
	_, rightRan := succeeded.Load("right")
	assert.True(t, leftRan, "sibling must run despite failing branch")
	assert.True(t, rightRan, "sibling must run despite failing branch")
}

func TestEngineParallelStopPolicyFailsRun(t *testing.T) {
	fix := newEngineFixture(t,
		stubFactory{id: "ok", fn: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			return "ok", nil
		}},
		stubFactory{id: "fail", fn: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			return nil, errors.New("branch down")
		}},
	)

	wf := testWorkflow(
		&models.Step{
			ID:       "fanout",
			Name:     "Fan out",
			Kind:     models.StepKindParallel,
			Parallel: &models.ParallelStepConfig{Steps: []string{"left", "broken"}},
			Enabled:  true,
		},
		actionStep("left", "ok"),
		actionStep("broken", "fail"),
	)
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	executionID, err := fix.engine.Run(context.Background(), wf.ID, nil, "user-1")
	require.NoError(t, err)

	record, err := fix.store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	assert.Contains(t, record.Error, "broken")
}

func TestEngineLoopIterates(t *testing.T) {
	var processed []any

	var mu sync.Mutex

	fix := newEngineFixture(t,
		stubFactory{id: "collect", fn: func(_ context.Context, execCtx models.ExecutionContext) (any, error) {
			mu.Lock()
			defer mu.Unlock()

			item, _ := execCtx.Lookup("vars.item")
			processed = append(processed, item)

			return item, nil
		}},
	)

	wf := testWorkflow(
		&models.Step{
			ID:   "each",
			Name: "For each item",
			Kind: models.StepKindLoop,
			Loop: &models.LoopStepConfig{
				Items:         []any{"a", "b", "c"},
				Body:          []string{"collect"},
				MaxIterations: 10,
			},
			Enabled: true,
		},
		actionStep("collect", "collect"),
	)
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	executionID, err := fix.engine.Run(context.Background(), wf.ID, nil, "user-1")
	require.NoError(t, err)

	record, err := fix.store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusCompleted, record.Status)

	assert.Equal(t, []any{"a", "b", "c"}, processed, "iterations run in input order")
}

func TestEngineLoopBoundCheckedBeforeIteration(t *testing.T) {
	invocations := 0

	fix := newEngineFixture(t,
		stubFactory{id: "count", fn: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			invocations++

			return "ok", nil
		}},
	)

	wf := testWorkflow(
		&models.Step{
			ID:   "each",
			Name: "For each item",
			Kind: models.StepKindLoop,
			Loop: &models.LoopStepConfig{
				Items:         []any{1, 2, 3, 4, 5},
				Body:          []string{"count"},
				MaxIterations: 2,
			},
			Enabled: true,
		},
		actionStep("count", "count"),
	)
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	executionID, err := fix.engine.Run(context.Background(), wf.ID, nil, "user-1")
	require.NoError(t, err)

	record, err := fix.store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	assert.Contains(t, record.Error, "exceeds limit")
	assert.Zero(t, invocations, "bound violation must fail before any iteration runs")
}

func TestEngineLoopContinueOnErrorRecordsFailure(t *testing.T) {
	fix := newEngineFixture(t,
		stubFactory{id: "flaky", fn: func(_ context.Context, execCtx models.ExecutionContext) (any, error) {
			item, _ := execCtx.Lookup("vars.item")
			if item == "bad" {
				return nil, fmt.Errorf("cannot process %v", item)
			}

			return item, nil
		}},
	)

	wf := testWorkflow(
		&models.Step{
			ID:   "each",
			Name: "For each item",
			Kind: models.StepKindLoop,
			Loop: &models.LoopStepConfig{
				Items:           []any{"good", "bad", "also-good"},
				Body:            []string{"process"},
				MaxIterations:   10,
				ContinueOnError: true,
			},
			Enabled: true,
		},
		actionStep("process", "flaky"),
	)
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	executionID, err := fix.engine.Run(context.Background(), wf.ID, nil, "user-1")
	require.NoError(t, err)

	record, err := fix.store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status,
		"continue_on_error records the failure and keeps iterating")
}

func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		from    models.ExecutionStatus
		trigger string
		want    models.ExecutionStatus
		wantErr bool
	}{
		{from: models.ExecutionStatusPending, trigger: triggerStart, want: models.ExecutionStatusRunning},
		{from: models.ExecutionStatusPending, trigger: triggerCancel, want: models.ExecutionStatusCancelled},
		{from: models.ExecutionStatusRunning, trigger: triggerComplete, want: models.ExecutionStatusCompleted},
		{from: models.ExecutionStatusRunning, trigger: triggerFail, want: models.ExecutionStatusFailed},
		{from: models.ExecutionStatusRunning, trigger: triggerPause, want: models.ExecutionStatusPaused},
		{from: models.ExecutionStatusPaused, trigger: triggerResume, want: models.ExecutionStatusRunning},
		{from: models.ExecutionStatusCompleted, trigger: triggerFail, wantErr: true},
		{from: models.ExecutionStatusCancelled, trigger: triggerStart, wantErr: true},
		{from: models.ExecutionStatusFailed, trigger: triggerResume, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+tt.trigger, func(t *testing.T) {
			got, err := transition(tt.from, tt.trigger)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngineActionAttemptsBoundedByStepMaxRetries(t *testing.T) {
	attempts := 0
	fix := newEngineFixture(t,
		stubFactory{id: "flaky", fn: func(_ context.Context, _ models.ExecutionContext) (any, error) {
			attempts++

			return nil, &retry.HTTPError{StatusCode: 503, Body: "upstream unavailable"}
		}},
	)

	step := actionStep("call", "flaky")
	step.MaxRetries = intPtr(3)

	wf := testWorkflow(step)
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	executionID, err := fix.engine.Run(context.Background(), wf.ID, nil, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	record, err := fix.store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	assert.Contains(t, record.Error, "http status 503")
	assert.Equal(t, "call", record.FailedStepID)
}

func TestEnginePauseCheckpointsAndResumes(t *testing.T) {
	var fix *engineFixture

	fix = newEngineFixture(t,
		stubFactory{id: "emit", fn: func(_ context.Context, execCtx models.ExecutionContext) (any, error) {
			if execCtx.CurrentStepID == "first" {
				require.NoError(t, fix.engine.Pause(context.Background(), execCtx.ID))
			}

			return "ok", nil
		}},
	)

	wf := testWorkflow(actionStep("first", "emit", "second"), actionStep("second", "emit"))
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	executionID, err := fix.engine.Run(context.Background(), wf.ID, nil, "user-1")
	require.NoError(t, err)

	record, err := fix.store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, record.Status)

	checkpoint, err := fix.store.CheckpointByExecutionID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, checkpoint.NextStepIDs)
	assert.Len(t, fix.bus.byType(events.ExecutionPausedEvent), 1)

	require.NoError(t, fix.engine.Resume(context.Background(), executionID))

	record, err = fix.store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)
	assert.Len(t, fix.bus.byType(events.ExecutionResumedEvent), 1)

	_, err = fix.store.CheckpointByExecutionID(context.Background(), executionID)
	assert.ErrorIs(t, err, persistence.ErrCheckpointNotFound)
}

func TestEngineRunWithTimeoutFailsExpiredRun(t *testing.T) {
	fix := newEngineFixture(t,
		stubFactory{id: "slow", fn: func(ctx context.Context, _ models.ExecutionContext) (any, error) {
			<-ctx.Done()

			return nil, ctx.Err()
		}},
	)

	stall := actionStep("stall", "slow", "after")
	stall.OnError = models.ErrorPolicyContinue

	wf := testWorkflow(stall, actionStep("after", "slow"))
	require.NoError(t, fix.store.SaveWorkflow(context.Background(), wf))

	executionID, err := fix.engine.RunWithTimeout(context.Background(), wf.ID, nil, "user-1", 30*time.Millisecond)
	require.NoError(t, err)

	record, err := fix.store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	assert.Equal(t, "execution timed out", record.Error)
	assert.NotNil(t, record.CompletedAt)

	// One terminal write: the driver alone owns the record on expiry.
	assert.Len(t, fix.bus.byType(events.ExecutionFailedEvent), 1)

	_, err = fix.store.CheckpointByExecutionID(context.Background(), executionID)
	assert.ErrorIs(t, err, persistence.ErrCheckpointNotFound)
}

func TestEngineToleratesEventBusFailures(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(stubFactory{id: "emit", fn: func(_ context.Context, _ models.ExecutionContext) (any, error) {
		return "ok", nil
	}})

	evaluator, err := conditions.NewEvaluator(128, logger)
	require.NoError(t, err)

	store := memory.NewPersistence()
	bus := new(mocks.MockEventBus)
	bus.On("GenerateID").Return(uuid.New().String())
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker unavailable"))

	retrier := retry.NewCoordinator(breaker.NewRegistry(5, 0, logger), logger)
	engine := NewEngine(store, reg, evaluator, retrier, bus, logger)

	wf := testWorkflow(actionStep("only", "emit"))
	require.NoError(t, store.SaveWorkflow(context.Background(), wf))

	executionID, err := engine.Run(context.Background(), wf.ID, nil, "user-1")
	require.NoError(t, err)

	record, err := store.ExecutionByID(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)
	bus.AssertCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}
