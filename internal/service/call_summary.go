package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
	apperrors "github.com/target/listing-relay/internal/errors"
)

// ErrCallSummaryInProgress is returned when another emission for the same call holds the guard.
var ErrCallSummaryInProgress = errors.New("call summary emission already in progress")

const defaultCallSummaryGuardTTL = 30 * time.Second

// CallSummaryServiceOptions groups dependencies for CallSummaryService.
type CallSummaryServiceOptions struct {
	Activities core.ActivityRepository // Required: activity idempotency records
	Events     core.EventPublisher     // Required: receives call.summary
	Guard      core.KeyGuard           // Optional: serializes concurrent emissions per call
	GuardTTL   time.Duration           // Optional: defaults to 30s
	Clock      core.TimeProvider       // Optional: defaults to the system clock
	Logger     *slog.Logger            // Optional: structured logger
}

// CallSummaryService records call summaries as CRM activities and emits call.summary once per call
// unless the caller forces a re-emission.
type CallSummaryService struct {
	activities core.ActivityRepository
	events     core.EventPublisher
	guard      core.KeyGuard
	guardTTL   time.Duration
	clock      core.TimeProvider
	logger     *slog.Logger
}

// NewCallSummaryService constructs a new CallSummaryService.
func NewCallSummaryService(opts CallSummaryServiceOptions) (*CallSummaryService, error) {
	if opts.Activities == nil {
		return nil, errors.New("ActivityRepository is required")
	}
	if opts.Events == nil {
		return nil, errors.New("EventPublisher is required")
	}
	ttl := opts.GuardTTL
	if ttl <= 0 {
		ttl = defaultCallSummaryGuardTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = core.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &CallSummaryService{
		activities: opts.Activities,
		events:     opts.Events,
		guard:      opts.Guard,
		guardTTL:   ttl,
		clock:      clock,
		logger:     logger.With("component", "call_summary_service"),
	}, nil
}

// Emit records the summary and publishes call.summary. An existing activity suppresses the
// event unless req.Force is set, in which case the payload is replaced and emit_count bumped.
func (s *CallSummaryService) Emit(ctx context.Context, req model.CallSummaryRequest) (model.CallSummaryResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return model.CallSummaryResult{}, apperrors.Invalid(err)
	}

	release, err := s.acquire(ctx, req.CallSID)
	if err != nil {
		return model.CallSummaryResult{}, err
	}
	defer release()

	activity, err := s.activities.FindByNaturalKey(ctx, model.ActivityTypeCallSummary, req.CallSID)
	switch {
	case errors.Is(err, model.ErrActivityNotFound):
		activity, err = s.create(ctx, req)
		if err != nil {
			return model.CallSummaryResult{}, err
		}
	case err != nil:
		return model.CallSummaryResult{}, fmt.Errorf("find call summary %s: %w", req.CallSID, err)
	case !req.Force:
		s.logger.DebugContext(ctx, "call summary already emitted", "call_sid", req.CallSID, "activity_id", activity.ID)
		return model.CallSummaryResult{Activity: activity, Emitted: false}, nil
	default:
		activity, err = s.activities.Reemit(ctx, activity.ID, req.Summary, s.clock.Now())
		if err != nil {
			return model.CallSummaryResult{}, fmt.Errorf("re-emit call summary %s: %w", req.CallSID, err)
		}
	}
	if activity == nil {
		// Lost a create race without force.
		existing, findErr := s.activities.FindByNaturalKey(ctx, model.ActivityTypeCallSummary, req.CallSID)
		if findErr != nil {
			return model.CallSummaryResult{}, fmt.Errorf("find call summary %s: %w", req.CallSID, findErr)
		}
		return model.CallSummaryResult{Activity: existing, Emitted: false}, nil
	}

	evt, err := model.NewEvent(model.EventCallSummary, model.CallSummaryPayload{
		ActivityID: activity.ID,
		CallSID:    activity.NaturalKey,
		Summary:    activity.Payload,
		EmitCount:  activity.EmitCount,
	}, s.clock.Now())
	if err != nil {
		return model.CallSummaryResult{}, fmt.Errorf("encode call.summary event: %w", err)
	}
	s.events.Publish(ctx, evt)

	s.logger.InfoContext(ctx, "call summary emitted",
		"call_sid", req.CallSID,
		"activity_id", activity.ID,
		"emit_count", activity.EmitCount,
		"forced", req.Force,
	)
	return model.CallSummaryResult{Activity: activity, Emitted: true}, nil
}

// create inserts the activity. On a natural-key conflict it re-emits when forced and
// otherwise returns a nil activity.
func (s *CallSummaryService) create(ctx context.Context, req model.CallSummaryRequest) (*model.Activity, error) {
	now := s.clock.Now()
	activity, err := s.activities.Create(ctx, model.CreateActivityParams{
		ID:         uuid.NewString(),
		Type:       model.ActivityTypeCallSummary,
		NaturalKey: req.CallSID,
		Payload:    req.Summary,
		Now:        now,
	})
	if err == nil {
		return activity, nil
	}
	if !errors.Is(err, model.ErrActivityExists) {
		return nil, fmt.Errorf("create call summary %s: %w", req.CallSID, err)
	}
	if !req.Force {
		return nil, nil
	}
	existing, err := s.activities.FindByNaturalKey(ctx, model.ActivityTypeCallSummary, req.CallSID)
	if err != nil {
		return nil, fmt.Errorf("find call summary %s: %w", req.CallSID, err)
	}
	activity, err = s.activities.Reemit(ctx, existing.ID, req.Summary, now)
	if err != nil {
		return nil, fmt.Errorf("re-emit call summary %s: %w", req.CallSID, err)
	}
	return activity, nil
}

// acquire takes the per-call guard when one is configured. A guard backend error is
// logged and the emission proceeds on the activity unique index alone.
func (s *CallSummaryService) acquire(ctx context.Context, callSID string) (func(), error) {
	if s.guard == nil {
		return func() {}, nil
	}
	key := model.ActivityTypeCallSummary + ":" + callSID
	ok, err := s.guard.TryAcquire(ctx, key, s.guardTTL)
	if err != nil {
		s.logger.WarnContext(ctx, "call summary guard unavailable", "call_sid", callSID, "error", err)
		return func() {}, nil
	}
	if !ok {
		return nil, ErrCallSummaryInProgress
	}
	return func() {
		if err := s.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			s.logger.WarnContext(ctx, "release call summary guard", "call_sid", callSID, "error", err)
		}
	}, nil
}
