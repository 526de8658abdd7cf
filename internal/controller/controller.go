package controller

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nih-cfde/deriva-action-provider/internal/action"
	"github.com/nih-cfde/deriva-action-provider/internal/apierr"
	"github.com/nih-cfde/deriva-action-provider/internal/auth"
	"github.com/nih-cfde/deriva-action-provider/internal/config"
	"github.com/nih-cfde/deriva-action-provider/internal/deriva"
	"github.com/nih-cfde/deriva-action-provider/internal/metrics"
)

// ActionStore is the status-store contract the controller depends on.
type ActionStore interface {
	Create(ctx context.Context, rec *action.Record) error
	Get(ctx context.Context, actionID string) (*action.Record, error)
	FindByRequestID(ctx context.Context, requestID string) (*action.Record, error)
	Merge(ctx context.Context, actionID string, update action.Update) (*action.Record, error)
	Delete(ctx context.Context, actionID string) error
}

// Dispatcher launches the ingest operation out of the request path.
type Dispatcher interface {
	Dispatch(params deriva.Params)
}

// maxIDAttempts bounds the action_id regeneration loop. UUID collisions
// are effectively impossible, so exhausting this means the store is lying.
const maxIDAttempts = 5

// SubmitRequest is an admission request as seen by the controller, already
// bound and schema-validated by the HTTP boundary.
type SubmitRequest struct {
	RequestID    string
	Body         deriva.Params
	Label        string
	ManageBy     []string
	MonitorBy    []string
	ReleaseAfter string // ISO-8601 duration
	Deadline     string // RFC3339
}

// Controller owns the action lifecycle: idempotent admission, status
// polling with the lazy timeout check, cancellation and release.
type Controller struct {
	store    ActionStore
	runner   Dispatcher
	reporter deriva.Reporter
	cfg      *config.Config
	logger   *zap.Logger
	nowFunc  func() time.Time
	newID    func() string
}

// New builds a Controller. reporter may be nil when no Deriva registry is
// configured.
func New(store ActionStore, runner Dispatcher, reporter deriva.Reporter, cfg *config.Config, logger *zap.Logger) *Controller {
	return &Controller{
		store:    store,
		runner:   runner,
		reporter: reporter,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "controller")),
		nowFunc:  time.Now,
		newID:    uuid.NewString,
	}
}

// Submit admits a job. request_id is the idempotency key: a resubmission
// returns the existing record (replayed=true) and starts no new work.
//
// Two concurrent first-time submissions with the same request_id can both
// miss the lookup and both create records under different action_ids; the
// store's atomicity guarantee exists at the action_id level only. This is a
// known, accepted limitation of the request_id-by-scan design.
func (c *Controller) Submit(ctx context.Context, caller *auth.Identity, req *SubmitRequest) (action.View, bool, error) {
	existing, err := c.store.FindByRequestID(ctx, req.RequestID)
	if err == nil {
		c.logger.Info("request replayed",
			zap.String("request_id", req.RequestID),
			zap.String("action_id", existing.ActionID))
		metrics.ActionsSubmitted.WithLabelValues("true").Inc()
		return existing.Translate(), true, nil
	}
	if !apierr.IsCode(err, apierr.CodeNotFound) {
		return action.View{}, false, err
	}

	rec, err := c.buildRecord(caller, req)
	if err != nil {
		return action.View{}, false, err
	}

	if err := c.createWithFreshID(ctx, rec); err != nil {
		return action.View{}, false, err
	}

	params := req.Body
	params.ActionID = rec.ActionID
	c.runner.Dispatch(params)

	c.logger.Info("action admitted",
		zap.String("action_id", rec.ActionID),
		zap.String("request_id", rec.RequestID),
		zap.String("operation", params.Operation))
	metrics.ActionsSubmitted.WithLabelValues("false").Inc()
	return rec.Translate(), false, nil
}

func (c *Controller) buildRecord(caller *auth.Identity, req *SubmitRequest) (*action.Record, error) {
	now := c.nowFunc().UTC()

	body := req.Body
	if err := deriva.ResolveCatalog(&body, c.cfg.KnownCatalogs); err != nil {
		return nil, err
	}
	req.Body = body

	releaseAfter := action.FormatISODuration(c.cfg.DefaultReleaseAfter)
	if req.ReleaseAfter != "" {
		if _, err := action.ParseISODuration(req.ReleaseAfter); err != nil {
			return nil, apierr.InvalidRequest("invalid release_after: %v", err)
		}
		releaseAfter = req.ReleaseAfter
	}

	if req.Deadline != "" {
		deadline, err := time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			return nil, apierr.InvalidRequest("invalid deadline: %v", err)
		}
		estimated := now.Add(c.cfg.EstimatedDuration)
		if deadline.Before(estimated) {
			return nil, apierr.InvalidRequest("processing likely to exceed deadline of %s", req.Deadline)
		}
	}

	manageBy := caller.Identities
	if len(req.ManageBy) > 0 {
		manageBy = req.ManageBy
	}
	monitorBy := caller.Identities
	if len(req.MonitorBy) > 0 {
		monitorBy = req.MonitorBy
	}

	return &action.Record{
		RequestID:    req.RequestID,
		Status:       action.StatusActive, // actions start ACTIVE, there is no "waiting"
		ManageBy:     manageBy,
		MonitorBy:    monitorBy,
		CreatorID:    caller.EffectiveIdentity,
		Label:        req.Label,
		ReleaseAfter: releaseAfter,
		DateStarted:  now,
		Details: map[string]interface{}{
			"message": "Action started",
		},
	}, nil
}

// createWithFreshID generates an action_id and inserts the record,
// regenerating on the (theoretical) collision.
func (c *Controller) createWithFreshID(ctx context.Context, rec *action.Record) error {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		rec.ActionID = c.newID()
		err := c.store.Create(ctx, rec)
		if err == nil {
			return nil
		}
		if apierr.IsCode(err, apierr.CodeAlreadyExists) {
			c.logger.Warn("action_id collision, regenerating", zap.String("action_id", rec.ActionID))
			continue
		}
		return err
	}
	return apierr.InternalError("could not generate a unique action_id after %d attempts", maxIDAttempts)
}

// Status returns the translated record for polling callers. A non-terminal
// action whose ingest deadline has passed is proactively failed here; the
// original job evidently died without reporting.
func (c *Controller) Status(ctx context.Context, caller *auth.Identity, actionID string) (action.View, error) {
	rec, err := c.store.Get(ctx, actionID)
	if err != nil {
		return action.View{}, err
	}
	if !auth.Authorized(caller, rec.MonitorBy) {
		return action.View{}, apierr.NotAuthorized("you cannot view the status of action %s", actionID)
	}

	deadline := rec.DateStarted.Add(c.cfg.IngestDeadline)
	if !action.Terminal(rec.Status) && c.nowFunc().After(deadline) {
		rec = c.failTimedOut(ctx, rec)
	}

	return rec.Translate(), nil
}

// failTimedOut marks a stuck action FAILED and reports the failure to the
// Deriva registry. Both steps are best-effort; the poll itself must still
// return a well-formed record.
func (c *Controller) failTimedOut(ctx context.Context, rec *action.Record) *action.Record {
	c.logger.Warn("action timed out for unknown reason", zap.String("action_id", rec.ActionID))

	update := action.Update{
		Status: action.StatusFailed,
		Details: map[string]interface{}{
			"message": "Submission timed out before it could complete. " +
				"Check with your administrator for more details",
		},
	}
	merged, err := c.store.Merge(ctx, rec.ActionID, update)
	if err != nil {
		c.logger.Error("could not record timeout failure",
			zap.String("action_id", rec.ActionID), zap.Error(err))
		// Serve the timed-out view even if the write failed.
		rec.Apply(update)
		merged = rec
	}

	if c.reporter != nil {
		if err := c.reporter.ReportExternalError(ctx, rec.ActionID, "Submission failed to ingest (timeout)"); err != nil {
			c.logger.Error("external error report failed",
				zap.String("action_id", rec.ActionID), zap.Error(err))
		}
	}
	return merged
}

// Cancel requests cancellation of a running action. The underlying ingest
// is not cancellable, so this is a stub that leaves the status untouched;
// the Automate spec permits providers that cannot cancel.
func (c *Controller) Cancel(ctx context.Context, caller *auth.Identity, actionID string) (action.View, error) {
	rec, err := c.store.Get(ctx, actionID)
	if err != nil {
		return action.View{}, err
	}
	if !auth.Authorized(caller, rec.ManageBy) {
		return action.View{}, apierr.NotAuthorized("you cannot cancel action %s", actionID)
	}
	if action.Terminal(rec.Status) {
		return action.View{}, apierr.InvalidState("action %s already completed", actionID)
	}

	c.cancelAction(rec.ActionID)

	refreshed, err := c.store.Get(ctx, actionID)
	if err != nil {
		return action.View{}, err
	}
	return refreshed.Translate(), nil
}

// cancelAction is a stub in case cancellation is implemented later.
func (c *Controller) cancelAction(actionID string) {}

// Release deletes a completed action's record, returning its final view.
func (c *Controller) Release(ctx context.Context, caller *auth.Identity, actionID string) (action.View, error) {
	rec, err := c.store.Get(ctx, actionID)
	if err != nil {
		return action.View{}, err
	}
	if !auth.Authorized(caller, rec.ManageBy) {
		return action.View{}, apierr.NotAuthorized("you cannot release action %s", actionID)
	}
	if !action.Terminal(rec.Status) {
		return action.View{}, apierr.InvalidState("action %s not completed and cannot be released", actionID)
	}

	view := rec.Translate()
	if err := c.store.Delete(ctx, actionID); err != nil {
		return action.View{}, err
	}
	return view, nil
}
