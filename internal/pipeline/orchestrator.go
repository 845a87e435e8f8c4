// Package pipeline sequences filter, oracle, fallback, formatting and
// dispatch for one trigger.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"regwatch-ai/backend/internal/apperrors"
	"regwatch-ai/backend/internal/dispatch"
	"regwatch-ai/backend/internal/fallback"
	"regwatch-ai/backend/internal/filter"
	"regwatch-ai/backend/internal/logging"
	"regwatch-ai/backend/internal/observability"
	"regwatch-ai/backend/internal/oracle"
	"regwatch-ai/backend/internal/repository"
	"regwatch-ai/backend/pkg/models"
)

// DefaultTaskDueIn is the due date horizon for documents without a
// compliance deadline.
const DefaultTaskDueIn = 90 * 24 * time.Hour

// Dispatcher delivers one artifact.
type Dispatcher interface {
	Dispatch(ctx context.Context, artifact *models.Artifact) dispatch.Outcome
}

// Config bounds a run.
type Config struct {
	Workers    int
	RunTimeout time.Duration
}

// Orchestrator runs triggers end to end.
type Orchestrator struct {
	profiles   repository.ProfileStore
	filter     *filter.Filter
	oracle     oracle.Caller
	dispatcher Dispatcher
	cfg        Config
	metrics    *observability.Metrics
	logger     *logging.Logger
	now        func() time.Time
	inflight   singleflight.Group
}

// New creates an Orchestrator.
func New(profiles repository.ProfileStore, f *filter.Filter, caller oracle.Caller, dispatcher Dispatcher, cfg Config, metrics *observability.Metrics, logger *logging.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 90 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		profiles:   profiles,
		filter:     f,
		oracle:     caller,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.With("component", "orchestrator"),
		now:        time.Now,
	}
}

// Run validates trig and executes it. Identical triggers arriving while a run
// is in progress share that run's result instead of starting another.
//
// Only validation and store failures are returned as errors; oracle and
// delivery failures are reported inside the RunResult.
func (o *Orchestrator) Run(ctx context.Context, trig Trigger) (*RunResult, error) {
	if err := trig.Validate(); err != nil {
		return nil, err
	}

	v, err, shared := o.inflight.Do(trig.key(), func() (any, error) {
		return o.run(context.WithoutCancel(ctx), trig)
	})
	res, _ := v.(*RunResult)
	if shared && res != nil {
		cp := *res
		cp.Shared = true
		res = &cp
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, trig Trigger) (*RunResult, error) {
	start := o.now()
	timeout := trig.Timeout
	if timeout <= 0 {
		timeout = o.cfg.RunTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := &RunResult{
		RunID:          uuid.NewString(),
		Mode:           trig.Mode,
		OrganizationID: trig.OrganizationID,
	}
	logger := o.logger.With("run_id", res.RunID, "mode", trig.Mode, "organization_id", trig.OrganizationID)

	profile, err := o.profile(ctx, trig.OrganizationID)
	if err != nil {
		return nil, err
	}
	res.OrganizationName = profile.Name

	defer func() {
		res.Duration = o.now().Sub(start)
		o.metrics.RunDuration(context.WithoutCancel(ctx), string(trig.Mode), res.Duration)
	}()

	if trig.Mode == models.ModeSuggestRegulators {
		res.SourceTitle = profile.Name
		res.Units = []UnitResult{o.process(ctx, trig, profile, nil)}
		res.TotalCandidates = 1
		res.aggregate()
		logger.Info("run complete", "artifacts", res.TotalArtifacts, "fallback", res.FallbackGenerated)
		return res, nil
	}

	var docs []*models.Document
	if trig.DocumentID != "" {
		doc, err := o.filter.Single(ctx, trig.DocumentID)
		if err != nil {
			return nil, err
		}
		docs = []*models.Document{doc}
		res.SourceTitle = doc.Title
	} else {
		res.Regulators, res.RegulatorsSource = o.regulators(ctx, profile)
		candidates, err := o.filter.Candidates(ctx, profile, res.Regulators)
		if err != nil {
			logger.Error("filtering failed", "error", err)
			res.Units = []UnitResult{{State: StateErrored, Error: err.Error()}}
			return res, err
		}
		docs = o.load(ctx, candidates, logger)
		res.SourceTitle = profile.Name
	}
	res.TotalCandidates = len(docs)

	res.Units = make([]UnitResult, len(docs))
	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i, doc := range docs {
		g.Go(func() error {
			res.Units[i] = o.process(ctx, trig, profile, doc)
			return nil
		})
	}
	_ = g.Wait()

	res.aggregate()
	logger.Info("run complete",
		"candidates", res.TotalCandidates,
		"artifacts", res.TotalArtifacts,
		"fallback", res.FallbackGenerated,
		"delivery_success", res.DeliverySuccess,
	)
	return res, nil
}

func (o *Orchestrator) profile(ctx context.Context, id string) (*models.OrganizationProfile, error) {
	if id == "" {
		return models.GenericProfile(), nil
	}
	p, err := o.profiles.GetProfile(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("organization_id", id)
	}
	if err != nil {
		return nil, apperrors.StoreUnavailable("get profile", err)
	}
	return p, nil
}

// regulators returns the confirmed regulators of profile, or suggests them.
func (o *Orchestrator) regulators(ctx context.Context, profile *models.OrganizationProfile) ([]string, string) {
	if len(profile.Regulators) > 0 {
		return profile.Regulators, "confirmed"
	}
	verdict, source, _ := o.consult(ctx, oracle.Request{Mode: models.ModeSuggestRegulators, Profile: profile})
	return verdict.Regulators, string(source)
}

// load fetches the full text of each candidate. A candidate whose text cannot
// be read is still processed from its summary.
func (o *Orchestrator) load(ctx context.Context, candidates models.CandidateSet, logger *logging.Logger) []*models.Document {
	docs := make([]*models.Document, len(candidates))
	for i, c := range candidates {
		doc, err := o.filter.Single(ctx, c.ID)
		if err != nil {
			logger.Warn("candidate text unavailable, using summary", "document_id", c.ID, "error", err)
			doc = &models.Document{
				ID:               c.ID,
				AuthorityCode:    c.AuthorityCode,
				Title:            c.Title,
				Summary:          c.Summary,
				Tags:             c.Tags,
				AffectedEntities: c.AffectedEntities,
				IngestedAt:       c.IngestedAt,
			}
		}
		docs[i] = doc
	}
	return docs
}

// process runs one unit from Verifying to Done. It never fails: oracle
// failures fall back and delivery failures are recorded per artifact.
func (o *Orchestrator) process(ctx context.Context, trig Trigger, profile *models.OrganizationProfile, doc *models.Document) UnitResult {
	unit := UnitResult{State: StateVerifying}
	if doc != nil {
		unit.DocumentID = doc.ID
		unit.Title = doc.Title
	}

	oracleMode := trig.Mode
	if oracleMode == models.ModeMatchCirculars {
		oracleMode = models.ModeVerifyRelevance
	}
	verdict, source, oerr := o.consult(ctx, oracle.Request{Mode: oracleMode, Document: doc, Profile: profile})
	unit.Source = source
	if oerr != nil {
		unit.OracleError = oerr.Error()
	}

	unit.State = StateFormatting
	unit.Artifacts = o.format(trig, profile, doc, verdict, source)

	unit.State = StateDispatching
	unit.Deliveries = make([]dispatch.Outcome, 0, len(unit.Artifacts))
	for _, a := range unit.Artifacts {
		unit.Deliveries = append(unit.Deliveries, o.dispatcher.Dispatch(ctx, a))
	}

	unit.State = StateDone
	return unit
}

type callResult struct {
	verdict oracle.Verdict
	err     error
}

// consult calls the oracle and substitutes the fallback on any failure. When
// ctx expires first the in-flight call is abandoned and its result discarded.
func (o *Orchestrator) consult(ctx context.Context, req oracle.Request) (oracle.Verdict, models.Source, error) {
	var err error
	if err = ctx.Err(); err == nil {
		ch := make(chan callResult, 1)
		go func() {
			v, err := o.oracle.Call(ctx, req)
			ch <- callResult{v, err}
		}()

		select {
		case r := <-ch:
			if r.err == nil {
				return r.verdict, models.SourceOracle, nil
			}
			err = r.err
		case <-ctx.Done():
			err = apperrors.Oracle(apperrors.OracleTimeout, ctx.Err())
		}
	} else {
		err = apperrors.Oracle(apperrors.OracleTimeout, err)
	}

	reason := "error"
	if kind, ok := apperrors.KindOf(err); ok {
		reason = string(kind)
	}
	o.metrics.Fallback(context.WithoutCancel(ctx), string(req.Mode), reason)
	o.logger.Warn("using fallback", "mode", req.Mode, "reason", reason, "error", err)
	return fallback.Generate(req.Document, req.Profile, req.Mode), models.SourceFallback, err
}

// format turns a verdict into artifacts, attaching document and profile
// references and task metadata.
func (o *Orchestrator) format(trig Trigger, profile *models.OrganizationProfile, doc *models.Document, v oracle.Verdict, source models.Source) []*models.Artifact {
	now := o.now().UTC()
	newArtifact := func() *models.Artifact {
		a := &models.Artifact{
			ID:             uuid.NewString(),
			Mode:           trig.Mode,
			OrganizationID: profile.ID,
			Source:         source,
			CreatedAt:      now,
		}
		if doc != nil {
			a.DocumentID = doc.ID
			a.Title = doc.Title
			a.Standards = doc.Standards
		} else {
			a.Title = profile.Name
		}
		return a
	}

	switch trig.Mode {
	case models.ModeSuggestRegulators:
		a := newArtifact()
		a.Regulators = v.Regulators
		if a.Regulators == nil {
			a.Regulators = []string{}
		}
		return []*models.Artifact{a}

	case models.ModeMatchCirculars:
		a := newArtifact()
		a.Match = &models.CircularMatch{
			DocumentID:    doc.ID,
			Title:         doc.Title,
			AuthorityCode: doc.AuthorityCode,
			Relevant:      v.Relevant,
			Reason:        v.Reason,
		}
		return []*models.Artifact{a}

	case models.ModeGenerateQuestions:
		a := newArtifact()
		a.Questions = v.Questions
		return []*models.Artifact{a}

	case models.ModeGenerateTasks:
		due := now.Add(DefaultTaskDueIn)
		if doc != nil && doc.ComplianceDeadline != nil {
			due = doc.ComplianceDeadline.UTC()
		}
		override, hasOverride := models.ParseRisk(trig.Risk)

		artifacts := make([]*models.Artifact, 0, len(v.Tasks))
		for _, task := range v.Tasks {
			a := newArtifact()
			a.Task = &task
			a.Risk = task.Risk
			if hasOverride {
				a.Risk = override
			}
			a.DueDate = &due
			artifacts = append(artifacts, a)
		}
		return artifacts
	}
	return nil
}
