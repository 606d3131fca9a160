package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/keystone-pm/keystone/internal/authz"
	jobmetrics "github.com/keystone-pm/keystone/internal/jobs"
	"github.com/keystone-pm/keystone/internal/relationship"
)

// DefaultSweepWindow covers a cron interval plus slack so consecutive
// sweeps overlap rather than leave gaps.
const DefaultSweepWindow = 10 * time.Minute

// RelationshipSource lists recently ended management relationships.
type RelationshipSource interface {
	EndedSince(ctx context.Context, since time.Time) ([]relationship.Relationship, error)
}

// Invalidator purges cached decisions for a principal.
type Invalidator interface {
	InvalidatePrincipal(ctx context.Context, principal authz.Principal) error
}

// AuthzSweepJob invalidates cached decisions for PMCs whose management
// relationships ended. The decision cache TTL already bounds staleness;
// the sweep tightens the window for the silent-expiry case where no role
// mutation triggers an explicit invalidation.
type AuthzSweepJob struct {
	Relationships RelationshipSource
	Cache         Invalidator
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
	clock         func() time.Time
}

// NewAuthzSweepJob wires dependencies for the sweep handler.
func NewAuthzSweepJob(rels RelationshipSource, cache Invalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuthzSweepJob {
	return &AuthzSweepJob{
		Relationships: rels,
		Cache:         cache,
		Logger:        logger,
		Metrics:       metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes authz:sweep tasks.
func (j *AuthzSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Relationships == nil || j.Cache == nil {
		return errors.New("authz sweep: handler not configured")
	}
	var payload AuthzSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	window := payload.Window
	if window <= 0 {
		window = DefaultSweepWindow
	}

	tracker := j.Metrics.Track(TaskAuthzSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	since := j.clock().Add(-window)
	ended, err := j.Relationships.EndedSince(ctx, since)
	if err != nil {
		resultErr = err
		j.logger().Error("load ended relationships", slog.Any("error", err))
		return resultErr
	}
	if len(ended) == 0 {
		return resultErr
	}

	swept := 0
	for _, rel := range ended {
		principal := authz.Principal{ID: rel.PMCID, Kind: authz.KindPMC}
		if err := j.Cache.InvalidatePrincipal(ctx, principal); err != nil {
			resultErr = err
			j.logger().Error("sweep pmc decisions",
				slog.String("pmc", rel.PMCID),
				slog.Any("error", err))
			return resultErr
		}
		swept++
	}
	j.logger().Info("authz sweep complete",
		slog.Int("ended_relationships", len(ended)),
		slog.Int("principals_swept", swept))
	return resultErr
}

func (j *AuthzSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
