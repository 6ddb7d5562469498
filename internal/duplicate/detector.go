// Package duplicate finds an existing report close enough to a new one that
// the citizen should be asked before submitting another.
package duplicate

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/couchcryptid/civicfix-service/internal/domain"
	"github.com/couchcryptid/civicfix-service/internal/geo"
	"github.com/couchcryptid/civicfix-service/internal/observability"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultRadiusMeters   = 60.0
	DefaultWindow         = 60 * time.Minute
	DefaultCandidateLimit = 100
)

// Config bounds a lookup.
type Config struct {
	RadiusMeters   float64
	Window         time.Duration
	CandidateLimit int
}

func (c Config) withDefaults() Config {
	if c.RadiusMeters <= 0 {
		c.RadiusMeters = DefaultRadiusMeters
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = DefaultCandidateLimit
	}
	return c
}

// Params describes the new report. Zero RadiusMeters or Window fall back to
// the detector's configuration.
type Params struct {
	Category     string
	Lat          float64
	Lng          float64
	RadiusMeters float64
	Window       time.Duration
}

// Detector looks up nearby unresolved reports of the same category.
type Detector struct {
	store   domain.IssueQuerier
	cfg     Config
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewDetector creates a Detector reading candidates from store.
func NewDetector(store domain.IssueQuerier, cfg Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Detector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Detector{
		store:   store,
		cfg:     cfg.withDefaults(),
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// FindNearbyDuplicate returns the closest same-category, unresolved report
// created within the window and lying within the radius, or nil when none
// qualifies. At most CandidateLimit of the newest reports are considered, so
// older matches beyond the cap are missed. Query failures are returned as
// *domain.DuplicateCheckError; callers decide whether to ignore them.
func (d *Detector) FindNearbyDuplicate(ctx context.Context, p Params) (*domain.DuplicateCandidate, error) {
	ctx, span := otel.Tracer("civicfix/duplicate").Start(ctx, "duplicate.FindNearbyDuplicate")
	defer span.End()

	radius := p.RadiusMeters
	if radius <= 0 {
		radius = d.cfg.RadiusMeters
	}
	window := p.Window
	if window <= 0 {
		window = d.cfg.Window
	}
	span.SetAttributes(
		attribute.String("issue.category", p.Category),
		attribute.Float64("duplicate.radius_meters", radius),
	)

	start := d.clock.Now()
	defer func() {
		d.metrics.DuplicateCheckDuration.Observe(d.clock.Since(start).Seconds())
	}()

	candidates, err := d.store.QueryIssues(ctx, domain.IssueQuery{
		Category:    p.Category,
		CreatedFrom: start.Add(-window),
		Limit:       d.cfg.CandidateLimit,
	})
	if err != nil {
		d.metrics.DuplicateChecks.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "duplicate query failed")
		return nil, &domain.DuplicateCheckError{Err: err}
	}

	best := closest(candidates, geo.Point{Lat: p.Lat, Lng: p.Lng}, radius)
	if best == nil {
		d.metrics.DuplicateChecks.WithLabelValues("none").Inc()
		return nil, nil
	}

	d.metrics.DuplicateChecks.WithLabelValues("found").Inc()
	d.logger.Debug("nearby duplicate found",
		"issue_id", best.Issue.ID,
		"category", p.Category,
		"distance_m", best.DistanceMeters,
		"candidates", len(candidates),
	)
	return best, nil
}

// closest picks the nearest unresolved record within radius. Ties keep the
// first record in query order.
func closest(records []domain.IssueRecord, center geo.Point, radius float64) *domain.DuplicateCandidate {
	open := make([]domain.IssueRecord, 0, len(records))
	for _, r := range records {
		if r.Status != domain.StatusResolved {
			open = append(open, r)
		}
	}

	var best *domain.DuplicateCandidate
	for _, m := range geo.FilterByRadius(open, center, radius) {
		if best == nil || m.DistanceMeters < best.DistanceMeters {
			best = &domain.DuplicateCandidate{Issue: m.Item, DistanceMeters: m.DistanceMeters}
		}
	}
	return best
}
