package routing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"AgentRouter/internal/catalog"
	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/intent"
	"AgentRouter/pkg/logger"
)

var tracer = otel.Tracer("agentrouter.routing")

// CatalogSource hands out the catalog snapshot used for one request.
type CatalogSource interface {
	Snapshot() *catalog.Catalog
}

// Router combines a catalog source, a Generator and a Policy.
type Router struct {
	catalogs  CatalogSource
	generator *Generator
	policy    Policy
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithGenerator replaces the default generator.
func WithGenerator(g *Generator) Option {
	return func(r *Router) {
		if g != nil {
			r.generator = g
		}
	}
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(r *Router) {
		r.policy = p
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter creates a router reading snapshots from src.
func NewRouter(src CatalogSource, opts ...Option) *Router {
	r := &Router{
		catalogs:  src,
		generator: NewGenerator(),
		policy:    DefaultPolicy(),
		logger:    logger.Named("routing"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Route selects handlers for query. An empty selection is a valid outcome;
// errors are returned for invalid input, a missing catalog snapshot or
// cancellation.
func (r *Router) Route(ctx context.Context, in intent.Result, query string) (Selection, error) {
	if strings.TrimSpace(query) == "" {
		return Selection{}, xerrors.New(xerrors.CodeInvalidArgument, "query is empty")
	}
	if err := in.Validate(); err != nil {
		return Selection{}, err
	}
	in = in.Normalized()

	ctx, span := tracer.Start(ctx, "routing.Route")
	defer span.End()
	start := time.Now()

	var snapshot *catalog.Catalog
	if r.catalogs != nil {
		snapshot = r.catalogs.Snapshot()
	}
	if snapshot == nil {
		r.logger.Error("catalog source returned no snapshot", "intent", in.Intent)
		span.RecordError(errNilCatalog)
		span.SetStatus(codes.Error, errNilCatalog.Error())
		return Selection{}, errNilCatalog
	}
	span.SetAttributes(
		attribute.String("intent", in.Intent),
		attribute.String("complexity", string(in.Complexity)),
		attribute.Int("catalog.size", snapshot.Len()),
	)

	candidates, err := r.generator.Generate(ctx, snapshot, in, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Selection{}, err
	}
	for _, c := range candidates {
		passMatches.WithLabelValues(string(c.Sources[0])).Inc()
	}
	sel := r.policy.Select(candidates, in)

	routeDuration.Observe(time.Since(start).Seconds())
	candidateCount.Observe(float64(len(candidates)))
	outcome := "selected"
	if sel.Empty() {
		outcome = "no_confident_match"
	}
	selections.WithLabelValues(string(sel.Mode), outcome).Inc()
	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.StringSlice("selected", sel.HandlerIDs()),
		attribute.String("mode", string(sel.Mode)),
	)

	r.logger.Debug("route computed",
		"intent", in.Intent,
		"mode", sel.Mode,
		"candidates", len(candidates),
		"selected", sel.HandlerIDs(),
		"elapsed", time.Since(start),
	)
	return sel, nil
}
