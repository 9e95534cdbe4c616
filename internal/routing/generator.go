package routing

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"AgentRouter/internal/catalog"
	xerrors "AgentRouter/internal/errors"
	"AgentRouter/internal/intent"
)

// Pass identifies which matching strategy produced a candidate.
type Pass string

const (
	PassIntent     Pass = "intent"
	PassDomain     Pass = "domain"
	PassCapability Pass = "capability"
)

const (
	maxRankedDomains        = 3
	capabilityPassThreshold = 40.0
	parallelThreshold       = 32
)

var errNilCatalog = xerrors.New(xerrors.CodeInitializationFailure, "catalog snapshot is nil")

// Candidate is a scored handler produced by the generator.
type Candidate struct {
	Handler    *catalog.Descriptor `json:"-"`
	HandlerID  string              `json:"handler_id"`
	Name       string              `json:"name"`
	Score      float64             `json:"score"`
	Confidence float64             `json:"confidence"`
	Reasoning  string              `json:"reasoning"`
	Sources    []Pass              `json:"sources"`
}

func newCandidate(h *catalog.Descriptor, score float64, pass Pass, reasoning string) Candidate {
	score = Clamp(score)
	return Candidate{
		Handler:    h,
		HandlerID:  h.ID,
		Name:       h.Name,
		Score:      score,
		Confidence: score / maxScore,
		Reasoning:  reasoning,
		Sources:    []Pass{pass},
	}
}

// Generator runs the three matching passes. Scoring within a pass is spread
// over a bounded pool of goroutines; results are merged in catalog order so
// the output is identical to sequential scoring.
type Generator struct {
	workers int
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithWorkers bounds scoring concurrency.
func WithWorkers(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.workers = n
		}
	}
}

// NewGenerator creates a generator. Concurrency defaults to GOMAXPROCS.
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Generate returns de-duplicated candidates in pass order: intent-keyed
// matches, then domain-keyed matches for the top three domains, then global
// capability matches scoring above 40. An empty catalog yields no
// candidates; a nil catalog is a wiring bug and fails with
// INITIALIZATION_FAILURE. Otherwise the only error is ctx cancellation.
func (g *Generator) Generate(ctx context.Context, cat *catalog.Catalog, in intent.Result, query string) ([]Candidate, error) {
	if cat == nil {
		return nil, errNilCatalog
	}
	if cat.Len() == 0 {
		return nil, nil
	}
	set := newCandidateSet()

	// intent-keyed
	handlers := cat.ByIntent(in.Intent)
	scores, err := g.score(ctx, handlers, func(h *catalog.Descriptor) float64 {
		return BaseScore(h, in, query)
	})
	if err != nil {
		return nil, err
	}
	for i, h := range handlers {
		base := scores[i]
		if base <= 0 || set.has(h.ID) {
			continue
		}
		set.add(newCandidate(h, base+intentPassBonus, PassIntent,
			fmt.Sprintf("associated with intent %q (base %.0f + %.0f)", in.Intent, base, intentPassBonus)))
	}

	// domain-keyed
	domains := in.Domains
	if len(domains) > maxRankedDomains {
		domains = domains[:maxRankedDomains]
	}
	for _, domain := range domains {
		fresh := make([]*catalog.Descriptor, 0)
		for _, h := range cat.ByDomain(domain) {
			if set.has(h.ID) {
				set.markSource(h.ID, PassDomain)
				continue
			}
			fresh = append(fresh, h)
		}
		scores, err := g.score(ctx, fresh, func(h *catalog.Descriptor) float64 {
			return DomainScore(h, in, query, domain)
		})
		if err != nil {
			return nil, err
		}
		for i, h := range fresh {
			if scores[i] <= 0 {
				continue
			}
			set.add(newCandidate(h, scores[i], PassDomain,
				fmt.Sprintf("matches ranked domain %q (score %.0f)", domain, scores[i])))
		}
	}

	// global capability scan
	rest := make([]*catalog.Descriptor, 0, cat.Len())
	for _, h := range cat.All() {
		if !set.has(h.ID) {
			rest = append(rest, h)
		}
	}
	scores, err = g.score(ctx, rest, func(h *catalog.Descriptor) float64 {
		return CapabilityScore(h, in, query)
	})
	if err != nil {
		return nil, err
	}
	for i, h := range rest {
		if scores[i] <= capabilityPassThreshold {
			continue
		}
		set.add(newCandidate(h, scores[i], PassCapability,
			fmt.Sprintf("capability and expertise match (score %.0f)", scores[i])))
	}

	return set.list(), nil
}

func (g *Generator) score(ctx context.Context, handlers []*catalog.Descriptor, fn func(*catalog.Descriptor) float64) ([]float64, error) {
	scores := make([]float64, len(handlers))
	if len(handlers) < parallelThreshold || g.workers <= 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i, h := range handlers {
			scores[i] = fn(h)
		}
		return scores, nil
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.workers)
	for i, h := range handlers {
		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[i] = fn(h)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

type candidateSet struct {
	order []string
	byID  map[string]*Candidate
}

func newCandidateSet() *candidateSet {
	return &candidateSet{byID: make(map[string]*Candidate)}
}

func (s *candidateSet) has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

func (s *candidateSet) add(c Candidate) {
	if s.has(c.HandlerID) {
		return
	}
	s.order = append(s.order, c.HandlerID)
	s.byID[c.HandlerID] = &c
}

// markSource records that another pass also matched an existing candidate.
// The score and reasoning of the first match are kept.
func (s *candidateSet) markSource(id string, pass Pass) {
	c, ok := s.byID[id]
	if !ok {
		return
	}
	for _, p := range c.Sources {
		if p == pass {
			return
		}
	}
	c.Sources = append(c.Sources, pass)
}

func (s *candidateSet) list() []Candidate {
	out := make([]Candidate, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}
