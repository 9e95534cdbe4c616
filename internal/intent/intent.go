// Package intent defines the analysis result the router consumes and the
// collaborator interface that produces it.
package intent

import (
	"context"
	"fmt"
	"strings"

	"AgentRouter/internal/catalog"
	xerrors "AgentRouter/internal/errors"
)

// Complexity grades how involved a request is.
type Complexity string

const (
	ComplexityLow      Complexity = "low"
	ComplexityMedium   Complexity = "medium"
	ComplexityHigh     Complexity = "high"
	ComplexityVeryHigh Complexity = "very-high"
)

// Valid reports whether c is one of the known grades. The empty value is
// accepted and treated as medium.
func (c Complexity) Valid() bool {
	switch c {
	case "", ComplexityLow, ComplexityMedium, ComplexityHigh, ComplexityVeryHigh:
		return true
	}
	return false
}

// Result is the output of intent analysis for one query.
type Result struct {
	Intent                string           `json:"intent"`
	Domains               []catalog.Domain `json:"domains"`
	Complexity            Complexity       `json:"complexity"`
	Keywords              []string         `json:"keywords"`
	Confidence            float64          `json:"confidence"`
	RequiresCollaboration bool             `json:"requires_multi_handler_collaboration"`
}

// Validate checks the ranges the router relies on.
func (r Result) Validate() error {
	if r.Confidence < 0 || r.Confidence > 1 {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("confidence %.3f outside [0,1]", r.Confidence))
	}
	if !r.Complexity.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown complexity %q", r.Complexity))
	}
	return nil
}

// Normalized returns a copy with lower-cased labels and keywords and empty
// keywords removed.
func (r Result) Normalized() Result {
	out := r
	out.Intent = strings.ToLower(strings.TrimSpace(r.Intent))
	out.Complexity = Complexity(strings.ToLower(strings.TrimSpace(string(r.Complexity))))
	out.Domains = make([]catalog.Domain, 0, len(r.Domains))
	for _, d := range r.Domains {
		out.Domains = append(out.Domains, catalog.Domain(strings.ToLower(strings.TrimSpace(string(d)))))
	}
	out.Keywords = make([]string, 0, len(r.Keywords))
	for _, k := range r.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out.Keywords = append(out.Keywords, k)
		}
	}
	return out
}

// HasDomain reports whether d is among the ranked domains.
func (r Result) HasDomain(d catalog.Domain) bool {
	for _, candidate := range r.Domains {
		if candidate == d {
			return true
		}
	}
	return false
}

// Analyzer produces an intent result for a raw query.
type Analyzer interface {
	Analyze(ctx context.Context, query string) (Result, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, query string) (Result, error)

// Analyze implements Analyzer.
func (f AnalyzerFunc) Analyze(ctx context.Context, query string) (Result, error) {
	return f(ctx, query)
}

// Static always returns the same result.
type Static struct {
	Result Result
}

// Analyze implements Analyzer.
func (s Static) Analyze(context.Context, string) (Result, error) {
	return s.Result, nil
}
