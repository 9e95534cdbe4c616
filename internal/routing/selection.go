package routing

import (
	"fmt"
	"sort"
	"strings"

	"AgentRouter/internal/intent"
)

// Mode is the selection mode chosen for a request.
type Mode string

const (
	ModeSingle        Mode = "single"
	ModeCollaborative Mode = "collaborative"
)

// Policy holds the selection thresholds.
type Policy struct {
	SingleThreshold        float64
	CollaborationThreshold float64
	MaxCollaborators       int
}

// DefaultPolicy selects one handler scoring above 70, or up to three scoring
// above 60 when collaboration is required.
func DefaultPolicy() Policy {
	return Policy{
		SingleThreshold:        70,
		CollaborationThreshold: 60,
		MaxCollaborators:       3,
	}
}

// Rejection records why a candidate was not selected.
type Rejection struct {
	Candidate Candidate `json:"candidate"`
	Reason    string    `json:"reason"`
}

// Selection is the outcome of applying a Policy to a candidate list.
type Selection struct {
	Mode      Mode        `json:"mode"`
	Selected  []Candidate `json:"selected"`
	Rejected  []Rejection `json:"rejected,omitempty"`
	Reasoning []string    `json:"reasoning"`
}

// Empty reports whether no handler was confident enough.
func (s Selection) Empty() bool {
	return len(s.Selected) == 0
}

// HandlerIDs returns the selected handler ids in rank order.
func (s Selection) HandlerIDs() []string {
	ids := make([]string, 0, len(s.Selected))
	for _, c := range s.Selected {
		ids = append(ids, c.HandlerID)
	}
	return ids
}

// Collaborative reports whether the intent calls for multiple handlers.
func Collaborative(in intent.Result) bool {
	return in.RequiresCollaboration || in.Complexity == intent.ComplexityVeryHigh
}

// Select ranks candidates by score, keeping insertion order for ties, and
// applies the thresholds for the request's mode.
func (p Policy) Select(candidates []Candidate, in intent.Result) Selection {
	ranked := append([]Candidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	sel := Selection{Mode: ModeSingle}
	if Collaborative(in) {
		sel.Mode = ModeCollaborative
	}

	for i, c := range ranked {
		switch {
		case sel.Mode == ModeCollaborative && c.Score > p.CollaborationThreshold && len(sel.Selected) < p.MaxCollaborators:
			sel.Selected = append(sel.Selected, c)
		case sel.Mode == ModeSingle && i == 0 && c.Score > p.SingleThreshold:
			sel.Selected = append(sel.Selected, c)
		default:
			sel.Rejected = append(sel.Rejected, Rejection{Candidate: c, Reason: p.rejectReason(sel, i, c)})
		}
	}

	for _, c := range sel.Selected {
		sel.Reasoning = append(sel.Reasoning, reasoningLine(c))
	}
	return sel
}

func (p Policy) rejectReason(sel Selection, rank int, c Candidate) string {
	if sel.Mode == ModeCollaborative {
		if c.Score <= p.CollaborationThreshold {
			return fmt.Sprintf("score %.0f not above collaboration threshold %.0f", c.Score, p.CollaborationThreshold)
		}
		return fmt.Sprintf("collaboration limited to %d handlers", p.MaxCollaborators)
	}
	if rank > 0 {
		return "single-handler mode keeps only the top candidate"
	}
	return fmt.Sprintf("score %.0f not above threshold %.0f", c.Score, p.SingleThreshold)
}

func reasoningLine(c Candidate) string {
	sources := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		sources = append(sources, string(s))
	}
	return fmt.Sprintf("%s [%s] selected with score %.0f via %s pass: %s",
		c.Name, c.HandlerID, c.Score, strings.Join(sources, "+"), c.Reasoning)
}
