package breaker

import (
	"fmt"
	"sort"

	xerrors "AgentRouter/internal/errors"
)

// Set holds the breakers of a process keyed by service name.
type Set struct {
	breakers map[string]*Breaker
}

// NewSet builds one breaker per config. opts apply to every breaker.
func NewSet(configs []Config, opts ...Option) (*Set, error) {
	s := &Set{breakers: make(map[string]*Breaker, len(configs))}
	for _, cfg := range configs {
		if _, dup := s.breakers[cfg.Name]; dup {
			return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("duplicate breaker %q", cfg.Name))
		}
		b, err := New(cfg, opts...)
		if err != nil {
			return nil, err
		}
		s.breakers[cfg.Name] = b
	}
	return s, nil
}

// Get returns the breaker for name.
func (s *Set) Get(name string) (*Breaker, bool) {
	b, ok := s.breakers[name]
	return b, ok
}

// Resolve returns the first breaker found among names, so callers can try a
// specific service name before its service class.
func (s *Set) Resolve(names ...string) (*Breaker, bool) {
	for _, name := range names {
		if b, ok := s.breakers[name]; ok {
			return b, true
		}
	}
	return nil, false
}

// Require fails with a CONFIGURATION_ERROR unless every name is present.
func (s *Set) Require(names ...string) error {
	for _, name := range names {
		if _, ok := s.breakers[name]; !ok {
			return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("breaker %q is not configured", name))
		}
	}
	return nil
}

// Names lists the breakers in lexical order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.breakers))
	for name := range s.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Statuses returns a snapshot of every breaker in lexical order.
func (s *Set) Statuses() []Status {
	out := make([]Status, 0, len(s.breakers))
	for _, name := range s.Names() {
		out = append(out, s.breakers[name].Status())
	}
	return out
}

// Reset forces the named breaker CLOSED.
func (s *Set) Reset(name string) error {
	b, ok := s.breakers[name]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("breaker %q not found", name))
	}
	b.Reset()
	return nil
}

// Subscribe registers o on every breaker in the set.
func (s *Set) Subscribe(o Observer) {
	for _, b := range s.breakers {
		b.Subscribe(o)
	}
}
