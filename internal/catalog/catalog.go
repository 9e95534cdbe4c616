package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	xerrors "AgentRouter/internal/errors"
)

// Catalog is an immutable snapshot of the handler pool with pre-built
// lookup indexes.
type Catalog struct {
	handlers []*Descriptor
	byID     map[string]*Descriptor
	byDomain map[Domain][]*Descriptor
	byIntent map[string][]*Descriptor
	loadedAt time.Time
	source   string
}

// New validates descriptors and builds a catalog. intents maps an intent
// label to the ids of handlers pre-associated with it; ids are kept in the
// order given and duplicates are dropped.
func New(descriptors []Descriptor, intents map[string][]string) (*Catalog, error) {
	c := &Catalog{
		handlers: make([]*Descriptor, 0, len(descriptors)),
		byID:     make(map[string]*Descriptor, len(descriptors)),
		byDomain: make(map[Domain][]*Descriptor),
		byIntent: make(map[string][]*Descriptor, len(intents)),
		loadedAt: time.Now(),
	}

	for i := range descriptors {
		d := descriptors[i].clone()
		d.ID = strings.TrimSpace(d.ID)
		d.Domain = Domain(strings.ToLower(string(d.Domain)))
		if err := validateDescriptor(d); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeCatalogInvalid, err, fmt.Sprintf("handler #%d", i),
				xerrors.WithMetadata("handler_id", d.ID))
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, xerrors.New(xerrors.CodeCatalogInvalid, fmt.Sprintf("duplicate handler id %q", d.ID),
				xerrors.WithMetadata("handler_id", d.ID))
		}
		ptr := &d
		c.handlers = append(c.handlers, ptr)
		c.byID[d.ID] = ptr
		c.byDomain[d.Domain] = append(c.byDomain[d.Domain], ptr)
	}

	labels := make([]string, 0, len(intents))
	for label := range intents {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		key := normalizeIntent(label)
		if key == "" {
			continue
		}
		seen := make(map[string]struct{})
		for _, h := range c.byIntent[key] {
			seen[h.ID] = struct{}{}
		}
		for _, id := range intents[label] {
			id = strings.TrimSpace(id)
			h, ok := c.byID[id]
			if !ok {
				return nil, xerrors.New(xerrors.CodeCatalogInvalid,
					fmt.Sprintf("intent %q references unknown handler %q", label, id),
					xerrors.WithMetadata("handler_id", id))
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			c.byIntent[key] = append(c.byIntent[key], h)
		}
	}
	return c, nil
}

func validateDescriptor(d Descriptor) error {
	if err := validate.Struct(d); err != nil {
		return err
	}
	if !d.Domain.Valid() {
		return fmt.Errorf("unknown domain %q", d.Domain)
	}
	return nil
}

func normalizeIntent(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Len returns the number of handlers.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.handlers)
}

// All returns every handler in load order.
func (c *Catalog) All() []*Descriptor {
	if c == nil {
		return nil
	}
	return append([]*Descriptor(nil), c.handlers...)
}

// Get looks a handler up by id.
func (c *Catalog) Get(id string) (*Descriptor, bool) {
	if c == nil {
		return nil, false
	}
	d, ok := c.byID[id]
	return d, ok
}

// ByDomain returns the handlers tagged with domain, in load order.
func (c *Catalog) ByDomain(domain Domain) []*Descriptor {
	if c == nil {
		return nil
	}
	return append([]*Descriptor(nil), c.byDomain[Domain(strings.ToLower(string(domain)))]...)
}

// ByIntent returns the handlers pre-associated with an intent label.
func (c *Catalog) ByIntent(label string) []*Descriptor {
	if c == nil {
		return nil
	}
	return append([]*Descriptor(nil), c.byIntent[normalizeIntent(label)]...)
}

// Intents returns the labels that have at least one associated handler.
func (c *Catalog) Intents() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.byIntent))
	for label := range c.byIntent {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// LoadedAt reports when the snapshot was built.
func (c *Catalog) LoadedAt() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.loadedAt
}

// Source is the file the snapshot was loaded from, if any.
func (c *Catalog) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}
