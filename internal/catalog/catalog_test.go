package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgentRouter/internal/errors"
)

func TestLoadFileBuildsIndexes(t *testing.T) {
	c, err := LoadFile(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)
	require.Equal(t, 3, c.Len())

	clinical := c.ByDomain(DomainClinical)
	require.Len(t, clinical, 1)
	assert.Equal(t, "clinical-differential", clinical[0].ID)
	assert.True(t, clinical[0].Retrieval)

	assert.Len(t, c.ByIntent("Symptom_Analysis"), 1)
	assert.Len(t, c.ByIntent("claim_review"), 1, "duplicate intent ids are dropped")
	assert.Empty(t, c.ByIntent("unknown"))

	h, ok := c.Get("cardiology-consult")
	require.True(t, ok)
	assert.Equal(t, []string{"ecg-reader"}, h.Tools)
	assert.Equal(t, filepath.Join("testdata", "catalog.yaml"), c.Source())
}

func TestNewRejectsInvalidDescriptors(t *testing.T) {
	cases := map[string][]Descriptor{
		"missing id":     {{Name: "x", Tier: 1, Domain: DomainClinical}},
		"zero tier":      {{ID: "a", Name: "x", Domain: DomainClinical}},
		"unknown domain": {{ID: "a", Name: "x", Tier: 1, Domain: "astrology"}},
		"duplicate id": {
			{ID: "a", Name: "x", Tier: 1, Domain: DomainClinical},
			{ID: "a", Name: "y", Tier: 2, Domain: DomainBilling},
		},
	}
	for name, descriptors := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(descriptors, nil)
			require.Error(t, err)
			assert.Equal(t, xerrors.CodeCatalogInvalid, xerrors.CodeOf(err))
		})
	}
}

func TestNewRejectsUnknownIntentReference(t *testing.T) {
	_, err := New([]Descriptor{{ID: "a", Name: "x", Tier: 1, Domain: DomainClinical}},
		map[string][]string{"triage": {"b"}})
	require.Error(t, err)
}

func TestDescriptorsAreCopied(t *testing.T) {
	src := []Descriptor{{ID: "a", Name: "x", Tier: 1, Domain: DomainClinical, Capabilities: []string{"triage"}}}
	c, err := New(src, nil)
	require.NoError(t, err)
	src[0].Capabilities[0] = "mutated"

	h, _ := c.Get("a")
	assert.Equal(t, "triage", h.Capabilities[0])
}

func TestNilAndEmptyCatalog(t *testing.T) {
	var nilCatalog *Catalog
	assert.Zero(t, nilCatalog.Len())
	assert.Nil(t, nilCatalog.ByDomain(DomainClinical))

	empty, err := New(nil, nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestHolderSwapsSnapshots(t *testing.T) {
	h := NewHolder(nil)
	assert.Zero(t, h.Snapshot().Len())

	first, err := New([]Descriptor{{ID: "a", Name: "x", Tier: 1, Domain: DomainClinical}}, nil)
	require.NoError(t, err)
	h.Store(first)
	snap := h.Snapshot()

	second, err := New(nil, nil)
	require.NoError(t, err)
	h.Store(second)

	assert.Equal(t, 1, snap.Len(), "a taken snapshot is unaffected by refresh")
	assert.Zero(t, h.Snapshot().Len())
	assert.Equal(t, uint64(2), h.Version())
}

func TestWatcherReloadKeepsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	data, err := os.ReadFile(filepath.Join("testdata", "catalog.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	holder := NewHolder(nil)
	reloaded := 0
	w := NewWatcher(path, holder, WithReloadHook(func(*Catalog) { reloaded++ }))
	require.NoError(t, w.Reload())
	require.Equal(t, 3, holder.Snapshot().Len())

	require.NoError(t, os.WriteFile(path, []byte("handlers:\n  - id: broken\n"), 0o644))
	require.Error(t, w.Reload())
	assert.Equal(t, 3, holder.Snapshot().Len())
	assert.Equal(t, 1, reloaded)
}

func TestParseDomain(t *testing.T) {
	d, err := ParseDomain(" Cardiology ")
	require.NoError(t, err)
	assert.Equal(t, DomainCardiology, d)

	_, err = ParseDomain("astrology")
	assert.Error(t, err)
}
