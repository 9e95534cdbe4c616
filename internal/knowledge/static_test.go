package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentRouter/internal/catalog"
)

func TestRetrieveFiltersByKeywordAndDomain(t *testing.T) {
	p := NewStaticProvider([]Snippet{
		{Title: "ACS pathway", Keywords: []string{"chest pain"}, Domains: []catalog.Domain{catalog.DomainClinical}},
		{Title: "Claim codes", Keywords: []string{"chest pain"}, Domains: []catalog.Domain{catalog.DomainBilling}},
		{Title: "Triage basics"},
		{Title: "Stroke", Keywords: []string{"stroke"}},
	}, 5)
	h := &catalog.Descriptor{ID: "c", Domain: catalog.DomainClinical}

	got, err := p.Retrieve(context.Background(), "Chest pain differential", h)
	require.NoError(t, err)
	titles := make([]string, 0, len(got))
	for _, s := range got {
		titles = append(titles, s.Title)
	}
	assert.Equal(t, []string{"ACS pathway", "Triage basics"}, titles)
}

func TestRetrieveUsesFocusAreas(t *testing.T) {
	p := NewStaticProvider([]Snippet{{Title: "ED flow", Keywords: []string{"emergency"}}}, 1)
	got, err := p.Retrieve(context.Background(), "what next",
		&catalog.Descriptor{Domain: catalog.DomainClinical, FocusAreas: []string{"Emergency medicine"}})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRetrieveLimitsResults(t *testing.T) {
	p := NewStaticProvider([]Snippet{{Title: "a"}, {Title: "b"}, {Title: "c"}, {Title: "d"}}, 0)
	got, err := p.Retrieve(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestLoadStaticProviderYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- title: ACS\n  content: troponin\n  keywords: [chest]\n"), 0o644))

	p, err := LoadStaticProvider(path, 2)
	require.NoError(t, err)
	got, err := p.Retrieve(context.Background(), "chest pain", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "troponin", got[0].Content)

	_, err = LoadStaticProvider("", 2)
	assert.Error(t, err)
}
