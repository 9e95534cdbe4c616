package catalog

import (
	"fmt"
	"strings"
)

// Domain is one of the fixed domain tags a handler can belong to.
type Domain string

const (
	DomainGeneral              Domain = "general"
	DomainClinical             Domain = "clinical"
	DomainCardiology           Domain = "cardiology"
	DomainNeurology            Domain = "neurology"
	DomainOncology             Domain = "oncology"
	DomainPediatrics           Domain = "pediatrics"
	DomainPharmacology         Domain = "pharmacology"
	DomainRadiology            Domain = "radiology"
	DomainLaboratory           Domain = "laboratory"
	DomainSurgery              Domain = "surgery"
	DomainMentalHealth         Domain = "mental-health"
	DomainNursing              Domain = "nursing"
	DomainBilling              Domain = "billing"
	DomainCompliance           Domain = "compliance"
	DomainResearch             Domain = "research"
	DomainOperations           Domain = "operations"
	DomainPatientCommunication Domain = "patient-communication"
)

var knownDomains = map[Domain]struct{}{
	DomainGeneral:              {},
	DomainClinical:             {},
	DomainCardiology:           {},
	DomainNeurology:            {},
	DomainOncology:             {},
	DomainPediatrics:           {},
	DomainPharmacology:         {},
	DomainRadiology:            {},
	DomainLaboratory:           {},
	DomainSurgery:              {},
	DomainMentalHealth:         {},
	DomainNursing:              {},
	DomainBilling:              {},
	DomainCompliance:           {},
	DomainResearch:             {},
	DomainOperations:           {},
	DomainPatientCommunication: {},
}

// ParseDomain normalises s and checks it against the known domain tags.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown domain %q", s)
	}
	return d, nil
}

// Valid reports whether d is a known domain tag.
func (d Domain) Valid() bool {
	_, ok := knownDomains[d]
	return ok
}

// Domains returns every known domain tag.
func Domains() []Domain {
	out := make([]Domain, 0, len(knownDomains))
	for d := range knownDomains {
		out = append(out, d)
	}
	return out
}

// Descriptor describes one routable handler. Descriptors are created when a
// catalog is built and must be treated as read-only afterwards.
type Descriptor struct {
	ID           string   `json:"id" yaml:"id" validate:"required"`
	Name         string   `json:"name" yaml:"name" validate:"required"`
	Tier         int      `json:"tier" yaml:"tier" validate:"min=1"`
	Domain       Domain   `json:"domain" yaml:"domain" validate:"required"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	FocusAreas   []string `json:"focus_areas,omitempty" yaml:"focus_areas"`
	Expertise    string   `json:"expertise,omitempty" yaml:"expertise"`

	// Downstream needs. Generation is always performed.
	Retrieval bool     `json:"retrieval,omitempty" yaml:"retrieval"`
	Tools     []string `json:"tools,omitempty" yaml:"tools"`
	Prompt    string   `json:"prompt,omitempty" yaml:"prompt"`
}

func (d Descriptor) clone() Descriptor {
	d.Capabilities = append([]string(nil), d.Capabilities...)
	d.FocusAreas = append([]string(nil), d.FocusAreas...)
	d.Tools = append([]string(nil), d.Tools...)
	return d
}
