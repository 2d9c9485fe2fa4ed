package pipeline

import "forensicgraph/internal/evidence"

// Enricher expands the evidence graph with external intelligence after the
// initial build. Implementations add EFI nodes against the entities that
// triggered them; the kernel gate after the stage bounds how much expansion
// is accepted.
type Enricher interface {
	Enrich(g *evidence.Graph) error
}

// LeadChaser runs the final expansion stage, resolving open leads into
// discovered artifacts.
type LeadChaser interface {
	Chase(g *evidence.Graph) error
}

// NoopEnricher leaves the graph untouched. Used when no intelligence
// backends are configured.
type NoopEnricher struct{}

func (NoopEnricher) Enrich(*evidence.Graph) error { return nil }

// NoopChaser leaves the graph untouched.
type NoopChaser struct{}

func (NoopChaser) Chase(*evidence.Graph) error { return nil }
