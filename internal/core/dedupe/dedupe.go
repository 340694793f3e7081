// Package dedupe proposes merges between concept clusters that appear to
// denote the same real-world entity without an explicit equivalence link in
// the vocabulary. Proposals come from a model judgment over the clusters'
// representative concepts; the registry applies accepted ones as ordinary
// merges, so the union discipline and audit trail are unchanged.
package dedupe

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/phytokb/canopy/internal/core/common"
	"github.com/phytokb/canopy/internal/core/model"
	"github.com/phytokb/canopy/internal/llm"
	"github.com/phytokb/canopy/internal/vocab"
)

// MergeProposal pairs two concepts the judge considers duplicates.
type MergeProposal struct {
	ConceptA   string  `json:"concept_a"`
	ConceptB   string  `json:"concept_b"`
	Confidence float64 `json:"confidence"`
}

type proposalList struct {
	Duplicates []MergeProposal `json:"duplicates"`
}

// Deduper judges cluster duplicates with an LLM. Floor is the minimum
// proposal confidence worth acting on.
type Deduper struct {
	llm    llm.LLMClient
	vocab  vocab.Store
	logger *zap.Logger
	Floor  float64
}

func New(client llm.LLMClient, store vocab.Store, logger *zap.Logger) *Deduper {
	return &Deduper{llm: client, vocab: store, logger: logger, Floor: 0.85}
}

// ProposeMerges lists duplicate pairs among the representative concepts of
// the given clusters. Concepts whose metadata cannot be fetched are judged
// on id alone; unknown ids and sub-floor proposals are dropped.
func (d *Deduper) ProposeMerges(ctx context.Context, clusters []model.ConceptCluster) ([]MergeProposal, error) {
	if len(clusters) < 2 {
		return nil, nil
	}

	known := make(map[string]bool, len(clusters))
	var listing strings.Builder
	for _, cl := range clusters {
		id := cl.RepresentativeConcept
		if known[id] {
			continue
		}
		known[id] = true

		line := fmt.Sprintf("- %s", id)
		if c, err := d.vocab.GetConcept(ctx, id); err == nil && c != nil {
			line = fmt.Sprintf("- %s: %q (source: %s", id, c.Label, c.SourceVocab)
			if len(c.Synonyms) > 0 {
				line += fmt.Sprintf(", synonyms: %s", strings.Join(c.Synonyms, ", "))
			}
			line += ")"
		}
		listing.WriteString(line)
		listing.WriteString("\n")
	}

	prompt := fmt.Sprintf(`The following canonical concepts each anchor a cluster of resolved entity mentions from plant-metabolite literature.

<CONCEPTS>
%s</CONCEPTS>

Identify pairs of concepts that denote the same real-world entity (the same compound, pathway, or structure under different identifiers).
Return a JSON object with key "duplicates", a list of objects with "concept_a", "concept_b", and "confidence" (float in [0,1]).
Return {"duplicates": []} if none.`, listing.String())

	response, err := d.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	parsed, err := common.ParseJSON[proposalList](response)
	if err != nil {
		return nil, err
	}

	var out []MergeProposal
	for _, p := range parsed.Duplicates {
		if !known[p.ConceptA] || !known[p.ConceptB] || p.ConceptA == p.ConceptB {
			d.logger.Warn("dropping duplicate proposal outside candidate set",
				zap.String("concept_a", p.ConceptA),
				zap.String("concept_b", p.ConceptB))
			continue
		}
		if p.Confidence < d.Floor {
			d.logger.Info("dropping sub-floor duplicate proposal",
				zap.String("concept_a", p.ConceptA),
				zap.String("concept_b", p.ConceptB),
				zap.Float64("confidence", p.Confidence))
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
