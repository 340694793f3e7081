package arbiter

import (
	"context"
	"fmt"

	"github.com/phytokb/canopy/internal/core/common"
	"github.com/phytokb/canopy/internal/core/model"
	"github.com/phytokb/canopy/internal/llm"
)

// LLMOracle asks a text model to pick the candidate concept the mention
// denotes, or "none" when no candidate fits.
type LLMOracle struct {
	name string
	LLM  llm.LLMClient
}

func NewLLMOracle(name string, client llm.LLMClient) *LLMOracle {
	if name == "" {
		name = "llm"
	}
	return &LLMOracle{name: name, LLM: client}
}

func (o *LLMOracle) Name() string { return o.name }

type llmVoteResponse struct {
	ConceptID  string  `json:"concept_id"`
	Confidence float64 `json:"confidence"`
}

func (o *LLMOracle) Judge(ctx context.Context, m model.Mention, candidates []model.CandidateMapping) (model.OracleVote, error) {
	vote := model.OracleVote{Oracle: o.name}
	if len(candidates) == 0 {
		return vote, nil
	}

	var candidateList string
	for _, c := range candidates {
		candidateList += fmt.Sprintf("- %s (source: %s, match score: %.2f)\n", c.ConceptID, c.SourceVocab, c.Score)
	}

	prompt := fmt.Sprintf(`A scientific text about plant metabolites mentions the entity below.
Decide which candidate concept the mention denotes.

Mention: %q (entity type: %s, document: %s)

Candidate concepts:
%s
Instructions:
Pick exactly one candidate concept id, or "none" if no candidate fits.
Return a JSON object with "concept_id" (string) and "confidence" (float in [0,1]).

Example JSON:
{"concept_id": "chebi:16243", "confidence": 0.9}
`, m.NormalizedText, m.EntityType, m.DocumentID, candidateList)

	response, err := o.LLM.Generate(ctx, prompt)
	if err != nil {
		return vote, err
	}

	parsed, err := common.ParseJSON[llmVoteResponse](response)
	if err != nil {
		return vote, err
	}

	if parsed.ConceptID == "" || parsed.ConceptID == "none" {
		return vote, nil // explicit abstention
	}

	// Guard against hallucinated ids: the selection must come from the
	// candidate set.
	for _, c := range candidates {
		if c.ConceptID == parsed.ConceptID {
			vote.ConceptID = parsed.ConceptID
			vote.Confidence = clamp01(parsed.Confidence)
			return vote, nil
		}
	}
	return vote, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
