// Package explain generates human-readable justifications for conflict
// records on the review stream. The justification is advisory text for a
// reviewer; it never feeds back into resolution, so a model failure degrades
// to a deterministic rendering of the record instead of an error.
package explain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phytokb/canopy/internal/config"
	"github.com/phytokb/canopy/internal/core/common"
	"github.com/phytokb/canopy/internal/core/model"
	"github.com/phytokb/canopy/internal/llm"
)

type justification struct {
	Justification string `json:"justification"`
}

// Generator writes review justifications for conflict records.
type Generator struct {
	llm    llm.LLMClient
	prompt string
	logger *zap.Logger
}

func New(client llm.LLMClient, prompts config.PromptsConfig, logger *zap.Logger) *Generator {
	return &Generator{llm: client, prompt: prompts.ConflictJustification, logger: logger}
}

// JustifyConflict produces a prose explanation of why the conflict exists
// and what evidence bears on each side.
func (g *Generator) JustifyConflict(ctx context.Context, rec model.ConflictRecord) (string, error) {
	rendered := Render(rec)
	if g.llm == nil || g.prompt == "" {
		return rendered, nil
	}

	response, err := g.llm.Generate(ctx, fmt.Sprintf(g.prompt, rendered))
	if err != nil {
		g.logger.Warn("justification generation degraded to record rendering",
			zap.String("conflict_id", rec.ConflictID),
			zap.Error(err))
		return rendered, nil
	}

	parsed, err := common.ParseJSON[justification](response)
	if err == nil && parsed.Justification != "" {
		return parsed.Justification, nil
	}
	// Some models answer in plain prose despite the instruction.
	if trimmed := strings.TrimSpace(response); trimmed != "" {
		return trimmed, nil
	}
	return rendered, nil
}

// Render lays out a conflict record as reviewer-facing text. Also the
// fallback justification when no model is configured.
func Render(rec model.ConflictRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conflict %s (%s)", rec.ConflictID, rec.Kind)
	if rec.MentionID != "" {
		fmt.Fprintf(&b, " over mention %s", rec.MentionID)
	}
	if rec.ClusterID != "" {
		fmt.Fprintf(&b, " in cluster %s", rec.ClusterID)
	}
	b.WriteString("\n")
	if rec.Detail != "" {
		fmt.Fprintf(&b, "Detail: %s\n", rec.Detail)
	}

	if len(rec.Candidates) > 0 {
		b.WriteString("Candidates considered:\n")
		for _, c := range rec.Candidates {
			fmt.Fprintf(&b, "- %s (%s, score %.2f", c.ConceptID, c.Method, c.Score)
			if c.SourceVocab != "" {
				fmt.Fprintf(&b, ", source %s", c.SourceVocab)
			}
			b.WriteString(")\n")
		}
	}

	if len(rec.Votes) > 0 {
		b.WriteString("Oracle votes:\n")
		for _, v := range rec.Votes {
			if v.ConceptID == "" {
				fmt.Fprintf(&b, "- %s abstained\n", v.Oracle)
				continue
			}
			fmt.Fprintf(&b, "- %s chose %s (confidence %.2f)\n", v.Oracle, v.ConceptID, v.Confidence)
		}
	}

	if len(rec.Facts) > 0 {
		b.WriteString("Conflicting facts:\n")
		for _, f := range rec.Facts {
			fmt.Fprintf(&b, "- %s %s %s", f.ClusterID, f.Predicate, f.ObjectConceptID)
			if !f.ObservedAt.IsZero() {
				fmt.Fprintf(&b, " (observed %s)", f.ObservedAt.Format(time.RFC3339))
			}
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
