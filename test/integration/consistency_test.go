//go:build integration

package integration

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phytokb/canopy/internal/core/model"
)

func TestCardinalityConflictReviewFlow(t *testing.T) {
	env := newTestEnv(t, panelFor("", "a"),
		`{"justification": "Two mutually exclusive accumulation sites were reported for the same metabolite."}`)

	assertFact := func(predicate, object string) []string {
		w, fields := env.do(t, http.MethodPost, "/facts", map[string]any{
			"cluster_id":        "cl-quercetin",
			"predicate":         predicate,
			"object_concept_id": object,
			"observed_at":       time.Now().UTC().Format(time.RFC3339),
			"confidence":        0.8,
		})
		requireStatus(t, w, http.StatusOK)
		var violations []string
		require.NoError(t, json.Unmarshal(fields["violations"], &violations))
		return violations
	}

	violations := assertFact("primary_accumulation_site", "po:leaf")
	assert.Empty(t, violations)

	// Second value for a functional predicate: committed anyway, flagged.
	violations = assertFact("primary_accumulation_site", "po:root")
	require.Len(t, violations, 1)

	w, fields := env.do(t, http.MethodGet, "/conflicts", nil)
	requireStatus(t, w, http.StatusOK)
	conflicts := decode[[]model.ConflictRecord](t, fields["conflicts"])
	require.Len(t, conflicts, 1)
	rec := conflicts[0]
	assert.Equal(t, model.ConflictCardinality, rec.Kind)
	require.Len(t, rec.Facts, 2)
	assert.Equal(t, "po:leaf", rec.Facts[0].ObjectConceptID)
	assert.Equal(t, "po:root", rec.Facts[1].ObjectConceptID)

	// A reviewer asks for a justification, then closes the conflict.
	w, fields = env.do(t, http.MethodPost, "/conflicts/"+rec.ConflictID+"/justify", nil)
	requireStatus(t, w, http.StatusOK)
	assert.Contains(t, string(fields["justification"]), "mutually exclusive accumulation sites")

	w, _ = env.do(t, http.MethodPost, "/conflicts/"+rec.ConflictID+"/close",
		map[string]any{"resolution": "kept po:leaf per curator"})
	requireStatus(t, w, http.StatusOK)

	w, fields = env.do(t, http.MethodGet, "/conflicts", nil)
	requireStatus(t, w, http.StatusOK)
	conflicts = decode[[]model.ConflictRecord](t, fields["conflicts"])
	assert.Empty(t, conflicts)
}

func TestJustifyUnknownConflict(t *testing.T) {
	env := newTestEnv(t, panelFor("", "a"), `{"justification": "n/a"}`)

	w, _ := env.do(t, http.MethodPost, "/conflicts/never-existed/justify", nil)
	requireStatus(t, w, http.StatusNotFound)
}
