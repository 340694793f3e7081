package vocab

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/phytokb/canopy/internal/core/model"
)

// MemgraphStore reads the concept vocabulary from a Memgraph instance over
// bolt. Definitions are indexed for vector search under
// "concept_definitions".
type MemgraphStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

func NewMemgraphStore(uri, username, password string, logger *zap.Logger) (*MemgraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bolt driver")
	}

	if err := driver.VerifyConnectivity(context.Background()); err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}

	logger.Info("connected to vocabulary store", zap.String("uri", uri))
	return &MemgraphStore{driver: driver, logger: logger}, nil
}

func (s *MemgraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *MemgraphStore) execute(ctx context.Context, query string, params map[string]interface{}) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		// Bolt-level failures are retried by the caller and eventually
		// degrade; they never fail the pipeline outright.
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	return result, nil
}

func (s *MemgraphStore) LookupLabel(ctx context.Context, canonical string) ([]model.Concept, error) {
	res, err := s.execute(ctx, lookupLabelQuery, map[string]interface{}{"canonical": canonical})
	if err != nil {
		return nil, err
	}
	return conceptsFromRecords(res), nil
}

func (s *MemgraphStore) CandidateLabels(ctx context.Context, canonical string, limit int) ([]model.Concept, error) {
	res, err := s.execute(ctx, candidateLabelsQuery, map[string]interface{}{
		"tokens": Tokens(canonical),
		"limit":  limit,
	})
	if err != nil {
		return nil, err
	}
	return conceptsFromRecords(res), nil
}

func (s *MemgraphStore) NearestConcepts(ctx context.Context, vector []float32, limit int) ([]ScoredConcept, error) {
	res, err := s.execute(ctx, nearestConceptsQuery, map[string]interface{}{
		"vector": vector,
		"limit":  limit,
	})
	if err != nil {
		return nil, err
	}

	var scored []ScoredConcept
	for _, rec := range res.Records {
		c := conceptFromRecord(rec)
		sim, _ := rec.Get("similarity")
		similarity, _ := sim.(float64)
		scored = append(scored, ScoredConcept{Concept: c, Similarity: similarity})
	}
	return scored, nil
}

func (s *MemgraphStore) GetConcept(ctx context.Context, id string) (*model.Concept, error) {
	res, err := s.execute(ctx, getConceptQuery, map[string]interface{}{"concept_id": id})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, nil
	}
	c := conceptFromRecord(res.Records[0])
	return &c, nil
}

func (s *MemgraphStore) Equivalents(ctx context.Context, id string) ([]string, error) {
	res, err := s.execute(ctx, equivalentsQuery, map[string]interface{}{"concept_id": id})
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, rec := range res.Records {
		v, _ := rec.Get("concept_id")
		if cid, ok := v.(string); ok {
			ids = append(ids, cid)
		}
	}
	return ids, nil
}

func conceptsFromRecords(res *neo4j.EagerResult) []model.Concept {
	var concepts []model.Concept
	for _, rec := range res.Records {
		concepts = append(concepts, conceptFromRecord(rec))
	}
	return concepts
}

func conceptFromRecord(rec *neo4j.Record) model.Concept {
	c := model.Concept{}
	if v, ok := rec.Get("concept_id"); ok {
		c.ConceptID, _ = v.(string)
	}
	if v, ok := rec.Get("label"); ok {
		c.Label, _ = v.(string)
	}
	if v, ok := rec.Get("definition"); ok {
		c.Definition, _ = v.(string)
	}
	if v, ok := rec.Get("source_vocab"); ok {
		c.SourceVocab, _ = v.(string)
	}
	if v, ok := rec.Get("precedence_tier"); ok {
		if tier, ok := v.(int64); ok {
			c.PrecedenceTier = int(tier)
		}
	}
	if v, ok := rec.Get("usage_weight"); ok {
		c.UsageWeight, _ = v.(float64)
	}
	if v, ok := rec.Get("synonyms"); ok {
		if raw, ok := v.([]interface{}); ok {
			for _, s := range raw {
				if syn, ok := s.(string); ok {
					c.Synonyms = append(c.Synonyms, syn)
				}
			}
		}
	}
	return c
}
