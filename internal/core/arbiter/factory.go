package arbiter

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/phytokb/canopy/internal/config"
	"github.com/phytokb/canopy/internal/llm"
	"github.com/phytokb/canopy/internal/vocab"
)

// FromConfig builds the oracle panel. An oracle entry naming its own
// provider/model gets a dedicated client (sharing the base credentials);
// otherwise it reuses the default client. With no oracles configured the
// panel degrades to the deterministic pair, so arbitration always has a
// quorum to work with.
func FromConfig(ctx context.Context, cfgs []config.OracleConfig, base config.LLMConfig, defaultClient llm.LLMClient, store vocab.Store) ([]WeightedOracle, error) {
	if len(cfgs) == 0 {
		panel := []WeightedOracle{
			{Oracle: NewHeuristicOracle(""), Weight: 1},
			{Oracle: NewFallbackOracle(""), Weight: 1},
		}
		if defaultClient != nil {
			panel = append([]WeightedOracle{{Oracle: NewLLMOracle("", defaultClient), Weight: 1}}, panel...)
		}
		return panel, nil
	}

	var panel []WeightedOracle
	for _, oc := range cfgs {
		weight := oc.Weight
		if weight <= 0 {
			weight = 1
		}

		var oracle Oracle
		switch oc.Type {
		case "llm":
			client := defaultClient
			if oc.Provider != "" {
				llmCfg := base
				llmCfg.Provider = oc.Provider
				if oc.Model != "" {
					llmCfg.Model = oc.Model
				}
				c, _, err := llm.NewClient(ctx, llmCfg)
				if err != nil {
					return nil, errors.Wrapf(err, "building oracle %q", oc.Name)
				}
				client = c
			}
			if client == nil {
				return nil, errors.Newf("oracle %q needs an llm client", oc.Name)
			}
			oracle = NewLLMOracle(oc.Name, client)

		case "reranker":
			if defaultClient == nil {
				return nil, errors.Newf("oracle %q needs an llm client", oc.Name)
			}
			oracle = NewRerankOracle(oc.Name, llm.NewSimpleLLMReranker(defaultClient), store)

		case "heuristic":
			oracle = NewHeuristicOracle(oc.Name)

		case "fallback":
			oracle = NewFallbackOracle(oc.Name)

		default:
			return nil, errors.Newf("unknown oracle type %q", oc.Type)
		}

		panel = append(panel, WeightedOracle{Oracle: oracle, Weight: weight})
	}
	return panel, nil
}
