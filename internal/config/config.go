package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// MatchingConfig holds the candidate generator thresholds. All of these are
// tunable; the defaults below are the reference values.
type MatchingConfig struct {
	FuzzyFloor          float64 `toml:"fuzzy_floor"`
	SemanticFloor       float64 `toml:"semantic_floor"`
	SemanticDiscount    float64 `toml:"semantic_discount"`
	AutoAcceptThreshold float64 `toml:"auto_accept_threshold"`
	AutoAcceptMargin    float64 `toml:"auto_accept_margin"`
	StopAfterExact      bool    `toml:"stop_after_exact"`
	MaxCandidates       int     `toml:"max_candidates"`
}

type OracleConfig struct {
	Name     string  `toml:"name"`
	Type     string  `toml:"type"` // llm | heuristic | fallback
	Provider string  `toml:"provider,omitempty"`
	Model    string  `toml:"model,omitempty"`
	Weight   float64 `toml:"weight"`
}

type ConsensusConfig struct {
	AgreementThreshold  float64        `toml:"agreement_threshold"`
	QuorumFraction      float64        `toml:"quorum_fraction"`
	TopK                int            `toml:"top_k"`
	OracleTimeoutSecs   int            `toml:"oracle_timeout_seconds"`
	RetryTimeoutSecs    int            `toml:"retry_timeout_seconds"`
	OracleRatePerSecond float64        `toml:"oracle_rate_per_second"`
	OracleRateBurst     int            `toml:"oracle_rate_burst"`
	Oracles             []OracleConfig `toml:"oracle"`
}

func (c ConsensusConfig) OracleTimeout() time.Duration {
	return time.Duration(c.OracleTimeoutSecs) * time.Second
}

func (c ConsensusConfig) RetryTimeout() time.Duration {
	return time.Duration(c.RetryTimeoutSecs) * time.Second
}

// PrecedenceConfig lists trusted source vocabularies, most curated first.
type PrecedenceConfig struct {
	Sources []string `toml:"sources"`
}

type ConsistencyConfig struct {
	FunctionalPredicates []string   `toml:"functional_predicates"`
	MutexPairs           [][]string `toml:"mutex_pairs"`
	Penalty              float64    `toml:"penalty"`
}

// PromptsConfig holds the templates for model-facing text, overridable per
// deployment without a rebuild.
type PromptsConfig struct {
	ConflictJustification string `toml:"conflict_justification"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type ConcurrencyConfig struct {
	Workers      int `toml:"workers"`
	VocabRetries int `toml:"vocab_retries"`
}

type Config struct {
	LLM         LLMConfig         `toml:"llm"`
	Memgraph    MemgraphConfig    `toml:"memgraph"`
	Matching    MatchingConfig    `toml:"matching"`
	Consensus   ConsensusConfig   `toml:"consensus"`
	Precedence  PrecedenceConfig  `toml:"precedence"`
	Consistency ConsistencyConfig `toml:"consistency"`
	Prompts     PromptsConfig     `toml:"prompts"`
	Store       StoreConfig       `toml:"store"`
	Concurrency ConcurrencyConfig `toml:"concurrency"`
}

// Default returns the reference configuration from the design notes.
func Default() *Config {
	return &Config{
		Matching: MatchingConfig{
			FuzzyFloor:          0.75,
			SemanticFloor:       0.70,
			SemanticDiscount:    0.9,
			AutoAcceptThreshold: 0.85,
			AutoAcceptMargin:    0.05,
			StopAfterExact:      true,
			MaxCandidates:       10,
		},
		Consensus: ConsensusConfig{
			AgreementThreshold:  0.66,
			QuorumFraction:      0.5,
			TopK:                5,
			OracleTimeoutSecs:   30,
			RetryTimeoutSecs:    60,
			OracleRatePerSecond: 10,
			OracleRateBurst:     5,
		},
		Consistency: ConsistencyConfig{
			Penalty: 0.25,
		},
		Prompts: PromptsConfig{
			ConflictJustification: `The following disagreement arose while resolving entity mentions from plant-metabolite literature to canonical concepts.

%s

Write a short justification for a human reviewer: what disagrees, which evidence supports each side, and what a reviewer should check to settle it.
Return a JSON object with a single key "justification".`,
		},
		Store: StoreConfig{
			Path: "data/canopy.db",
		},
		Concurrency: ConcurrencyConfig{
			Workers:      8,
			VocabRetries: 4,
		},
	}
}

// Load reads a TOML file over the defaults, so a partial file only overrides
// what it names.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %q", path)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse TOML")
	}

	return cfg, nil
}
