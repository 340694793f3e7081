package arbiter

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/phytokb/canopy/internal/config"
	"github.com/phytokb/canopy/internal/core/model"
)

// ErrQuorum reports that too few oracles responded for a trustworthy
// verdict, after the constrained retry.
var ErrQuorum = errors.New("consensus quorum not met")

// Verdict is the aggregated outcome of one arbitration round.
type Verdict struct {
	// Resolved is true when agreement and quorum both cleared their
	// thresholds.
	Resolved  bool
	ConceptID string
	// Agreement is the fraction of responding vote weight concurring with
	// the plurality choice.
	Agreement float64
	// Confidence is agreement × mean confidence of the winning votes.
	Confidence float64
	Votes      []model.OracleVote
	QuorumMet  bool
}

// Arbiter fans a mention out to its oracles concurrently and aggregates the
// votes by weighted plurality.
type Arbiter struct {
	oracles []WeightedOracle
	cfg     config.ConsensusConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(oracles []WeightedOracle, cfg config.ConsensusConfig, logger *zap.Logger) *Arbiter {
	limit := rate.Limit(cfg.OracleRatePerSecond)
	if cfg.OracleRatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.OracleRateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Arbiter{
		oracles: oracles,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Arbitrate queries every configured oracle over the top-K candidates, then
// retries with a longer timeout if quorum failed. It returns ErrQuorum only
// after both rounds fall short; the caller turns that into a ConflictRecord.
func (a *Arbiter) Arbitrate(ctx context.Context, m model.Mention, candidates []model.CandidateMapping) (Verdict, error) {
	if a.cfg.TopK > 0 && len(candidates) > a.cfg.TopK {
		// Candidates arrive ranked best-first; oracles only see the head.
		candidates = candidates[:a.cfg.TopK]
	}

	votes := a.collect(ctx, a.oracles, m, candidates, a.cfg.OracleTimeout())
	verdict := a.aggregate(votes, len(a.oracles))
	if verdict.QuorumMet {
		return verdict, nil
	}

	// Constrained retry: drop the oracles that failed outright, keep the
	// responders and those that merely timed out, and allow a longer
	// deadline. Quorum stays measured against the configured panel, so a
	// mostly-down panel cannot manufacture consensus from one loud voice.
	retryable := make([]WeightedOracle, 0, len(a.oracles))
	for _, wo := range a.oracles {
		for _, v := range votes {
			if v.Oracle == wo.Oracle.Name() && (v.Err == "" || v.Timeout) {
				retryable = append(retryable, wo)
				break
			}
		}
	}
	if len(retryable) == 0 {
		retryable = a.oracles
	}

	a.logger.Info("consensus quorum not met, constrained retry",
		zap.String("mention_id", m.MentionID),
		zap.Int("oracles", len(retryable)),
		zap.Duration("timeout", a.cfg.RetryTimeout()))

	votes = a.collect(ctx, retryable, m, candidates, a.cfg.RetryTimeout())
	verdict = a.aggregate(votes, len(a.oracles))
	if !verdict.QuorumMet {
		return verdict, errors.Wrapf(ErrQuorum, "mention %s", m.MentionID)
	}
	return verdict, nil
}

// collect issues oracle calls concurrently, each under its own timeout and
// behind the shared rate limiter. A timed-out or failed call yields a vote
// carrying its error; it counts as a non-response, never as a vote against.
func (a *Arbiter) collect(ctx context.Context, oracles []WeightedOracle, m model.Mention, candidates []model.CandidateMapping, timeout time.Duration) []model.OracleVote {
	results := make(chan model.OracleVote, len(oracles))

	for _, wo := range oracles {
		go func(o Oracle) {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			if err := a.limiter.Wait(callCtx); err != nil {
				results <- failedVote(o.Name(), err, callCtx)
				return
			}

			vote, err := o.Judge(callCtx, m, candidates)
			if err != nil {
				results <- failedVote(o.Name(), err, callCtx)
				return
			}
			vote.Oracle = o.Name()
			results <- vote
		}(wo.Oracle)
	}

	votes := make([]model.OracleVote, 0, len(oracles))
	for range oracles {
		votes = append(votes, <-results)
	}
	// Channel arrival order is nondeterministic; keep the record stable.
	sort.Slice(votes, func(i, j int) bool { return votes[i].Oracle < votes[j].Oracle })
	return votes
}

// failedVote records a non-response, distinguishing deadline expiry so the
// retry round knows a slower deadline might still get an answer.
func failedVote(oracle string, err error, callCtx context.Context) model.OracleVote {
	v := model.OracleVote{Oracle: oracle, Err: err.Error()}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		v.Timeout = true
	}
	return v
}

func (a *Arbiter) aggregate(votes []model.OracleVote, queried int) Verdict {
	verdict := Verdict{Votes: votes}

	weightOf := make(map[string]float64, len(a.oracles))
	for _, wo := range a.oracles {
		w := wo.Weight
		if w <= 0 {
			w = 1
		}
		weightOf[wo.Oracle.Name()] = w
	}

	var respondedWeight float64
	responded := 0
	tally := make(map[string]float64)
	for _, v := range votes {
		if v.Err != "" {
			continue // abstention by failure
		}
		responded++
		w := weightOf[v.Oracle]
		respondedWeight += w
		tally[v.ConceptID] += w // "" is an explicit "none" selection
	}

	fraction := a.cfg.QuorumFraction
	if fraction <= 0 {
		fraction = 0.5
	}
	verdict.QuorumMet = float64(responded) > float64(queried)*fraction

	if respondedWeight == 0 {
		return verdict
	}

	winner := ""
	winnerWeight := -1.0
	for conceptID, w := range tally {
		if w > winnerWeight || (w == winnerWeight && conceptID < winner) {
			winner = conceptID
			winnerWeight = w
		}
	}

	verdict.Agreement = winnerWeight / respondedWeight
	if winner == "" {
		// Plurality chose "none of these": quorum may hold but there is
		// nothing to resolve to.
		return verdict
	}

	var confSum float64
	var confCount int
	for _, v := range votes {
		if v.Err == "" && v.ConceptID == winner {
			confSum += v.Confidence
			confCount++
		}
	}

	if verdict.QuorumMet && verdict.Agreement >= a.cfg.AgreementThreshold {
		verdict.Resolved = true
		verdict.ConceptID = winner
		verdict.Confidence = verdict.Agreement * (confSum / float64(confCount))
	}
	return verdict
}
