package judge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/plumeng/evalbatch/internal/domain"
	"github.com/plumeng/evalbatch/internal/observability"
	"github.com/plumeng/evalbatch/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minConcurrency      = 1
	defaultSubBatchSize = 50
	rateLimitScope      = "judge"
	subBatchPacing      = time.Second
	transientRetryDelay = 2 * time.Second
)

// Judge evaluates a day's worth of pairs and produces aggregate statistics.
type Judge interface {
	EvaluateBatch(ctx context.Context, day time.Time, pairs []domain.Pair) ([]domain.EvaluationResult, domain.BatchEvaluation, error)
}

// Service fans pairs out to a bounded worker pool over the judge client.
// Per-pair failures become ERROR-status results and never abort the batch;
// only context cancellation returns an error, together with the partial
// results gathered so far.
type Service struct {
	client       Client
	limiter      ratelimit.RateLimiter
	logger       *zap.Logger
	metrics      *observability.Metrics
	model        string
	subBatchSize int
	concurrency  int
	maxRetries   int
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewService(
	client Client,
	limiter ratelimit.RateLimiter,
	model string,
	subBatchSize int,
	concurrency int,
	maxRetries int,
	logger *zap.Logger,
) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("judge client is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if subBatchSize <= 0 {
		subBatchSize = defaultSubBatchSize
	}
	if concurrency < minConcurrency {
		concurrency = minConcurrency
	}
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		client:       client,
		limiter:      limiter,
		logger:       logger,
		model:        strings.TrimSpace(model),
		subBatchSize: subBatchSize,
		concurrency:  concurrency,
		maxRetries:   maxRetries,
		now:          time.Now,
		sleep:        sleepWithContext,
	}, nil
}

func (s *Service) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *Service) EvaluateBatch(ctx context.Context, day time.Time, pairs []domain.Pair) ([]domain.EvaluationResult, domain.BatchEvaluation, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	batchID := "BATCH-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	start := s.now()
	results := make([]domain.EvaluationResult, 0, len(pairs))

	s.logger.Info("starting batch evaluation",
		zap.String("batchId", batchID),
		zap.Int("pairs", len(pairs)),
	)

	for offset := 0; offset < len(pairs); offset += s.subBatchSize {
		end := min(offset+s.subBatchSize, len(pairs))
		subBatch := pairs[offset:end]

		subResults, err := s.evaluateSubBatch(ctx, batchID, subBatch)
		results = append(results, subResults...)
		if err != nil {
			batch := domain.Summarize(batchID, day, results, s.now().Sub(start))
			return results, batch, err
		}

		// Pacing between sub-batches bounds load on the judge.
		if end < len(pairs) {
			if err := s.sleep(ctx, subBatchPacing); err != nil {
				batch := domain.Summarize(batchID, day, results, s.now().Sub(start))
				return results, batch, err
			}
		}
	}

	batch := domain.Summarize(batchID, day, results, s.now().Sub(start))

	if s.metrics != nil {
		s.metrics.IncPairsEvaluated(domain.EvaluationPass.String(), batch.Passed)
		s.metrics.IncPairsEvaluated(domain.EvaluationFail.String(), batch.Failed)
		s.metrics.IncPairsEvaluated(domain.EvaluationError.String(), batch.Errors)
	}

	s.logger.Info("batch evaluation finished",
		zap.String("batchId", batchID),
		zap.String("summary", batch.SummaryText()),
	)

	return results, batch, nil
}

func (s *Service) evaluateSubBatch(ctx context.Context, batchID string, pairs []domain.Pair) ([]domain.EvaluationResult, error) {
	results := make([]domain.EvaluationResult, len(pairs))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range pairs {
		g.Go(func() error {
			result, err := s.evaluatePair(groupCtx, batchID, pairs[i])
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Cancellation mid-pool: keep only the results that were produced.
		produced := make([]domain.EvaluationResult, 0, len(results))
		for i := range results {
			if results[i].EvaluationID != "" {
				produced = append(produced, results[i])
			}
		}
		return produced, err
	}

	return results, nil
}

// evaluatePair returns an error only on context cancellation; every other
// failure is folded into an ERROR-status result.
func (s *Service) evaluatePair(ctx context.Context, batchID string, pair domain.Pair) (domain.EvaluationResult, error) {
	result := domain.EvaluationResult{
		EvaluationID:   uuid.NewString(),
		BatchID:        batchID,
		InteractionID:  pair.InteractionID,
		CallID:         pair.CallID,
		CustomerID:     pair.CustomerID,
		AgentID:        pair.AgentID,
		LOB:            pair.LOB,
		AccountNumber:  pair.AccountNumber,
		StartTimestamp: pair.StartTimestamp,
		Model:          s.model,
	}

	start := s.now()
	verdict, err := s.evaluateWithRetry(ctx, pair)
	duration := s.now().Sub(start)

	result.EvaluatedAt = s.now().UTC()
	result.DurationSeconds = duration.Seconds()

	if s.metrics != nil {
		s.metrics.ObserveJudgeCallDuration(duration)
	}

	if err != nil {
		if ctx.Err() != nil {
			return domain.EvaluationResult{}, ctx.Err()
		}
		s.logger.Warn("pair evaluation failed",
			zap.String("interactionId", pair.InteractionID),
			zap.Error(err),
		)
		result.Status = domain.EvaluationError
		result.Reason = "evaluation error: " + err.Error()
		return result, nil
	}

	result.Status = verdict.Status
	result.Reason = verdict.Reason
	result.ConfidenceScore = verdict.Confidence
	return result, nil
}

func (s *Service) evaluateWithRetry(ctx context.Context, pair domain.Pair) (*Verdict, error) {
	var lastErr error

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := s.limiter.Wait(ctx, rateLimitScope); err != nil {
			return nil, err
		}

		verdict, err := s.client.Evaluate(ctx, pair)
		if err == nil {
			return verdict, nil
		}

		lastErr = err
		if !IsTransient(err) || attempt == s.maxRetries-1 {
			break
		}

		if err := s.sleep(ctx, transientRetryDelay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
