package service

import (
	"context"
	"time"

	"github.com/plumeng/evalbatch/internal/domain"
	"github.com/plumeng/evalbatch/internal/notification"
)

// fakeStateRepo keeps states in memory keyed by day, mimicking the
// upsert semantics of the real store.
type fakeStateRepo struct {
	states map[time.Time]*domain.BatchState

	getOrCreateFn           func(ctx context.Context, day time.Time) (*domain.BatchState, error)
	updateFn                func(ctx context.Context, state *domain.BatchState) error
	deleteCompletedBeforeFn func(ctx context.Context, cutoff time.Time) (int64, error)

	updates int
}

func newFakeStateRepo() *fakeStateRepo {
	return &fakeStateRepo{states: map[time.Time]*domain.BatchState{}}
}

func (f *fakeStateRepo) GetOrCreate(ctx context.Context, day time.Time) (*domain.BatchState, error) {
	if f.getOrCreateFn != nil {
		return f.getOrCreateFn(ctx, day)
	}
	day = domain.NormalizeDay(day)
	if s, ok := f.states[day]; ok {
		return s, nil
	}
	s := domain.NewBatchState(day, domain.DefaultMaxRetries, time.Now())
	f.states[day] = s
	return s, nil
}

func (f *fakeStateRepo) Update(ctx context.Context, state *domain.BatchState) error {
	f.updates++
	if f.updateFn != nil {
		return f.updateFn(ctx, state)
	}
	f.states[state.Day] = state
	return nil
}

func (f *fakeStateRepo) Query(ctx context.Context, statuses []domain.BatchStatus, from, to time.Time) ([]domain.BatchState, error) {
	var out []domain.BatchState
	for _, s := range f.states {
		if s.Day.Before(from) || !s.Day.Before(to) {
			continue
		}
		if len(statuses) == 0 {
			out = append(out, *s)
			continue
		}
		for _, st := range statuses {
			if s.Status == st {
				out = append(out, *s)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStateRepo) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.deleteCompletedBeforeFn != nil {
		return f.deleteCompletedBeforeFn(ctx, cutoff)
	}
	var deleted int64
	for day, s := range f.states {
		if s.Status == domain.StatusCompleted && day.Before(cutoff) {
			delete(f.states, day)
			deleted++
		}
	}
	return deleted, nil
}

type fakePairRepo struct {
	hasDataFn    func(ctx context.Context, day time.Time) (bool, error)
	fetchPairsFn func(ctx context.Context, from, to time.Time) ([]domain.Pair, error)
}

func (f *fakePairRepo) HasDataForDay(ctx context.Context, day time.Time) (bool, error) {
	if f.hasDataFn != nil {
		return f.hasDataFn(ctx, day)
	}
	return true, nil
}

func (f *fakePairRepo) FetchUnevaluatedPairs(ctx context.Context, from, to time.Time) ([]domain.Pair, error) {
	if f.fetchPairsFn != nil {
		return f.fetchPairsFn(ctx, from, to)
	}
	return nil, nil
}

type fakeEvaluationRepo struct {
	saveResultsFn func(ctx context.Context, results []domain.EvaluationResult, batch domain.BatchEvaluation) error
	saved         [][]domain.EvaluationResult
}

func (f *fakeEvaluationRepo) SaveResults(ctx context.Context, results []domain.EvaluationResult, batch domain.BatchEvaluation) error {
	f.saved = append(f.saved, results)
	if f.saveResultsFn != nil {
		return f.saveResultsFn(ctx, results, batch)
	}
	return nil
}

type fakeJudge struct {
	evaluateBatchFn func(ctx context.Context, day time.Time, pairs []domain.Pair) ([]domain.EvaluationResult, domain.BatchEvaluation, error)
}

func (f *fakeJudge) EvaluateBatch(ctx context.Context, day time.Time, pairs []domain.Pair) ([]domain.EvaluationResult, domain.BatchEvaluation, error) {
	if f.evaluateBatchFn != nil {
		return f.evaluateBatchFn(ctx, day, pairs)
	}
	return nil, domain.BatchEvaluation{}, nil
}

type fakeGenerator struct {
	generateFn func(batch domain.BatchEvaluation, results []domain.EvaluationResult) (string, error)
}

func (f *fakeGenerator) GenerateReport(batch domain.BatchEvaluation, results []domain.EvaluationResult) (string, error) {
	if f.generateFn != nil {
		return f.generateFn(batch, results)
	}
	return "/tmp/report.csv", nil
}

type sentAlert struct {
	subject  string
	body     string
	priority notification.Priority
}

type sentReport struct {
	batch      domain.BatchEvaluation
	reportPath string
	isAlert    bool
	isRecovery bool
}

type fakeNotifier struct {
	sendAlertFn  func(ctx context.Context, subject, body string, priority notification.Priority) error
	sendReportFn func(ctx context.Context, batch domain.BatchEvaluation, reportPath string, isAlert, isRecovery bool) error

	alerts  []sentAlert
	reports []sentReport
}

func (f *fakeNotifier) SendAlert(ctx context.Context, subject, body string, priority notification.Priority) error {
	f.alerts = append(f.alerts, sentAlert{subject: subject, body: body, priority: priority})
	if f.sendAlertFn != nil {
		return f.sendAlertFn(ctx, subject, body, priority)
	}
	return nil
}

func (f *fakeNotifier) SendReport(ctx context.Context, batch domain.BatchEvaluation, reportPath string, isAlert, isRecovery bool) error {
	f.reports = append(f.reports, sentReport{batch: batch, reportPath: reportPath, isAlert: isAlert, isRecovery: isRecovery})
	if f.sendReportFn != nil {
		return f.sendReportFn(ctx, batch, reportPath, isAlert, isRecovery)
	}
	return nil
}

// judgeAllPass returns a judge whose every pair passes with the given
// confidence.
func judgeAllPass(confidence float64) *fakeJudge {
	return &fakeJudge{
		evaluateBatchFn: func(ctx context.Context, day time.Time, pairs []domain.Pair) ([]domain.EvaluationResult, domain.BatchEvaluation, error) {
			results := make([]domain.EvaluationResult, 0, len(pairs))
			for i := range pairs {
				c := confidence
				results = append(results, domain.EvaluationResult{
					EvaluationID:    "eval-" + pairs[i].InteractionID,
					BatchID:         "BATCH-test",
					InteractionID:   pairs[i].InteractionID,
					Status:          domain.EvaluationPass,
					ConfidenceScore: &c,
				})
			}
			return results, domain.Summarize("BATCH-test", day, results, time.Second), nil
		},
	}
}

func makePairs(n int) []domain.Pair {
	pairs := make([]domain.Pair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, domain.Pair{
			InteractionID: "int-" + string(rune('a'+i)),
			Transcript:    "transcript",
			Summary:       "summary",
		})
	}
	return pairs
}

func newTestOrchestrator(
	states *fakeStateRepo,
	pairs *fakePairRepo,
	evaluations *fakeEvaluationRepo,
	j *fakeJudge,
	gen *fakeGenerator,
	notifier *fakeNotifier,
) *Orchestrator {
	o, err := NewOrchestrator(
		states, pairs, evaluations, j, gen, notifier,
		nil, 0.85, 3, []string{"ops@example.com"},
	)
	if err != nil {
		panic(err)
	}
	return o
}
