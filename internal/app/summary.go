package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Tasting/internal/domain"
	"github.com/dkeye/Tasting/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

//go:generate mockgen -destination=mocks/mock_summarizer.go -package=mocks github.com/dkeye/Tasting/internal/app Summarizer,Notifier

// SummaryRequest is what the external summarizer receives.
type SummaryRequest struct {
	Session    domain.Session         `json:"session"`
	Transcript []domain.Message       `json:"transcript"`
	Averages   []domain.RatingAverage `json:"averages"`
}

// Summarizer generates the tasting summary from a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
}

// SummaryFailure is one background failure. It only reaches logs and
// metrics, never a client.
type SummaryFailure struct {
	SessionID domain.SessionID
	Err       error
}

type SummaryOptions struct {
	Workers      int
	QueueSize    int
	Timeout      time.Duration
	HistoryLimit int
}

// SummaryWorker runs summary jobs off the request path.
type SummaryWorker struct {
	store      Store
	summarizer Summarizer
	opts       SummaryOptions
	queue      chan domain.SessionID
	errs       chan SummaryFailure
	breaker    *gobreaker.CircuitBreaker[string]
	onFailure  func(SummaryFailure)
}

func NewSummaryWorker(store Store, summarizer Summarizer, opts SummaryOptions) *SummaryWorker {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 500
	}
	return &SummaryWorker{
		store:      store,
		summarizer: summarizer,
		opts:       opts,
		queue:      make(chan domain.SessionID, opts.QueueSize),
		errs:       make(chan SummaryFailure, opts.QueueSize),
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        "summarizer",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("module", "app.summary").Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			},
		}),
	}
}

// OnFailure registers an observer next to the log and metric sinks.
func (w *SummaryWorker) OnFailure(fn func(SummaryFailure)) { w.onFailure = fn }

// Submit queues a job without blocking; false means the queue is full.
func (w *SummaryWorker) Submit(sid domain.SessionID) bool {
	select {
	case w.queue <- sid:
		return true
	default:
		metrics.SummaryJobsTotal.WithLabelValues("dropped").Inc()
		return false
	}
}

// Serve implements suture.Service.
func (w *SummaryWorker) Serve(ctx context.Context) error {
	log.Info().Str("module", "app.summary").Int("workers", w.opts.Workers).Msg("summary worker started")

	var wg conc.WaitGroup
	for i := 0; i < w.opts.Workers; i++ {
		wg.Go(func() { w.loop(ctx) })
	}
	wg.Go(func() { w.drainErrors(ctx) })
	wg.Wait()

	log.Info().Str("module", "app.summary").Msg("summary worker stopped")
	return ctx.Err()
}

func (w *SummaryWorker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sid := <-w.queue:
			var pc panics.Catcher
			var err error
			pc.Try(func() { err = w.Run(ctx, sid) })
			if r := pc.Recovered(); r != nil {
				err = r.AsError()
			}
			if err != nil {
				w.report(SummaryFailure{SessionID: sid, Err: err})
			}
		}
	}
}

func (w *SummaryWorker) report(f SummaryFailure) {
	select {
	case w.errs <- f:
	default:
		log.Error().Err(f.Err).Str("module", "app.summary").Str("session", string(f.SessionID)).Msg("summary failure (error channel full)")
	}
}

func (w *SummaryWorker) drainErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-w.errs:
			metrics.SummaryJobsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
			log.Error().Err(f.Err).Str("module", "app.summary").Str("session", string(f.SessionID)).Msg("summary generation failed")
			if w.onFailure != nil {
				w.onFailure(f)
			}
		}
	}
}

// Run executes one summary job synchronously. It is the unit both the
// in-process worker and the queue-backed worker call.
func (w *SummaryWorker) Run(ctx context.Context, sid domain.SessionID) error {
	s, err := w.store.GetSession(ctx, sid)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	msgs, err := w.store.ListMessages(ctx, sid, w.opts.HistoryLimit)
	if err != nil {
		return fmt.Errorf("load transcript: %w", err)
	}
	if len(msgs) == 0 {
		log.Info().Str("module", "app.summary").Str("session", string(sid)).Msg("empty transcript, no summary")
		metrics.SummaryJobsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	req := SummaryRequest{Session: *s, Transcript: msgs}
	slots := len(s.Products)
	if slots == 0 {
		slots = 1
	}
	for i := 0; i < slots; i++ {
		avg, err := w.store.AverageRating(ctx, sid, i)
		if err != nil {
			return fmt.Errorf("load ratings: %w", err)
		}
		req.Averages = append(req.Averages, avg)
	}

	text, err := w.breaker.Execute(func() (string, error) {
		cctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
		return w.summarizer.Summarize(cctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("summarizer unavailable: %w", err)
		}
		return fmt.Errorf("summarize: %w", err)
	}
	if err := w.store.SaveSummary(ctx, sid, text); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	metrics.SummaryJobsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	log.Info().Str("module", "app.summary").Str("session", string(sid)).Int("messages", len(msgs)).Msg("summary saved")
	return nil
}
