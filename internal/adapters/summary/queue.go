package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/dkeye/Tasting/internal/metrics"
	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

const (
	TaskGenerate = "summary:generate"
	QueueName    = "summaries"

	enqueueTimeout = 2 * time.Second
	maxRetry       = 3
)

type generatePayload struct {
	SessionID domain.SessionID `json:"sessionId"`
}

// NewGenerateTask builds the task for one session. Tasks are unique per
// session for uniqueTTL so repeated ends do not stack jobs.
func NewGenerateTask(sid domain.SessionID) (*asynq.Task, error) {
	payload, err := json.Marshal(generatePayload{SessionID: sid})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGenerate, payload), nil
}

// Queue submits summary jobs to Redis through asynq.
type Queue struct {
	client    *asynq.Client
	uniqueTTL time.Duration
}

var _ app.SummarySubmitter = (*Queue)(nil)

func NewQueue(redisURL string, uniqueTTL time.Duration) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt), uniqueTTL: uniqueTTL}, nil
}

// Submit enqueues with a short deadline; false means the job was not
// accepted and has been logged.
func (q *Queue) Submit(sid domain.SessionID) bool {
	task, err := NewGenerateTask(sid)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.summary").Str("session", string(sid)).Msg("encode summary task")
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	opts := []asynq.Option{asynq.Queue(QueueName), asynq.MaxRetry(maxRetry)}
	if q.uniqueTTL > 0 {
		opts = append(opts, asynq.Unique(q.uniqueTTL))
	}
	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		metrics.SummaryJobsTotal.WithLabelValues("dropped").Inc()
		log.Error().Err(err).Str("module", "adapters.summary").Str("session", string(sid)).Msg("enqueue summary task")
		return false
	}
	log.Debug().Str("module", "adapters.summary").Str("session", string(sid)).Str("task", info.ID).Msg("summary task queued")
	return true
}

func (q *Queue) Close() error { return q.client.Close() }

// Runner executes one summary job; app.SummaryWorker satisfies it.
type Runner interface {
	Run(ctx context.Context, sid domain.SessionID) error
}

// Server consumes summary tasks and hands them to a Runner.
type Server struct {
	server *asynq.Server
	runner Runner
}

func NewServer(redisURL string, concurrency int, runner Runner) (*Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			metrics.SummaryJobsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
			log.Error().Err(err).Str("module", "adapters.summary").Str("type", task.Type()).Msg("summary task failed")
		}),
	})
	return &Server{server: srv, runner: runner}, nil
}

// HandleTask decodes the payload and runs the job. Malformed payloads are
// not retried.
func (s *Server) HandleTask(ctx context.Context, t *asynq.Task) error {
	var p generatePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.SessionID == "" {
		return fmt.Errorf("bad summary payload %q: %w", t.Payload(), asynq.SkipRetry)
	}
	return s.runner.Run(ctx, p.SessionID)
}

// Serve implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskGenerate, s.HandleTask)
	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("asynq: start: %w", err)
	}
	log.Info().Str("module", "adapters.summary").Str("queue", QueueName).Msg("summary consumer started")
	<-ctx.Done()
	s.server.Shutdown()
	log.Info().Str("module", "adapters.summary").Msg("summary consumer stopped")
	return ctx.Err()
}
