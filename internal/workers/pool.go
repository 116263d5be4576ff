package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// Handler processes one envelope from one queue. A nil return acks the
// message; a terminal error dead-letters it; any other error nacks it
// for redelivery.
type Handler interface {
	Queue() models.QueueName
	WorkerType() models.WorkerType
	Handle(ctx context.Context, env *models.Envelope) error
}

// terminalError marks failures that redelivery cannot fix.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps an error so the pool dead-letters instead of retrying.
func Terminal(err error) error {
	return &terminalError{err: err}
}

// IsTerminal reports whether the error must not be retried.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t) || errors.Is(err, models.ErrTenantMismatch)
}

// Backoff bounds for idle polling.
const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// Pool runs a fixed number of goroutines that poll one queue and feed a
// handler. Each goroutine processes sequentially, one ack at a time.
type Pool struct {
	broker      interfaces.Broker
	handler     Handler
	concurrency int
	logger      arbor.ILogger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	mu          sync.Mutex
}

// NewPool creates a new worker pool for the handler's queue
func NewPool(broker interfaces.Broker, handler Handler, concurrency int, logger arbor.ILogger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		broker:      broker,
		handler:     handler,
		concurrency: concurrency,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the polling goroutines
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Warn().Str("queue", p.handler.Queue().String()).Msg("Worker pool already running")
		return
	}
	p.running = true

	p.logger.Info().
		Str("queue", p.handler.Queue().String()).
		Str("worker_type", p.handler.WorkerType().String()).
		Int("concurrency", p.concurrency).
		Msg("Starting worker pool")

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Stop drains the pool: goroutines finish their in-flight message and
// exit. Unacked messages become visible again after the visibility
// timeout.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.logger.Info().Str("queue", p.handler.Queue().String()).Msg("Worker pool stopped")
}

func (p *Pool) run(workerID int) {
	defer p.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", stackTrace()).
				Int("worker_id", workerID).
				Str("queue", p.handler.Queue().String()).
				Msg("Worker goroutine panicked")
		}
	}()

	backoff := minBackoff
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		if p.processNext(workerID) {
			backoff = minBackoff
			continue
		}

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// processNext handles one message. Returns false when the queue was
// empty so the caller backs off.
func (p *Pool) processNext(workerID int) bool {
	queue := p.handler.Queue()

	env, err := p.broker.Receive(p.ctx, queue)
	if err != nil {
		if !errors.Is(err, models.ErrNoMessage) && p.ctx.Err() == nil {
			p.logger.Error().Err(err).Str("queue", queue.String()).Msg("Failed to receive message")
		}
		return false
	}

	log := p.logger.Debug().
		Str("queue", queue.String()).
		Str("message_id", env.ID).
		Str("job_id", env.JobID).
		Str("step", env.StepName).
		Int("worker_id", workerID)
	log.Msg("Processing message")

	err = p.handler.Handle(p.ctx, env)
	switch {
	case err == nil:
		if ackErr := p.broker.Ack(p.ctx, queue, env.ID); ackErr != nil {
			p.logger.Error().Err(ackErr).Str("message_id", env.ID).Msg("Failed to ack message")
		}
	case IsTerminal(err):
		p.deadLetter(env, queue, err)
	default:
		p.logger.Warn().
			Err(err).
			Str("message_id", env.ID).
			Int("attempt", env.Attempt).
			Msg("Message failed, returning to queue")
		if nackErr := p.broker.Nack(p.ctx, queue, env.ID); nackErr != nil {
			p.logger.Error().Err(nackErr).Str("message_id", env.ID).Msg("Failed to nack message")
		}
	}
	return true
}

// deadLetter parks a poisoned message without consuming its retry
// budget, then removes the original lease.
func (p *Pool) deadLetter(env *models.Envelope, queue models.QueueName, cause error) {
	p.logger.Error().
		Err(cause).
		Str("queue", queue.String()).
		Str("message_id", env.ID).
		Str("job_id", env.JobID).
		Msg("Message rejected, moving to dead-letter queue")

	if err := p.broker.Publish(p.ctx, models.QueueDeadLetter, env); err != nil {
		p.logger.Error().Err(err).Str("message_id", env.ID).Msg("Failed to dead-letter message")
		return
	}
	if err := p.broker.Ack(p.ctx, queue, env.ID); err != nil {
		p.logger.Error().Err(err).Str("message_id", env.ID).Msg("Failed to ack dead-lettered message")
	}
}

func stackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
