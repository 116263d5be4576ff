package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/confluo/internal/models"
)

// QueueStats reports the observable state of one queue.
type QueueStats struct {
	Name    models.QueueName `json:"name"`
	Depth   int              `json:"depth"`
	Unacked int              `json:"unacked"`
}

// Broker manages the durable message queues that coordinate the worker
// classes. Delivery is at-least-once with per-queue visibility timeouts.
type Broker interface {
	Start() error
	Stop() error

	// Publish appends an envelope to the named queue. Lower priority
	// values are delivered first; equal priorities deliver in FIFO order.
	Publish(ctx context.Context, queue models.QueueName, env *models.Envelope) error

	// Receive leases the next visible envelope, or models.ErrNoMessage
	// when the queue is empty. The lease expires after the queue's
	// visibility timeout unless the message is acked.
	Receive(ctx context.Context, queue models.QueueName) (*models.Envelope, error)

	// Ack removes a leased envelope permanently.
	Ack(ctx context.Context, queue models.QueueName, id string) error

	// Nack returns a leased envelope to the queue immediately, bumping
	// its attempt count. Envelopes past the retry budget move to the
	// dead-letter queue instead.
	Nack(ctx context.Context, queue models.QueueName, id string) error

	// Extend pushes a leased envelope's visibility deadline out.
	Extend(ctx context.Context, queue models.QueueName, id string, d time.Duration) error

	// Depth returns the number of visible messages in the queue.
	Depth(ctx context.Context, queue models.QueueName) (int, error)

	// Stats returns depth and unacked counts for all queues.
	Stats(ctx context.Context) ([]QueueStats, error)

	// DeadLetters lists envelopes parked on the dead-letter queue.
	DeadLetters(ctx context.Context, limit int) ([]*models.Envelope, error)

	// Replay moves a dead-lettered envelope back onto its origin queue
	// with a reset attempt count.
	Replay(ctx context.Context, id string, target models.QueueName) error
}
