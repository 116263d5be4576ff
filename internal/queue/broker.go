package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

// storedMessage is the internal record kept in Badger for each envelope.
type storedMessage struct {
	ID           string           `json:"id"`
	Queue        models.QueueName `json:"queue"`
	Origin       models.QueueName `json:"origin,omitempty"`
	Body         *models.Envelope `json:"body"`
	EnqueuedAt   time.Time        `json:"enqueued_at"`
	VisibleAt    time.Time        `json:"visible_at"`
	ReceiveCount int              `json:"receive_count"`
}

// BadgerBroker implements the durable queues on a single BadgerDB.
//
// Each queue keeps message data at queue:{name}:msg:{id} and a sorted
// visibility index at queue:{name}:index:{priority}:{visibleAt}:{id}.
// Priority leads the index so urgent messages are scanned first; the
// visibility timestamp inside each priority band keeps FIFO order.
type BadgerBroker struct {
	db         *badger.DB
	ownsDB     bool
	visibility map[models.QueueName]time.Duration
	maxReceive int
	logger     arbor.ILogger
}

// NewBadgerBroker opens a Badger store for the queues.
func NewBadgerBroker(path string, cfg common.QueueConfig, logger arbor.ILogger) (*BadgerBroker, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}

	broker, err := NewBadgerBrokerWithDB(db, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	broker.ownsDB = true
	return broker, nil
}

// NewBadgerBrokerWithDB wraps an externally managed Badger DB.
func NewBadgerBrokerWithDB(db *badger.DB, cfg common.QueueConfig, logger arbor.ILogger) (*BadgerBroker, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if logger == nil {
		logger = common.GetLogger()
	}

	maxReceive := cfg.MaxRetries
	if maxReceive <= 0 {
		maxReceive = 5
	}

	visibility := map[models.QueueName]time.Duration{
		models.QueueExtract:   visibilityOrDefault(cfg.ExtractVisibility, 10*time.Minute),
		models.QueueTransform: visibilityOrDefault(cfg.TransformVisibility, 2*time.Minute),
		models.QueueEmbed:     visibilityOrDefault(cfg.EmbedVisibility, 2*time.Minute),
	}

	return &BadgerBroker{
		db:         db,
		visibility: visibility,
		maxReceive: maxReceive,
		logger:     logger,
	}, nil
}

func visibilityOrDefault(raw string, def time.Duration) time.Duration {
	if d := common.Duration(raw); d > 0 {
		return d
	}
	return def
}

// Start is a no-op; the store is opened in the constructor.
func (b *BadgerBroker) Start() error {
	return nil
}

// Stop closes the underlying store when the broker owns it.
func (b *BadgerBroker) Stop() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}

// Publish appends an envelope to the named queue.
func (b *BadgerBroker) Publish(ctx context.Context, queue models.QueueName, env *models.Envelope) error {
	if !queue.IsValid() {
		return fmt.Errorf("unknown queue: %s", queue)
	}
	if err := env.Validate(); err != nil {
		return fmt.Errorf("invalid envelope: %w", err)
	}

	clone := *env
	if clone.ID == "" {
		clone.ID = common.NewMessageID()
	}
	if clone.Priority == 0 {
		clone.Priority = models.PriorityDefault
	}
	clone.EnqueuedAt = time.Now().UTC()

	stored := storedMessage{
		ID:         clone.ID,
		Queue:      queue,
		Body:       &clone,
		EnqueuedAt: clone.EnqueuedAt,
		VisibleAt:  clone.EnqueuedAt,
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(msgKey(queue, stored.ID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(queue, clone.Priority, stored.VisibleAt, stored.ID), []byte{})
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	b.logger.Debug().
		Str("queue", queue.String()).
		Str("message_id", stored.ID).
		Str("job_id", clone.JobID).
		Str("step", clone.StepName).
		Bool("sentinel", clone.IsSentinel()).
		Msg("Published envelope")
	return nil
}

// Receive leases the next visible envelope from the queue.
func (b *BadgerBroker) Receive(ctx context.Context, queue models.QueueName) (*models.Envelope, error) {
	var leased *models.Envelope

	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := indexPrefix(queue)
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now().UTC()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := parseIndexKey(queue, key)
			if err != nil {
				continue
			}
			// Priority leads the key, so future entries in one band do
			// not end the scan for lower-priority bands.
			if ts.After(now) {
				continue
			}

			item, err := txn.Get(msgKey(queue, id))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// Orphaned index entry.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var stored storedMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return err
			}

			if stored.ReceiveCount >= b.maxReceive {
				if err := b.moveToDeadTxn(txn, queue, key, &stored); err != nil {
					return err
				}
				continue
			}

			stored.ReceiveCount++
			stored.VisibleAt = now.Add(b.visibilityFor(queue))
			stored.Body.Attempt = stored.ReceiveCount

			data, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			if err := txn.Set(msgKey(queue, id), data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(indexKey(queue, stored.Body.Priority, stored.VisibleAt, id), []byte{}); err != nil {
				return err
			}

			leased = stored.Body
			return nil
		}
		return models.ErrNoMessage
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// Ack removes a leased envelope permanently.
func (b *BadgerBroker) Ack(ctx context.Context, queue models.QueueName, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		stored, err := b.getStoredTxn(txn, queue, id)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil // already acked
			}
			return err
		}

		if err := deleteIndexTxn(txn, queue, stored); err != nil {
			return err
		}
		return txn.Delete(msgKey(queue, id))
	})
}

// Nack makes a leased envelope immediately visible again, or parks it on
// the dead-letter queue once its retry budget is spent.
func (b *BadgerBroker) Nack(ctx context.Context, queue models.QueueName, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		stored, err := b.getStoredTxn(txn, queue, id)
		if err != nil {
			return err
		}

		oldIndex := indexKey(queue, stored.Body.Priority, stored.VisibleAt, id)

		if stored.ReceiveCount >= b.maxReceive {
			return b.moveToDeadTxn(txn, queue, oldIndex, stored)
		}

		stored.VisibleAt = time.Now().UTC()
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey(queue, id), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndex); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(indexKey(queue, stored.Body.Priority, stored.VisibleAt, id), []byte{})
	})
}

// Extend pushes a leased envelope's visibility deadline out.
func (b *BadgerBroker) Extend(ctx context.Context, queue models.QueueName, id string, d time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		stored, err := b.getStoredTxn(txn, queue, id)
		if err != nil {
			return err
		}

		oldIndex := indexKey(queue, stored.Body.Priority, stored.VisibleAt, id)
		stored.VisibleAt = time.Now().UTC().Add(d)

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey(queue, id), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndex); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(indexKey(queue, stored.Body.Priority, stored.VisibleAt, id), []byte{})
	})
}

// Depth returns the number of visible messages in the queue.
func (b *BadgerBroker) Depth(ctx context.Context, queue models.QueueName) (int, error) {
	depth, _, err := b.count(queue)
	return depth, err
}

// Stats returns depth and unacked counts for every queue.
func (b *BadgerBroker) Stats(ctx context.Context) ([]interfaces.QueueStats, error) {
	queues := []models.QueueName{
		models.QueueExtract,
		models.QueueTransform,
		models.QueueEmbed,
		models.QueueDeadLetter,
	}

	stats := make([]interfaces.QueueStats, 0, len(queues))
	for _, q := range queues {
		depth, unacked, err := b.count(q)
		if err != nil {
			return nil, err
		}
		stats = append(stats, interfaces.QueueStats{Name: q, Depth: depth, Unacked: unacked})
	}
	return stats, nil
}

// DeadLetters lists envelopes parked on the dead-letter queue.
func (b *BadgerBroker) DeadLetters(ctx context.Context, limit int) ([]*models.Envelope, error) {
	if limit <= 0 {
		limit = 100
	}

	var out []*models.Envelope
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", models.QueueDeadLetter))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var stored storedMessage
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return err
			}
			out = append(out, stored.Body)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return out, nil
}

// Replay moves a dead-lettered envelope back onto a live queue with a
// fresh attempt budget.
func (b *BadgerBroker) Replay(ctx context.Context, id string, target models.QueueName) error {
	if target == models.QueueDeadLetter || !target.IsValid() {
		return fmt.Errorf("invalid replay target: %s", target)
	}

	var env *models.Envelope
	err := b.db.Update(func(txn *badger.Txn) error {
		stored, err := b.getStoredTxn(txn, models.QueueDeadLetter, id)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return models.ErrNotFound
			}
			return err
		}

		if err := deleteIndexTxn(txn, models.QueueDeadLetter, stored); err != nil {
			return err
		}
		if err := txn.Delete(msgKey(models.QueueDeadLetter, id)); err != nil {
			return err
		}

		env = stored.Body
		env.Attempt = 0
		return nil
	})
	if err != nil {
		return err
	}

	b.logger.Info().
		Str("message_id", id).
		Str("target", target.String()).
		Msg("Replaying dead-lettered envelope")
	return b.Publish(ctx, target, env)
}

func (b *BadgerBroker) visibilityFor(queue models.QueueName) time.Duration {
	if d, ok := b.visibility[queue]; ok {
		return d
	}
	return 5 * time.Minute
}

func (b *BadgerBroker) count(queue models.QueueName) (depth, unacked int, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := indexPrefix(queue)
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now().UTC()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ts, _, perr := parseIndexKey(queue, it.Item().Key())
			if perr != nil {
				continue
			}
			if ts.After(now) {
				unacked++
			} else {
				depth++
			}
		}
		return nil
	})
	return depth, unacked, err
}

func (b *BadgerBroker) getStoredTxn(txn *badger.Txn, queue models.QueueName, id string) (*storedMessage, error) {
	item, err := txn.Get(msgKey(queue, id))
	if err != nil {
		return nil, err
	}
	var stored storedMessage
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stored)
	}); err != nil {
		return nil, err
	}
	return &stored, nil
}

// moveToDeadTxn parks a message on the dead-letter queue, recording its
// origin so replay can route it back.
func (b *BadgerBroker) moveToDeadTxn(txn *badger.Txn, origin models.QueueName, oldIndex []byte, stored *storedMessage) error {
	if err := txn.Delete(oldIndex); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	if err := txn.Delete(msgKey(origin, stored.ID)); err != nil {
		return err
	}

	stored.Queue = models.QueueDeadLetter
	stored.Origin = origin
	stored.VisibleAt = time.Now().UTC()

	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	if err := txn.Set(msgKey(models.QueueDeadLetter, stored.ID), data); err != nil {
		return err
	}
	if err := txn.Set(indexKey(models.QueueDeadLetter, stored.Body.Priority, stored.VisibleAt, stored.ID), []byte{}); err != nil {
		return err
	}

	b.logger.Warn().
		Str("queue", origin.String()).
		Str("message_id", stored.ID).
		Str("job_id", stored.Body.JobID).
		Int("receive_count", stored.ReceiveCount).
		Msg("Message exhausted retries, moved to dead-letter queue")
	return nil
}

func deleteIndexTxn(txn *badger.Txn, queue models.QueueName, stored *storedMessage) error {
	key := indexKey(queue, stored.Body.Priority, stored.VisibleAt, stored.ID)
	if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return nil
}

// Key helpers

func msgKey(queue models.QueueName, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", queue, id))
}

func indexPrefix(queue models.QueueName) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", queue))
}

func indexKey(queue models.QueueName, priority int, visibleAt time.Time, id string) []byte {
	// Zero-padded priority then timestamp so byte order matches scan order.
	return []byte(fmt.Sprintf("queue:%s:index:%03d:%020d:%s", queue, priority, visibleAt.UnixNano(), id))
}

func parseIndexKey(queue models.QueueName, key []byte) (time.Time, string, error) {
	prefix := string(indexPrefix(queue))
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	suffix := string(key[len(prefix):])
	// Suffix is "{3-digit-priority}:{20-digit-ts}:{id}"
	if len(suffix) < 26 {
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	tsStr := suffix[4:24]
	id := suffix[25:]

	var ts int64
	if _, err := fmt.Sscanf(tsStr, "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts).UTC(), id, nil
}
