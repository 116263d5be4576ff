package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/confluo/internal/models"
)

type recorder struct {
	mu     sync.Mutex
	events []models.ProgressEvent
	done   chan struct{}
}

func newRecorder(expected int) *recorder {
	return &recorder{done: make(chan struct{}, expected)}
}

func (r *recorder) handle(_ context.Context, event models.ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []models.ProgressEvent {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ProgressEvent(nil), r.events...)
}

func TestPublishReachesTenantSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	rec := newRecorder(1)
	unsubscribe := svc.Subscribe("tenant-a", rec.handle)
	defer unsubscribe()

	svc.Publish(context.Background(), models.ProgressEvent{
		Type:     models.EventJobStarted,
		TenantID: "tenant-a",
		JobID:    "job_1",
	})

	events := rec.wait(t, 1)
	assert.Equal(t, models.EventJobStarted, events[0].Type)
	assert.Equal(t, "job_1", events[0].JobID)
}

func TestPublishIsolatedByTenant(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	recA := newRecorder(1)
	recB := newRecorder(1)
	svc.Subscribe("tenant-a", recA.handle)
	svc.Subscribe("tenant-b", recB.handle)

	svc.Publish(context.Background(), models.ProgressEvent{
		Type:     models.EventJobCompleted,
		TenantID: "tenant-b",
		JobID:    "job_9",
	})

	events := recB.wait(t, 1)
	assert.Equal(t, "job_9", events[0].JobID)

	select {
	case <-recA.done:
		t.Fatal("tenant-a subscriber received tenant-b event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	rec := newRecorder(2)
	unsubscribe := svc.Subscribe("tenant-a", rec.handle)

	svc.Publish(context.Background(), models.ProgressEvent{Type: models.EventJobStarted, TenantID: "tenant-a"})
	rec.wait(t, 1)

	unsubscribe()
	svc.Publish(context.Background(), models.ProgressEvent{Type: models.EventJobCompleted, TenantID: "tenant-a"})

	select {
	case <-rec.done:
		t.Fatal("received event after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishWithoutSubscribersIsNoOp(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	// Must not panic or block.
	svc.Publish(context.Background(), models.ProgressEvent{Type: models.EventJobFailed, TenantID: "nobody"})
}

func TestSubscribeAfterCloseIsInert(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	assert.NoError(t, svc.Close())

	rec := newRecorder(1)
	unsubscribe := svc.Subscribe("tenant-a", rec.handle)
	unsubscribe()

	svc.Publish(context.Background(), models.ProgressEvent{Type: models.EventJobStarted, TenantID: "tenant-a"})

	select {
	case <-rec.done:
		t.Fatal("closed service delivered an event")
	case <-time.After(100 * time.Millisecond):
	}
}
