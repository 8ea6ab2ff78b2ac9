package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-harvester/internal/harvest"
)

func validEvent(id string) Event {
	return Event{
		Stage:   StageJobAdded,
		JobID:   id,
		JobType: harvest.JobSaveArticle,
		Status:  harvest.JobStatusPending,
		TS:      time.Now().UTC(),
	}
}

func TestHub_DeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	defer hub.Close()

	ch1, unsub1 := hub.Subscribe(4)
	defer unsub1()
	ch2, unsub2 := hub.Subscribe(4)
	defer unsub2()

	hub.Emit(validEvent("j1"))

	require.Equal(t, "j1", (<-ch1).JobID)
	require.Equal(t, "j1", (<-ch2).JobID)
}

func TestHub_InvalidEventDiscarded(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	defer hub.Close()

	ch, unsub := hub.Subscribe(4)
	defer unsub()

	hub.Emit(Event{Stage: StageJobAdded}) // no job id
	hub.Emit(validEvent("ok"))

	require.Equal(t, "ok", (<-ch).JobID)
}

func TestHub_SlowSubscriberNeverBlocksEmit(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	defer hub.Close()

	_, unsub := hub.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Emit(validEvent("flood"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full subscriber")
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	defer hub.Close()

	ch, unsub := hub.Subscribe(1)
	unsub()
	_, open := <-ch
	require.False(t, open)

	// Unsubscribing twice is safe.
	unsub()
}

func TestHub_CloseStopsDelivery(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	ch, _ := hub.Subscribe(1)
	hub.Close()

	hub.Emit(validEvent("after-close"))
	_, open := <-ch
	require.False(t, open)

	// Subscribing after close hands back a closed channel.
	ch2, _ := hub.Subscribe(1)
	_, open = <-ch2
	require.False(t, open)
}

type recordingPublisher struct {
	mu       sync.Mutex
	payloads []any
	topics   []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return "id", nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func TestBridge_ForwardsEventsToPublisher(t *testing.T) {
	t.Parallel()

	hub := NewHub(zap.NewNop())
	defer hub.Close()

	pub := &recordingPublisher{}
	bridge := NewBridge(hub, pub, "job-events", zap.NewNop())

	hub.Emit(validEvent("j1"))
	hub.Emit(validEvent("j2"))

	require.Eventually(t, func() bool {
		return pub.count() == 2
	}, time.Second, 5*time.Millisecond)

	bridge.Stop()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Equal(t, []string{"job-events", "job-events"}, pub.topics)
	evt, ok := pub.payloads[0].(Event)
	require.True(t, ok)
	require.Equal(t, "j1", evt.JobID)
}
