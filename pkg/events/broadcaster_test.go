package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewEventSnapshotsPayload(t *testing.T) {
	payload := map[string]string{"job_id": "job-1", "status": "queued"}

	ev, err := New("job.created", payload)
	require.NoError(t, err)
	assert.Equal(t, "job.created", ev.Kind)
	assert.False(t, ev.TS.IsZero())

	// Mutating the source after construction must not affect the event.
	payload["status"] = "running"

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(ev.Data, &decoded))
	assert.Equal(t, "queued", decoded["status"])
}

func TestBroadcasterDeliversInOrder(t *testing.T) {
	b := NewBroadcaster("jobs", 8, zap.NewNop())
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		ev, err := New("job.updated", map[string]int{"seq": i})
		require.NoError(t, err)
		b.Publish(ev)
	}

	for i := 0; i < 5; i++ {
		select {
		case ev := <-sub.C():
			var decoded map[string]int
			require.NoError(t, json.Unmarshal(ev.Data, &decoded))
			assert.Equal(t, i, decoded["seq"])
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestBroadcasterTwoSubscribersSeeIdenticalSequence(t *testing.T) {
	b := NewBroadcaster("jobs", 16, zap.NewNop())
	a := b.Subscribe()
	c := b.Subscribe()
	defer a.Close()
	defer c.Close()

	var want []string
	for i := 0; i < 10; i++ {
		kind := fmt.Sprintf("job.updated.%d", i)
		want = append(want, kind)
		ev, err := New(kind, nil)
		require.NoError(t, err)
		b.Publish(ev)
	}

	collect := func(sub *Subscription) []string {
		var got []string
		for i := 0; i < len(want); i++ {
			select {
			case ev := <-sub.C():
				got = append(got, ev.Kind)
			case <-time.After(time.Second):
				t.Fatalf("timed out after %d events", len(got))
			}
		}
		return got
	}

	assert.Equal(t, want, collect(a))
	assert.Equal(t, want, collect(c))
}

func TestBroadcasterNoBackfill(t *testing.T) {
	b := NewBroadcaster("jobs", 4, zap.NewNop())

	ev, err := New("job.created", nil)
	require.NoError(t, err)
	b.Publish(ev)

	sub := b.Subscribe()
	defer sub.Close()

	select {
	case got := <-sub.C():
		t.Fatalf("expected no backfill, received %q", got.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterTrimsOldestOnOverflow(t *testing.T) {
	b := NewBroadcaster("jobs", 2, zap.NewNop())
	sub := b.Subscribe()
	defer sub.Close()

	for i := 0; i < 3; i++ {
		ev, err := New(fmt.Sprintf("job.updated.%d", i), nil)
		require.NoError(t, err)
		b.Publish(ev)
	}

	// Oldest event was trimmed to make room; the newest two survive.
	first := <-sub.C()
	second := <-sub.C()
	assert.Equal(t, "job.updated.1", first.Kind)
	assert.Equal(t, "job.updated.2", second.Kind)

	stats := b.Stats()
	assert.Equal(t, int64(3), stats.Published)
	assert.Equal(t, int64(1), stats.Trimmed)
	assert.Equal(t, int64(0), stats.Dropped)
	assert.Equal(t, 1, b.SubscriberCount())
}

func TestBroadcasterDropsSubscriberWithNoCapacity(t *testing.T) {
	b := NewBroadcaster("jobs", 4, zap.NewNop())
	sub := b.SubscribeBuffer(0)

	ev, err := New("job.created", nil)
	require.NoError(t, err)
	b.Publish(ev)

	// An unbuffered subscriber with no active reader cannot accept anything,
	// so the broadcaster closes it rather than stalling.
	_, open := <-sub.C()
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
	assert.Equal(t, int64(1), b.Stats().Dropped)

	// Closing an already-dropped subscription is a no-op.
	sub.Close()
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	b := NewBroadcaster("jobs", 4, zap.NewNop())
	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	sub.Close()
	sub.Close() // idempotent

	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub.C()
	assert.False(t, open)
}

func TestBroadcasterDomainsAreIndependent(t *testing.T) {
	jobs := NewBroadcaster("jobs", 4, zap.NewNop())
	runs := NewBroadcaster("runs", 4, zap.NewNop())

	jobSub := jobs.Subscribe()
	runSub := runs.Subscribe()
	defer jobSub.Close()
	defer runSub.Close()

	ev, err := New("job.created", nil)
	require.NoError(t, err)
	jobs.Publish(ev)

	select {
	case got := <-jobSub.C():
		assert.Equal(t, "job.created", got.Kind)
	case <-time.After(time.Second):
		t.Fatal("job subscriber did not receive event")
	}

	select {
	case got := <-runSub.C():
		t.Fatalf("run subscriber received job event %q", got.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterConcurrentPublishAndSubscribe(t *testing.T) {
	b := NewBroadcaster("jobs", 8, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ev, err := New("job.updated", nil)
				if err != nil {
					t.Error(err)
					return
				}
				b.Publish(ev)
			}
		}()
	}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := b.Subscribe()
			// Drain a few then leave; the broadcaster must stay consistent.
			for j := 0; j < 5; j++ {
				select {
				case <-sub.C():
				case <-time.After(100 * time.Millisecond):
				}
			}
			sub.Close()
		}()
	}

	wg.Wait()
	assert.Equal(t, 0, b.SubscriberCount())
	assert.Equal(t, int64(200), b.Stats().Published)
}
