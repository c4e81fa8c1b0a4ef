package topology

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"linkwatch/internal/domain"
)

// recorder captures published events for assertions
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) ofType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, ev := range r.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *recorder) {
	t.Helper()
	rec := &recorder{}
	store := NewStore(rec, 5*time.Second)
	for _, id := range []string{"leaf1", "leaf2", "spine1"} {
		if err := store.AddNode(domain.NewNode(id, domain.NodeTypeRouter, id)); err != nil {
			t.Fatalf("add node %s: %v", id, err)
		}
	}
	link := domain.NewLink("link1", "leaf1", "spine1", "eth0", "eth1")
	link.SpeedMbps = 1000
	if err := store.AddLink(link); err != nil {
		t.Fatalf("add link: %v", err)
	}
	rec.reset()
	return store, rec
}

func TestStoreNodes(t *testing.T) {
	t.Run("duplicate node rejected", func(t *testing.T) {
		store, _ := newTestStore(t)
		err := store.AddNode(domain.NewNode("leaf1", domain.NodeTypeRouter, "dup"))
		if !errors.Is(err, domain.ErrDuplicateID) {
			t.Errorf("expected ErrDuplicateID, got %v", err)
		}
	})

	t.Run("invalid node rejected", func(t *testing.T) {
		store, rec := newTestStore(t)
		err := store.AddNode(&domain.Node{ID: "x", Type: "toaster", Label: "X"})
		if !domain.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
		if len(rec.all()) != 0 {
			t.Error("rejected add must not publish events")
		}
	})

	t.Run("remove missing node", func(t *testing.T) {
		store, _ := newTestStore(t)
		if err := store.RemoveNode("ghost"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("remove referenced node rejected and store unchanged", func(t *testing.T) {
		store, rec := newTestStore(t)
		err := store.RemoveNode("leaf1")
		if !errors.Is(err, domain.ErrNodeInUse) {
			t.Fatalf("expected ErrNodeInUse, got %v", err)
		}
		if _, err := store.Node("leaf1"); err != nil {
			t.Error("node must survive rejected removal")
		}
		if _, err := store.Link("link1"); err != nil {
			t.Error("link must survive rejected removal")
		}
		if len(rec.all()) != 0 {
			t.Error("rejected removal must not publish events")
		}
	})

	t.Run("remove after links gone", func(t *testing.T) {
		store, rec := newTestStore(t)
		if err := store.RemoveLink("link1"); err != nil {
			t.Fatalf("remove link: %v", err)
		}
		if err := store.RemoveNode("leaf1"); err != nil {
			t.Fatalf("remove node: %v", err)
		}
		if got := rec.ofType(domain.EventNodeRemoved); len(got) != 1 {
			t.Errorf("expected 1 node_removed event, got %d", len(got))
		}
	})
}

func TestStoreLinks(t *testing.T) {
	t.Run("link with missing endpoint rejected", func(t *testing.T) {
		store, rec := newTestStore(t)
		err := store.AddLink(domain.NewLink("bad", "leaf1", "ghost", "", ""))
		if !domain.IsValidation(err) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if _, err := store.Link("bad"); !errors.Is(err, domain.ErrNotFound) {
			t.Error("rejected link must not be stored")
		}
		if len(rec.all()) != 0 {
			t.Error("rejected add must not publish events")
		}
	})

	t.Run("duplicate link rejected", func(t *testing.T) {
		store, _ := newTestStore(t)
		err := store.AddLink(domain.NewLink("link1", "leaf1", "leaf2", "", ""))
		if !errors.Is(err, domain.ErrDuplicateID) {
			t.Errorf("expected ErrDuplicateID, got %v", err)
		}
	})

	t.Run("interface index maintained", func(t *testing.T) {
		store, _ := newTestStore(t)
		link, ok := store.LinkByInterface("eth0")
		if !ok || link.ID != "link1" {
			t.Fatalf("expected link1 via eth0, got %v %v", link.ID, ok)
		}
		if err := store.RemoveLink("link1"); err != nil {
			t.Fatalf("remove link: %v", err)
		}
		if _, ok := store.LinkByInterface("eth0"); ok {
			t.Error("interface mapping must go with the link")
		}
	})

	t.Run("links filter and ordering", func(t *testing.T) {
		store, _ := newTestStore(t)
		extra := domain.NewLink("alink", "leaf1", "leaf2", "", "")
		if err := store.AddLink(extra); err != nil {
			t.Fatalf("add link: %v", err)
		}
		links := store.Links("")
		if len(links) != 2 || links[0].ID != "alink" || links[1].ID != "link1" {
			t.Errorf("expected sorted [alink link1], got %v", links)
		}
		idle := store.Links(domain.LinkStateIdle)
		if len(idle) != 2 {
			t.Errorf("expected 2 idle links, got %d", len(idle))
		}
		if active := store.Links(domain.LinkStateActive); len(active) != 0 {
			t.Errorf("expected no active links, got %d", len(active))
		}
	})
}

func TestUpsertMetrics(t *testing.T) {
	t.Run("traffic on idle link emits exactly one state change and one metrics update", func(t *testing.T) {
		store, rec := newTestStore(t)
		m := domain.Metrics{RxBps: 8000, TxBps: 4000, Utilization: 0.01}
		if err := store.UpsertMetrics("link1", m, time.Now(), "sysfs"); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		link, _ := store.Link("link1")
		if link.State != domain.LinkStateActive {
			t.Errorf("expected active, got %s", link.State)
		}
		if link.Metrics.RxBps != 8000 {
			t.Errorf("metrics not stored: %v", link.Metrics)
		}

		changes := rec.ofType(domain.EventLinkStateChange)
		if len(changes) != 1 {
			t.Fatalf("expected 1 link_state_change, got %d", len(changes))
		}
		if changes[0].OldState != domain.LinkStateIdle || changes[0].NewState != domain.LinkStateActive {
			t.Errorf("unexpected transition %s -> %s", changes[0].OldState, changes[0].NewState)
		}
		if updates := rec.ofType(domain.EventMetricsUpdate); len(updates) != 1 {
			t.Errorf("expected 1 metrics_update, got %d", len(updates))
		}
	})

	t.Run("repeat traffic stays active without extra state events", func(t *testing.T) {
		store, rec := newTestStore(t)
		m := domain.Metrics{RxBps: 100}
		for i := 0; i < 3; i++ {
			if err := store.UpsertMetrics("link1", m, time.Now(), "sysfs"); err != nil {
				t.Fatalf("upsert: %v", err)
			}
		}
		if changes := rec.ofType(domain.EventLinkStateChange); len(changes) != 1 {
			t.Errorf("expected 1 state change, got %d", len(changes))
		}
		if updates := rec.ofType(domain.EventMetricsUpdate); len(updates) != 3 {
			t.Errorf("expected 3 metrics updates, got %d", len(updates))
		}
	})

	t.Run("zero traffic does not activate", func(t *testing.T) {
		store, rec := newTestStore(t)
		if err := store.UpsertMetrics("link1", domain.Metrics{}, time.Now(), "sysfs"); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		link, _ := store.Link("link1")
		if link.State != domain.LinkStateIdle {
			t.Errorf("expected idle, got %s", link.State)
		}
		if changes := rec.ofType(domain.EventLinkStateChange); len(changes) != 0 {
			t.Errorf("expected no state change, got %d", len(changes))
		}
	})

	t.Run("unknown link", func(t *testing.T) {
		store, _ := newTestStore(t)
		err := store.UpsertMetrics("ghost", domain.Metrics{RxBps: 1}, time.Now(), "sysfs")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("last_updated only moves forward", func(t *testing.T) {
		store, _ := newTestStore(t)
		now := time.Now()
		if err := store.UpsertMetrics("link1", domain.Metrics{RxBps: 1}, now, "a"); err != nil {
			t.Fatal(err)
		}
		if err := store.UpsertMetrics("link1", domain.Metrics{RxBps: 2}, now.Add(-time.Minute), "b"); err != nil {
			t.Fatal(err)
		}
		link, _ := store.Link("link1")
		if link.LastUpdated.Before(now) {
			t.Errorf("last_updated regressed to %s", link.LastUpdated)
		}
		if link.Metrics.RxBps != 2 {
			t.Error("late metrics payload should still be stored")
		}
	})
}

func TestSetState(t *testing.T) {
	t.Run("explicit down", func(t *testing.T) {
		store, rec := newTestStore(t)
		if err := store.SetState("link1", domain.LinkStateDown, time.Now(), "api"); err != nil {
			t.Fatalf("set state: %v", err)
		}
		link, _ := store.Link("link1")
		if link.State != domain.LinkStateDown {
			t.Errorf("expected down, got %s", link.State)
		}
		changes := rec.ofType(domain.EventLinkStateChange)
		if len(changes) != 1 || changes[0].Source != "api" {
			t.Errorf("expected 1 api-sourced change, got %v", changes)
		}
	})

	t.Run("idempotent same state", func(t *testing.T) {
		store, rec := newTestStore(t)
		if err := store.SetState("link1", domain.LinkStateIdle, time.Now(), "api"); err != nil {
			t.Fatalf("set state: %v", err)
		}
		if len(rec.all()) != 0 {
			t.Errorf("no-op override must not publish, got %d events", len(rec.all()))
		}
	})

	t.Run("stale override ignored", func(t *testing.T) {
		store, rec := newTestStore(t)
		now := time.Now()
		if err := store.UpsertMetrics("link1", domain.Metrics{RxBps: 1}, now, "sysfs"); err != nil {
			t.Fatal(err)
		}
		rec.reset()
		if err := store.SetState("link1", domain.LinkStateDown, now.Add(-time.Second), "api"); err != nil {
			t.Fatalf("set state: %v", err)
		}
		link, _ := store.Link("link1")
		if link.State != domain.LinkStateActive {
			t.Errorf("stale override must lose, got %s", link.State)
		}
		if len(rec.all()) != 0 {
			t.Error("ignored override must not publish")
		}
	})

	t.Run("invalid state rejected", func(t *testing.T) {
		store, _ := newTestStore(t)
		if err := store.SetState("link1", "flapping", time.Now(), "api"); !domain.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestApplySignal(t *testing.T) {
	store, rec := newTestStore(t)

	if err := store.ApplySignal("link1", TriggerDown, time.Now(), "netlink"); err != nil {
		t.Fatalf("down signal: %v", err)
	}
	link, _ := store.Link("link1")
	if link.State != domain.LinkStateDown {
		t.Fatalf("expected down, got %s", link.State)
	}

	// Duplicate signal is absorbed by the machine.
	if err := store.ApplySignal("link1", TriggerDown, time.Now(), "netlink"); err != nil {
		t.Fatalf("repeat down signal: %v", err)
	}
	if changes := rec.ofType(domain.EventLinkStateChange); len(changes) != 1 {
		t.Fatalf("expected 1 state change, got %d", len(changes))
	}

	if err := store.ApplySignal("link1", TriggerUp, time.Now(), "netlink"); err != nil {
		t.Fatalf("up signal: %v", err)
	}
	link, _ = store.Link("link1")
	if link.State != domain.LinkStateIdle {
		t.Errorf("recovered link should be idle, got %s", link.State)
	}
}

func TestSweepIdle(t *testing.T) {
	t.Run("silent active link demoted once", func(t *testing.T) {
		store, rec := newTestStore(t)
		start := time.Now()
		if err := store.UpsertMetrics("link1", domain.Metrics{RxBps: 1}, start, "sysfs"); err != nil {
			t.Fatal(err)
		}
		rec.reset()

		deadline := start.Add(store.IdleTimeout())
		if n := store.SweepIdle(deadline.Add(-time.Millisecond)); n != 0 {
			t.Errorf("sweep before timeout demoted %d links", n)
		}
		if n := store.SweepIdle(deadline); n != 1 {
			t.Errorf("sweep at timeout demoted %d links, want 1", n)
		}
		if n := store.SweepIdle(deadline.Add(time.Second)); n != 0 {
			t.Errorf("second sweep demoted %d links, want 0", n)
		}

		link, _ := store.Link("link1")
		if link.State != domain.LinkStateIdle {
			t.Errorf("expected idle, got %s", link.State)
		}
		changes := rec.ofType(domain.EventLinkStateChange)
		if len(changes) != 1 {
			t.Fatalf("expected exactly 1 idle event, got %d", len(changes))
		}
		if changes[0].Source != "sweeper" {
			t.Errorf("expected sweeper source, got %s", changes[0].Source)
		}
	})

	t.Run("zero-rate polling does not defer the timeout", func(t *testing.T) {
		store, rec := newTestStore(t)
		start := time.Now()
		if err := store.UpsertMetrics("link1", domain.Metrics{RxBps: 1}, start, "sysfs"); err != nil {
			t.Fatal(err)
		}
		// A poller keeps reporting the link, but the rates are zero.
		for i := 1; i <= 100; i++ {
			m := domain.Metrics{RxBytesTotal: 1000}
			if err := store.UpsertMetrics("link1", m, start.Add(time.Duration(i)*100*time.Millisecond), "sysfs"); err != nil {
				t.Fatal(err)
			}
		}
		rec.reset()

		if n := store.SweepIdle(start.Add(10 * time.Second)); n != 1 {
			t.Errorf("sweep demoted %d links, want 1", n)
		}
		link, _ := store.Link("link1")
		if link.State != domain.LinkStateIdle {
			t.Errorf("expected idle, got %s", link.State)
		}
		if changes := rec.ofType(domain.EventLinkStateChange); len(changes) != 1 {
			t.Errorf("expected exactly 1 idle event, got %d", len(changes))
		}
	})

	t.Run("forced activation gets a full timeout window", func(t *testing.T) {
		store, _ := newTestStore(t)
		now := time.Now()
		if err := store.SetState("link1", domain.LinkStateActive, now, "api"); err != nil {
			t.Fatal(err)
		}
		if n := store.SweepIdle(now.Add(store.IdleTimeout() - time.Millisecond)); n != 0 {
			t.Errorf("sweep before timeout demoted %d links", n)
		}
		if n := store.SweepIdle(now.Add(store.IdleTimeout())); n != 1 {
			t.Errorf("sweep at timeout demoted %d links, want 1", n)
		}
	})

	t.Run("recent observation suppresses timeout", func(t *testing.T) {
		store, _ := newTestStore(t)
		start := time.Now()
		if err := store.UpsertMetrics("link1", domain.Metrics{RxBps: 1}, start, "sysfs"); err != nil {
			t.Fatal(err)
		}
		// A delayed-but-fresh sample lands just before the sweep fires.
		fresh := start.Add(4 * time.Second)
		if err := store.UpsertMetrics("link1", domain.Metrics{RxBps: 2}, fresh, "sysfs"); err != nil {
			t.Fatal(err)
		}
		if n := store.SweepIdle(start.Add(store.IdleTimeout())); n != 0 {
			t.Errorf("fresh link demoted by sweep, n=%d", n)
		}
		link, _ := store.Link("link1")
		if link.State != domain.LinkStateActive {
			t.Errorf("expected active, got %s", link.State)
		}
	})

	t.Run("down links never swept", func(t *testing.T) {
		store, _ := newTestStore(t)
		if err := store.SetState("link1", domain.LinkStateDown, time.Now(), "api"); err != nil {
			t.Fatal(err)
		}
		if n := store.SweepIdle(time.Now().Add(time.Hour)); n != 0 {
			t.Errorf("down link demoted by sweep, n=%d", n)
		}
	})
}

func TestEventChaining(t *testing.T) {
	// Every state change event's old state must equal the previous
	// event's new state for the same link.
	store, rec := newTestStore(t)
	now := time.Now()

	steps := []func() error{
		func() error { return store.UpsertMetrics("link1", domain.Metrics{RxBps: 1}, now, "sysfs") },
		func() error { return store.ApplySignal("link1", TriggerDown, now.Add(time.Second), "netlink") },
		func() error { return store.ApplySignal("link1", TriggerUp, now.Add(2*time.Second), "netlink") },
		func() error {
			return store.UpsertMetrics("link1", domain.Metrics{RxBps: 2}, now.Add(3*time.Second), "sysfs")
		},
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	changes := rec.ofType(domain.EventLinkStateChange)
	if len(changes) != 4 {
		t.Fatalf("expected 4 state changes, got %d", len(changes))
	}
	prev := domain.LinkStateIdle
	for i, ev := range changes {
		if ev.OldState != prev {
			t.Errorf("event %d: old state %s does not chain from %s", i, ev.OldState, prev)
		}
		prev = ev.NewState
	}
}

func TestStoreConcurrency(t *testing.T) {
	store, rec := newTestStore(t)
	if err := store.AddLink(domain.NewLink("link2", "leaf1", "leaf2", "", "")); err != nil {
		t.Fatal(err)
	}
	rec.reset()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			linkID := "link1"
			if w%2 == 0 {
				linkID = "link2"
			}
			for i := 0; i < 50; i++ {
				m := domain.Metrics{RxBps: float64(i + 1)}
				if err := store.UpsertMetrics(linkID, m, time.Now(), fmt.Sprintf("w%d", w)); err != nil {
					t.Errorf("upsert: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	// Despite 400 concurrent upserts, each link crosses idle->active
	// exactly once.
	changes := rec.ofType(domain.EventLinkStateChange)
	if len(changes) != 2 {
		t.Errorf("expected 2 state changes, got %d", len(changes))
	}
	for _, id := range []string{"link1", "link2"} {
		link, err := store.Link(id)
		if err != nil {
			t.Fatal(err)
		}
		if link.State != domain.LinkStateActive {
			t.Errorf("%s: expected active, got %s", id, link.State)
		}
	}
}

func TestStats(t *testing.T) {
	store, _ := newTestStore(t)
	stats := store.Stats()
	if stats.NodeCount != 3 || stats.LinkCount != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if stats.LinkStates["idle"] != 1 {
		t.Errorf("expected 1 idle link, got %v", stats.LinkStates)
	}
}
