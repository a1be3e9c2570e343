package reconciler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/pilot-net/alert-relay/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeScanner struct {
	mu   sync.Mutex
	data map[string]types.Incident
}

func newFakeScanner(incidents ...types.Incident) *fakeScanner {
	data := make(map[string]types.Incident, len(incidents))
	for _, inc := range incidents {
		data[inc.IncidentKey] = inc
	}
	return &fakeScanner{data: data}
}

func (f *fakeScanner) Scan(ctx context.Context, fn func(types.Incident) error) error {
	f.mu.Lock()
	snapshot := make([]types.Incident, 0, len(f.data))
	for _, inc := range f.data {
		snapshot = append(snapshot, inc)
	}
	f.mu.Unlock()
	for _, inc := range snapshot {
		if err := fn(inc); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeScanner) Put(ctx context.Context, rec types.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[rec.IncidentKey] = rec
	return nil
}

func (f *fakeScanner) Delete(ctx context.Context, incidentKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, incidentKey)
	return nil
}

type fakeGateway struct {
	deadChannels map[string]bool
	deadMessages map[string]bool
	deadThreads  map[string]bool
}

func (g *fakeGateway) ChannelUsable(ctx context.Context, channelID string) (bool, error) {
	return !g.deadChannels[channelID], nil
}

func (g *fakeGateway) MessageExists(ctx context.Context, channelID, messageID string) (bool, error) {
	return !g.deadMessages[messageID], nil
}

func (g *fakeGateway) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	return !g.deadThreads[threadID], nil
}

func strPtr(s string) *string { return &s }

func TestSweepDropsIncidentWithDeadChannel(t *testing.T) {
	scanner := newFakeScanner(types.Incident{IncidentKey: "a:default", ChannelID: "chan-dead", MessageID: "m1"})
	gw := &fakeGateway{deadChannels: map[string]bool{"chan-dead": true}}
	r := New(scanner, gw, 0, testLogger())

	stats, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", stats.Dropped)
	}
	if _, ok := scanner.data["a:default"]; ok {
		t.Error("expected incident to be removed from the store")
	}
}

func TestSweepDropsIncidentWithDeadMessage(t *testing.T) {
	scanner := newFakeScanner(types.Incident{
		IncidentKey: "b:default",
		ChannelID:   "chan-ok",
		MessageID:   "m-dead",
		ThreadID:    strPtr("t-dead"),
	})
	gw := &fakeGateway{
		deadMessages: map[string]bool{"m-dead": true},
		deadThreads:  map[string]bool{"t-dead": true},
	}
	r := New(scanner, gw, 0, testLogger())

	stats, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", stats.Dropped)
	}
	if stats.ClearedThreads != 0 {
		t.Errorf("clearedThreads = %d, want 0 (a dead message drops the record outright)", stats.ClearedThreads)
	}
	if _, ok := scanner.data["b:default"]; ok {
		t.Error("expected incident to be removed from the store")
	}
}

func TestSweepClearsDeadThreadOnly(t *testing.T) {
	scanner := newFakeScanner(types.Incident{
		IncidentKey: "d:default",
		ChannelID:   "chan-ok",
		MessageID:   "m-ok",
		ThreadID:    strPtr("t-dead"),
	})
	gw := &fakeGateway{
		deadThreads: map[string]bool{"t-dead": true},
	}
	r := New(scanner, gw, 0, testLogger())

	stats, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.ClearedThreads != 1 {
		t.Errorf("clearedThreads = %d, want 1", stats.ClearedThreads)
	}
	if stats.Dropped != 0 {
		t.Errorf("dropped = %d, want 0 (a live message keeps the record)", stats.Dropped)
	}
	rec, ok := scanner.data["d:default"]
	if !ok {
		t.Fatal("expected the incident to remain in the store")
	}
	if rec.MessageID != "m-ok" {
		t.Errorf("expected message reference untouched, got %q", rec.MessageID)
	}
	if rec.ThreadID != nil {
		t.Error("expected thread reference cleared")
	}
}

func TestSweepLeavesHealthyIncidentUntouched(t *testing.T) {
	scanner := newFakeScanner(types.Incident{
		IncidentKey: "c:default",
		ChannelID:   "chan-ok",
		MessageID:   "m-ok",
		ThreadID:    strPtr("t-ok"),
	})
	gw := &fakeGateway{}
	r := New(scanner, gw, 0, testLogger())

	stats, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Dropped != 0 || stats.ClearedThreads != 0 {
		t.Errorf("expected no changes, got %+v", stats)
	}
}
