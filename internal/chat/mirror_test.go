package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pilot-net/alert-relay/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway implements GatewayClient in memory for mirror tests.
type fakeGateway struct {
	mu          sync.Mutex
	messages    map[string]MessageParams // messageID -> last params
	channels    map[string]bool          // channelID -> usable
	threads     map[string]bool          // threadID -> exists
	threadNotes []string
	seq         int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		messages: make(map[string]MessageParams),
		channels: make(map[string]bool),
		threads:  make(map[string]bool),
	}
}

func (f *fakeGateway) CreateMessage(ctx context.Context, channelID string, params MessageParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := "msg-" + string(rune('0'+f.seq))
	f.messages[id] = params
	return id, nil
}

func (f *fakeGateway) EditMessage(ctx context.Context, channelID, messageID string, params MessageParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[messageID]; !ok {
		return ErrMessageGone
	}
	f.messages[messageID] = params
	return nil
}

func (f *fakeGateway) MessageExists(ctx context.Context, channelID, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.messages[messageID]
	return ok, nil
}

func (f *fakeGateway) CreateThread(ctx context.Context, channelID, messageID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := "thread-" + string(rune('0'+f.seq))
	f.threads[id] = true
	return id, nil
}

func (f *fakeGateway) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads[threadID], nil
}

func (f *fakeGateway) SendThreadMessage(ctx context.Context, threadID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadNotes = append(f.threadNotes, content)
	return nil
}

func (f *fakeGateway) SendChannelMessage(ctx context.Context, channelID, content string) error {
	return nil
}

func (f *fakeGateway) ChannelUsable(ctx context.Context, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	usable, ok := f.channels[channelID]
	if !ok {
		return true, nil
	}
	return usable, nil
}

func TestMirrorEmitCreatesOnFirstSight(t *testing.T) {
	gw := newFakeGateway()
	m := NewMirror(gw, testLogger())

	alert := types.CanonicalAlert{
		AlertID:  "alert-1",
		RuleName: "high-cpu",
		Status:   types.StatusFiring,
		Severity: types.SeverityCritical,
	}
	rule := types.RuleConfig{ChannelID: "chan-1"}

	result, err := m.Emit(context.Background(), alert.IncidentKey(), alert, rule, nil, false)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !result.Created {
		t.Fatal("expected Created=true on first emit")
	}
	if result.Incident.MessageID == "" {
		t.Fatal("expected a message ID to be recorded")
	}
	if result.Incident.ThreadID == nil {
		t.Fatal("expected a thread to be opened on first emit")
	}
	if result.Incident.State != types.StateFiring {
		t.Errorf("state = %s, want firing", result.Incident.State)
	}
}

func TestMirrorEmitEditsExistingMessage(t *testing.T) {
	gw := newFakeGateway()
	m := NewMirror(gw, testLogger())

	alert := types.CanonicalAlert{AlertID: "alert-2", RuleName: "disk-full", Status: types.StatusFiring, Severity: types.SeverityHigh}
	rule := types.RuleConfig{ChannelID: "chan-1"}

	first, err := m.Emit(context.Background(), alert.IncidentKey(), alert, rule, nil, false)
	if err != nil {
		t.Fatalf("first Emit: %v", err)
	}

	alert.Status = types.StatusResolved
	second, err := m.Emit(context.Background(), alert.IncidentKey(), alert, rule, &first.Incident, false)
	if err != nil {
		t.Fatalf("second Emit: %v", err)
	}
	if second.Created {
		t.Fatal("expected Created=false on second emit")
	}
	if second.Incident.MessageID != first.Incident.MessageID {
		t.Fatal("expected the same message to be edited, not a new one created")
	}
	if second.Incident.State != types.StateResolved {
		t.Errorf("state = %s, want resolved", second.Incident.State)
	}
}

func TestMirrorEmitRecreatesWhenMessageGone(t *testing.T) {
	gw := newFakeGateway()
	m := NewMirror(gw, testLogger())

	alert := types.CanonicalAlert{AlertID: "alert-3", RuleName: "oom", Status: types.StatusFiring, Severity: types.SeverityWarning}
	rule := types.RuleConfig{ChannelID: "chan-1"}

	first, err := m.Emit(context.Background(), alert.IncidentKey(), alert, rule, nil, false)
	if err != nil {
		t.Fatalf("first Emit: %v", err)
	}

	// Simulate the message having been deleted out from under the mirror.
	gw.mu.Lock()
	delete(gw.messages, first.Incident.MessageID)
	gw.mu.Unlock()

	second, err := m.Emit(context.Background(), alert.IncidentKey(), alert, rule, &first.Incident, false)
	if err != nil {
		t.Fatalf("second Emit: %v", err)
	}
	if second.Incident.MessageID == first.Incident.MessageID {
		t.Fatal("expected a new message ID after the old one went missing")
	}
	if !second.Created {
		t.Fatal("expected Created=true when recreating a gone message")
	}
}

func TestMirrorEmitChannelGone(t *testing.T) {
	gw := newFakeGateway()
	gw.channels["chan-dead"] = false
	m := NewMirror(gw, testLogger())

	alert := types.CanonicalAlert{AlertID: "alert-4", RuleName: "x", Status: types.StatusFiring, Severity: types.SeverityInfo}
	rule := types.RuleConfig{ChannelID: "chan-dead"}

	_, err := m.Emit(context.Background(), alert.IncidentKey(), alert, rule, nil, false)
	if err == nil {
		t.Fatal("expected an error for a dead channel")
	}
}

func TestMirrorEmitPostsRepeatedNoteOnFiringRepeat(t *testing.T) {
	gw := newFakeGateway()
	m := NewMirror(gw, testLogger())

	alert := types.CanonicalAlert{AlertID: "alert-5", RuleName: "high-cpu", Status: types.StatusFiring, Severity: types.SeverityCritical}
	rule := types.RuleConfig{ChannelID: "chan-1"}

	first, err := m.Emit(context.Background(), alert.IncidentKey(), alert, rule, nil, false)
	if err != nil {
		t.Fatalf("first Emit: %v", err)
	}
	if len(gw.threadNotes) != 0 {
		t.Fatalf("expected no thread note on first emit, got %v", gw.threadNotes)
	}

	second, err := m.Emit(context.Background(), alert.IncidentKey(), alert, rule, &first.Incident, false)
	if err != nil {
		t.Fatalf("second Emit: %v", err)
	}
	if len(gw.threadNotes) != 1 || gw.threadNotes[0] != "🔁 Alert repeated" {
		t.Fatalf("threadNotes = %v, want one unmentioned repeat note", gw.threadNotes)
	}
	if second.Incident.State != types.StateFiring {
		t.Errorf("state = %s, want firing", second.Incident.State)
	}
}

func TestMirrorEmitMentionsOnStaleAcknowledgedRepeat(t *testing.T) {
	gw := newFakeGateway()
	m := NewMirror(gw, testLogger())

	alert := types.CanonicalAlert{AlertID: "alert-6", RuleName: "high-cpu", Status: types.StatusFiring, Severity: types.SeverityCritical}
	rule := types.RuleConfig{ChannelID: "chan-1", Mentions: []string{"@oncall-1", "@oncall-2"}}

	first, err := m.Emit(context.Background(), alert.IncidentKey(), alert, rule, nil, false)
	if err != nil {
		t.Fatalf("first Emit: %v", err)
	}

	ackedAt := time.Now().Add(-90 * time.Minute)
	acked := first.Incident
	acked.State = types.StateAcknowledged
	acked.AcknowledgedAt = &ackedAt

	second, err := m.Emit(context.Background(), alert.IncidentKey(), alert, rule, &acked, false)
	if err != nil {
		t.Fatalf("second Emit: %v", err)
	}
	if len(gw.threadNotes) != 1 || gw.threadNotes[0] != "🔁 Alert repeated @oncall-1" {
		t.Fatalf("threadNotes = %v, want a repeat note mentioning @oncall-1", gw.threadNotes)
	}
	if second.Incident.State != types.StateAcknowledged {
		t.Errorf("state = %s, want acknowledged (stateFor holds it until resolve)", second.Incident.State)
	}
}

func TestMirrorEmitSkipsMentionWhenRecentlyAcknowledged(t *testing.T) {
	gw := newFakeGateway()
	m := NewMirror(gw, testLogger())

	alert := types.CanonicalAlert{AlertID: "alert-7", RuleName: "high-cpu", Status: types.StatusFiring, Severity: types.SeverityCritical}
	rule := types.RuleConfig{ChannelID: "chan-1", Mentions: []string{"@oncall-1"}}

	first, err := m.Emit(context.Background(), alert.IncidentKey(), alert, rule, nil, false)
	if err != nil {
		t.Fatalf("first Emit: %v", err)
	}

	ackedAt := time.Now().Add(-5 * time.Minute)
	acked := first.Incident
	acked.State = types.StateAcknowledged
	acked.AcknowledgedAt = &ackedAt

	if _, err := m.Emit(context.Background(), alert.IncidentKey(), alert, rule, &acked, false); err != nil {
		t.Fatalf("second Emit: %v", err)
	}
	if len(gw.threadNotes) != 1 || gw.threadNotes[0] != "🔁 Alert repeated" {
		t.Fatalf("threadNotes = %v, want an unmentioned repeat note (acknowledged <60min ago)", gw.threadNotes)
	}
}

func TestKeyMutexSerializesPerKeyAndReclaims(t *testing.T) {
	km := newKeyMutex()

	unlockA := km.Lock("k1")
	if km.Len() != 1 {
		t.Fatalf("Len = %d, want 1", km.Len())
	}
	unlockA()
	if km.Len() != 0 {
		t.Fatalf("Len after unlock = %d, want 0 (entry should be reclaimed)", km.Len())
	}

	unlockB := km.Lock("k2")
	unlockC := km.Lock("k3")
	if km.Len() != 2 {
		t.Fatalf("Len = %d, want 2", km.Len())
	}
	unlockB()
	unlockC()
}

func TestChunkGuideSplitsOnParagraphBoundaries(t *testing.T) {
	small := "short guide"
	chunks := ChunkGuide(small)
	if len(chunks) != 1 || chunks[0] != small {
		t.Fatalf("ChunkGuide(small) = %v", chunks)
	}

	var big string
	para := "this is one paragraph of troubleshooting advice repeated to pad length out.\n"
	for i := 0; i < 40; i++ {
		big += para + "\n"
	}
	chunks = ChunkGuide(big)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for oversized guide, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > maxMessageLen {
			t.Errorf("chunk exceeds max length: %d", len(c))
		}
	}
}
