package normalize

import (
	"testing"

	"github.com/pilot-net/alert-relay/internal/types"
)

func TestQueueParsesCloudWatchAlarmEnvelope(t *testing.T) {
	body := []byte(`{
		"Type": "Notification",
		"MessageId": "msg-1",
		"Subject": "ALARM: HighCPU",
		"Timestamp": "2026-07-30T10:00:00Z",
		"Message": "{\"AlarmName\":\"HighCPU\",\"NewStateValue\":\"ALARM\",\"NewStateReason\":\"Threshold crossed\"}"
	}`)

	alert, err := Queue(body, staticLookup(nil), "chan-default")
	if err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	if alert.AlertID != "msg-1" {
		t.Errorf("AlertID = %q, want msg-1", alert.AlertID)
	}
	if alert.RuleName != "ALARM:_HighCPU" {
		t.Errorf("RuleName = %q, want ALARM:_HighCPU", alert.RuleName)
	}
	if alert.Status != types.StatusFiring {
		t.Errorf("Status = %q, want firing", alert.Status)
	}
	if alert.Resource != "HighCPU" {
		t.Errorf("Resource = %q, want HighCPU", alert.Resource)
	}
	if alert.ChannelID != "chan-default" {
		t.Errorf("ChannelID = %q, want chan-default", alert.ChannelID)
	}
}

func TestQueueResolvesOnOKState(t *testing.T) {
	body := []byte(`{
		"MessageId": "msg-2",
		"Message": "{\"AlarmName\":\"HighCPU\",\"NewStateValue\":\"OK\",\"NewStateReason\":\"Back to normal\"}"
	}`)

	alert, err := Queue(body, staticLookup(nil), "chan-default")
	if err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	if alert.Status != types.StatusResolved {
		t.Errorf("Status = %q, want resolved", alert.Status)
	}
}

func TestQueueUsesRuleChannel(t *testing.T) {
	cfg := types.Config{"my-alarm": {ChannelID: "chan-rule"}}
	body := []byte(`{
		"MessageId": "msg-3",
		"MessageAttributes": {"rule_name": {"Type": "String", "Value": "my-alarm"}},
		"Message": "{}"
	}`)

	alert, err := Queue(body, staticLookup(cfg), "chan-default")
	if err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	if alert.RuleName != "my-alarm" {
		t.Errorf("RuleName = %q, want my-alarm", alert.RuleName)
	}
	if alert.ChannelID != "chan-rule" {
		t.Errorf("ChannelID = %q, want chan-rule", alert.ChannelID)
	}
}

func TestQueueFallsBackToSNSWhenNoNameCandidates(t *testing.T) {
	body := []byte(`{"MessageId": "msg-4", "Message": "{}"}`)

	alert, err := Queue(body, staticLookup(nil), "chan-default")
	if err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	if alert.RuleName != "sns" {
		t.Errorf("RuleName = %q, want sns", alert.RuleName)
	}
}

func TestQueueRejectsInvalidEnvelope(t *testing.T) {
	_, err := Queue([]byte(`not json`), staticLookup(nil), "chan-default")
	if err == nil {
		t.Fatal("expected an error for invalid JSON envelope")
	}
}
