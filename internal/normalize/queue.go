package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/pilot-net/alert-relay/internal/types"
)

// snsEnvelope is the standard SNS-to-SQS delivery envelope.
type snsEnvelope struct {
	Type              string                          `json:"Type"`
	MessageID         string                          `json:"MessageId"`
	Subject           string                          `json:"Subject"`
	Message           string                          `json:"Message"`
	Timestamp         string                          `json:"Timestamp"`
	MessageAttributes map[string]snsMessageAttribute `json:"MessageAttributes"`
}

type snsMessageAttribute struct {
	Type  string `json:"Type"`
	Value string `json:"Value"`
}

// snsMessageBody is the best-effort shape of the JSON-encoded Message
// field: a CloudWatch alarm notification, or an EventBridge-style detail
// envelope. Unknown fields are ignored by encoding/json.
type snsMessageBody struct {
	AlarmName     string          `json:"AlarmName"`
	NewStateValue string          `json:"NewStateValue"`
	NewStateReason string         `json:"NewStateReason"`
	Source        string          `json:"source"`
	DetailType    string          `json:"detail-type"`
	EventName     string          `json:"eventName"`
	Detail        json.RawMessage `json:"detail"`
}

type snsDetail struct {
	Resource  string   `json:"resource"`
	Resources []string `json:"resources"`
	State     *struct {
		Value string `json:"value"`
	} `json:"state"`
}

// Queue parses a single SNS-Notification envelope into one CanonicalAlert.
func Queue(body []byte, lookup RuleLookup, defaultChannel string) (types.CanonicalAlert, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return types.CanonicalAlert{}, fmt.Errorf("normalize: invalid queue envelope: %w", err)
	}

	var msg snsMessageBody
	_ = json.Unmarshal([]byte(env.Message), &msg) // best-effort: Message may not be JSON

	var detail snsDetail
	if len(msg.Detail) > 0 {
		_ = json.Unmarshal(msg.Detail, &detail)
	}

	ruleName := deriveEventName(env, msg)

	resolved := msg.NewStateValue == "OK" || (detail.State != nil && detail.State.Value == "OK")
	status := types.StatusFiring
	if resolved {
		status = types.StatusResolved
	}

	resource := firstNonEmpty(msg.AlarmName, detail.Resource, firstARN(detail.Resources))

	rule, _ := lookup(ruleName)
	channel := rule.ChannelID
	if channel == "" {
		channel = defaultChannel
	}

	description := SanitizeOr(msg.NewStateReason, "No description")

	alert := types.CanonicalAlert{
		AlertID:     firstNonEmpty(env.MessageID, synthesizeFingerprint(ruleName)),
		Resource:    resource,
		RuleName:    ruleName,
		Status:      status,
		Severity:    types.SeverityWarning,
		Title:       firstNonEmpty(env.Subject, ruleName),
		Description: description,
		ChannelID:   channel,
		Source:      "sns",
	}

	if t, ok := parseMeaningfulTime(env.Timestamp); ok {
		alert.StartedAt = &t
		if status == types.StatusResolved {
			alert.ResolvedAt = &t
		}
	}

	return alert, nil
}

// deriveEventName follows spec.md's fallback chain: Subject →
// MessageAttributes.event_type.Value → MessageAttributes.rule_name.Value →
// Message JSON fields detail-type → source → eventName → literal "sns".
// Whitespace in the derived name is replaced with underscores.
func deriveEventName(env snsEnvelope, msg snsMessageBody) string {
	candidates := []string{
		env.Subject,
		attrValue(env.MessageAttributes, "event_type"),
		attrValue(env.MessageAttributes, "rule_name"),
		msg.DetailType,
		msg.Source,
		msg.EventName,
	}
	for _, c := range candidates {
		if c != "" {
			return strings.Map(func(r rune) rune {
				if unicode.IsSpace(r) {
					return '_'
				}
				return r
			}, c)
		}
	}
	return "sns"
}

func attrValue(attrs map[string]snsMessageAttribute, key string) string {
	if attrs == nil {
		return ""
	}
	return attrs[key].Value
}

func firstARN(resources []string) string {
	if len(resources) == 0 {
		return ""
	}
	return resources[0]
}
