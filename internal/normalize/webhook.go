// Package normalize converts source-specific payloads into the canonical
// alert shape consumed by the processor. There are two adapters: Webhook
// for Alertmanager-style batch pushes, and Queue for SNS-style queued
// envelopes.
package normalize

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pilot-net/alert-relay/internal/types"
)

// RuleLookup resolves a rule's label configuration for field assembly.
// The adapters read ChannelID, ImportantLabels and HiddenLabels, but take
// the full RuleConfig so callers can share one lookup with the processor.
type RuleLookup func(ruleName string) (types.RuleConfig, bool)

// webhookPayload is the Alertmanager-compatible batch body.
type webhookPayload struct {
	Version           string          `json:"version"`
	GroupKey          string          `json:"groupKey"`
	Status            string          `json:"status"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	Alerts            []webhookItem   `json:"alerts"`
}

type webhookItem struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    string            `json:"startsAt"`
	EndsAt      string            `json:"endsAt"`
	Fingerprint string            `json:"fingerprint"`
}

// Webhook parses an Alertmanager-style batch payload into one CanonicalAlert
// per item. Each alert's ChannelID is the rule's RuleConfig.ChannelID, or
// defaultChannel when the rule has none.
func Webhook(body []byte, lookup RuleLookup, defaultChannel string) ([]types.CanonicalAlert, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("normalize: invalid webhook payload: %w", err)
	}

	out := make([]types.CanonicalAlert, 0, len(payload.Alerts))
	for _, item := range payload.Alerts {
		alert, err := webhookItemToAlert(item, payload.CommonLabels, payload.CommonAnnotations, lookup, defaultChannel)
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	return out, nil
}

func webhookItemToAlert(item webhookItem, commonLabels, commonAnnotations map[string]string, lookup RuleLookup, defaultChannel string) (types.CanonicalAlert, error) {
	labels := mergeMaps(commonLabels, item.Labels)
	annotations := mergeMaps(commonAnnotations, item.Annotations)

	alertID := item.Fingerprint
	if alertID == "" {
		alertID = synthesizeFingerprint(labels["alertname"])
	}

	ruleName := firstNonEmpty(labels["alertname"], labels["alert_type"], "default")

	resource := firstNonEmpty(labels["instance"], labels["DBInstanceIdentifier"], labels["resource"])

	status := types.StatusFiring
	if item.Status == "resolved" {
		status = types.StatusResolved
	}

	severity := types.SeverityWarning
	if sev := strings.ToLower(labels["severity"]); types.ValidSeverity(sev) {
		severity = types.Severity(sev)
	}

	title := firstNonEmpty(Sanitize(annotations["summary"]), ruleName)
	description := SanitizeOr(annotations["summary"], SanitizeOr(annotations["description"], "No description"))

	rule, _ := lookup(ruleName)
	fields := buildWebhookFields(labels, annotations, rule)

	alert := types.CanonicalAlert{
		AlertID:     alertID,
		Resource:    resource,
		RuleName:    ruleName,
		Status:      status,
		Severity:    severity,
		Title:       title,
		Description: description,
		Fields:      fields,
		Source:      "webhook",
	}

	if startedAt, ok := parseMeaningfulTime(item.StartsAt); ok {
		alert.StartedAt = &startedAt
	}
	if status == types.StatusResolved {
		if resolvedAt, ok := parseMeaningfulTime(item.EndsAt); ok {
			alert.ResolvedAt = &resolvedAt
		}
	}

	if rule.ChannelID != "" {
		alert.ChannelID = rule.ChannelID
	} else {
		alert.ChannelID = defaultChannel
	}

	return alert, nil
}

// buildWebhookFields assembles the field list: a synthesized "Key info"
// field from the rule's important labels (insertion order), then remaining
// labels not hidden by the rule, then sanitized annotations.
func buildWebhookFields(labels, annotations map[string]string, rule types.RuleConfig) []types.Field {
	hidden := make(map[string]bool, len(rule.HiddenLabels))
	for _, h := range rule.HiddenLabels {
		hidden[h] = true
	}
	used := make(map[string]bool, len(rule.ImportantLabels))

	var fields []types.Field

	if len(rule.ImportantLabels) > 0 {
		var parts []string
		for _, name := range rule.ImportantLabels {
			if v, ok := labels[name]; ok && v != "" {
				parts = append(parts, fmt.Sprintf("%s=%s", name, v))
				used[name] = true
			}
		}
		if len(parts) > 0 {
			fields = append(fields, types.Field{Name: "Key info", Value: strings.Join(parts, ", ")})
		}
	}

	for _, name := range sortedKeys(labels) {
		if used[name] || hidden[name] || name == "alertname" {
			continue
		}
		if v := labels[name]; v != "" {
			fields = append(fields, types.Field{Name: name, Value: v})
		}
	}

	for _, name := range sortedKeys(annotations) {
		if name == "summary" || name == "description" {
			continue
		}
		if v := Sanitize(annotations[name]); v != "" {
			fields = append(fields, types.Field{Name: name, Value: v})
		}
	}

	return fields
}

func mergeMaps(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Insertion order isn't preserved by Go maps; a stable lexical order
	// keeps field lists deterministic across repeated firings of the same
	// alert, which matters for diffing chat message edits in tests.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseMeaningfulTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	if types.IsSentinelTime(t) {
		return time.Time{}, false
	}
	return t, true
}

func synthesizeFingerprint(alertname string) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-%d-%s", firstNonEmpty(alertname, "alert"), time.Now().UnixNano(), hex.EncodeToString(buf))
}
