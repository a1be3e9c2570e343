// Package types defines the core domain model shared across the alert
// pipeline: the canonical alert shape produced by normalizers, the
// per-incident record persisted between firings, rule configuration, and
// audit/troubleshooting records.
package types

import "time"

// Severity is the normalized severity of a CanonicalAlert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// ValidSeverity reports whether s is one of the allowed severity strings.
func ValidSeverity(s string) bool {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityWarning, SeverityInfo:
		return true
	default:
		return false
	}
}

// Status is the lifecycle status reported by a source (not the richer
// Incident.State, which also includes "acknowledged").
type Status string

const (
	StatusFiring   Status = "firing"
	StatusResolved Status = "resolved"
)

// Field is an ordered label/annotation pair attached to an alert for display.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CanonicalAlert is the single internal payload shape produced by every
// normalizer and consumed by the processor.
type CanonicalAlert struct {
	AlertID     string   `json:"alertId"`
	Resource    string   `json:"resource,omitempty"`
	RuleName    string   `json:"ruleName"`
	Status      Status   `json:"status"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Fields      []Field  `json:"fields,omitempty"`

	StartedAt  *time.Time `json:"startedAt,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`

	ChannelID string `json:"channelId,omitempty"`
	Source    string `json:"source"`
}

// IncidentKey is the storage key an alert maps to: alertId plus resource,
// with "default" standing in for an absent resource dimension.
func (a CanonicalAlert) IncidentKey() string {
	return IncidentKey(a.AlertID, a.Resource)
}

// IncidentKey builds the incidentKey from its two constituent parts.
func IncidentKey(alertID, resource string) string {
	if resource == "" {
		resource = "default"
	}
	return alertID + ":" + resource
}

// State is the richer per-incident lifecycle state, a superset of Status
// that also includes the user-driven "acknowledged" state.
type State string

const (
	StateFiring       State = "firing"
	StateAcknowledged State = "acknowledged"
	StateResolved     State = "resolved"
)

// Incident is the persisted record for a single incidentKey.
type Incident struct {
	IncidentKey string `json:"incidentKey"`

	MessageID string  `json:"messageId"`
	ChannelID string  `json:"channelId"`
	ThreadID  *string `json:"threadId,omitempty"`

	State    State    `json:"state"`
	RuleName string   `json:"ruleName"`
	Severity Severity `json:"severity"`

	// Title, Description, and Fields cache the last alert payload
	// rendered into the embed, so a manual ack/resolve transition (which
	// carries no new alert payload of its own) can redraw the same
	// content with only the status line changed.
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields,omitempty"`

	// UpdatedAt is the last user-visible emission time: it is only ever
	// set by the chat mirror on a create/edit/repeat, never by background
	// loops that merely annotate the record (escalation, in particular,
	// must never touch it — see MentionLevel).
	UpdatedAt time.Time `json:"updatedAt"`

	AcknowledgedBy *string    `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`

	ResolvedBy *string    `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`

	// MentionLevel is the index into RuleConfig.Mentions of the next
	// responder to page. Monotonically non-decreasing while State ==
	// StateFiring.
	MentionLevel int `json:"mentionLevel"`
}

// IncidentTTL is the record lifetime in the incident store.
const IncidentTTL = 7 * 24 * time.Hour

// RuleConfig is one named entry in the routing configuration.
type RuleConfig struct {
	ChannelID       string   `json:"channelId"`
	SuppressWindowMs int     `json:"suppressWindowMs,omitempty"`
	ImportantLabels []string `json:"importantLabels,omitempty"`
	HiddenLabels    []string `json:"hiddenLabels,omitempty"`
	ThumbnailURL    string   `json:"thumbnailUrl,omitempty"`
	Mentions        []string `json:"mentions,omitempty"`
}

// SuppressWindow returns the configured suppress window, defaulting to 5
// minutes when unset.
func (r RuleConfig) SuppressWindow() time.Duration {
	if r.SuppressWindowMs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(r.SuppressWindowMs) * time.Millisecond
}

// Config is the full rule map, keyed by ruleName.
type Config map[string]RuleConfig

// AuditEvent is one append-only lifecycle record.
type AuditEvent struct {
	AlertID        string    `json:"alertId"`
	Resource       string    `json:"resource,omitempty"`
	Status         Status    `json:"status"`
	MessageID      string    `json:"messageId,omitempty"`
	ChannelID      string    `json:"channelId,omitempty"`
	Severity       Severity  `json:"severity"`
	RuleName       string    `json:"ruleName"`
	Source         string    `json:"source"`
	AcknowledgedBy *string   `json:"acknowledgedBy,omitempty"`
	ResolvedBy     *string   `json:"resolvedBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TroubleshootingGuide is markdown content keyed by rule name.
type TroubleshootingGuide struct {
	RuleName string `json:"ruleName"`
	Content  string `json:"content"`
}

// IsSentinelTime reports whether t should be treated as "absent" per
// spec.md's sentinel-timestamp handling: a zero Go time, or a time whose
// year is the Go zero-value year (0001), which is how a parsed
// "0001-01-01T00:00:00Z" string round-trips.
func IsSentinelTime(t time.Time) bool {
	return t.IsZero() || t.Year() <= 1
}
