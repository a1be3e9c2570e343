// Package processor implements the core alert pipeline: given a
// canonical alert, resolve its rule, gate it against recent duplicates,
// mirror it into chat, and record the transition in the audit log.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pilot-net/alert-relay/internal/chat"
	"github.com/pilot-net/alert-relay/internal/metrics"
	"github.com/pilot-net/alert-relay/internal/types"
)

// DedupGate suppresses repeated processing of the same alert payload
// within a rule's configured suppress window. It is advisory only: a
// resolved alert must never be suppressed, which is why Clear exists
// alongside TestAndSet rather than folding resolution into the fingerprint.
type DedupGate interface {
	TestAndSet(ctx context.Context, fingerprint string, ttl time.Duration) (Seen, error)
	Clear(ctx context.Context, fingerprint string) error
	SetTTL(ctx context.Context, fingerprint string, ttl time.Duration) error
}

// Seen mirrors dedup.Result without importing the dedup package, keeping
// processor's dependency surface expressed entirely as interfaces.
type Seen int

const (
	SeenNew Seen = iota
	SeenDuplicate
)

// IncidentStore is the subset of incident.Store the processor depends on.
type IncidentStore interface {
	Get(ctx context.Context, incidentKey string) (*types.Incident, error)
	Put(ctx context.Context, rec types.Incident) error
	Delete(ctx context.Context, incidentKey string) error
}

// ChatMirror is the subset of chat.Mirror the processor depends on.
type ChatMirror interface {
	Emit(ctx context.Context, incidentKey string, alert types.CanonicalAlert, rule types.RuleConfig, current *types.Incident, hasGuide bool) (chat.Result, error)
}

// AuditStore is the subset of store.Store the processor depends on for
// writing the append-only lifecycle log.
type AuditStore interface {
	AppendAudit(ctx context.Context, ev types.AuditEvent) error
}

// RuleLookup resolves a rule's full configuration, reused from the
// normalize package's lookup shape so config plumbing stays uniform.
type RuleLookup func(ruleName string) (types.RuleConfig, bool)

// GuideLookup reports whether a troubleshooting guide exists for a rule,
// without handing back its (possibly large) content.
type GuideLookup func(ruleName string) (exists bool)

const (
	// resolvedExpiry and acknowledgedExpiry bound how long a prior
	// incident record is still considered "the same incident" for a new
	// firing of the same alert. Past these windows the record is
	// discarded and the new firing starts a fresh incident.
	resolvedExpiry     = 30 * time.Minute
	acknowledgedExpiry = 90 * time.Minute

	// minAckTTL is the floor on the dedup TTL extension an Acknowledge
	// applies, so a low-suppressWindow rule can't be re-posted moments
	// after a user acks it.
	minAckTTL = 10 * time.Minute
)

// Processor wires the dedup gate, incident store, chat mirror, and audit
// log into the single entry point ingress and queue polling call for
// every canonical alert they decode.
type Processor struct {
	dedup    DedupGate
	incident IncidentStore
	mirror   ChatMirror
	audit    AuditStore
	rules    RuleLookup
	guides   GuideLookup
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New builds a Processor.
func New(dedup DedupGate, incident IncidentStore, mirror ChatMirror, audit AuditStore, rules RuleLookup, guides GuideLookup, m *metrics.Metrics, logger *slog.Logger) *Processor {
	return &Processor{
		dedup:    dedup,
		incident: incident,
		mirror:   mirror,
		audit:    audit,
		rules:    rules,
		guides:   guides,
		metrics:  m,
		logger:   logger.With("component", "processor"),
	}
}

// Process runs one canonical alert through the full pipeline. It never
// returns an error for conditions the pipeline is designed to suppress
// (no matching rule, duplicate within the window); those are reported
// only through metrics and logs, matching spec's "gates don't fail the
// request" posture for ingress callers that fire-and-forget.
func (p *Processor) Process(ctx context.Context, alert types.CanonicalAlert) error {
	start := time.Now()
	defer func() {
		p.metrics.ProcessDuration.Observe(time.Since(start).Seconds())
	}()

	p.metrics.Received.Inc()

	rule, ok := p.rules(alert.RuleName)
	if !ok {
		p.metrics.NoConfigSuppressed.Inc()
		p.logger.Warn("no rule configured, suppressing", "rule_name", alert.RuleName, "alert_id", alert.AlertID)
		return nil
	}

	incidentKey := alert.IncidentKey()

	// The dedup gate is advisory and must never suppress a resolved
	// event: resolving always clears the fingerprint and proceeds. Only
	// a non-resolved (firing) alert is subject to the suppress window.
	if alert.Status == types.StatusResolved {
		if err := p.dedup.Clear(ctx, incidentKey); err != nil {
			return fmt.Errorf("dedup clear: %w", err)
		}
	} else {
		seen, err := p.dedup.TestAndSet(ctx, incidentKey, rule.SuppressWindow())
		if err != nil {
			return fmt.Errorf("dedup gate: %w", err)
		}
		if seen == SeenDuplicate {
			p.metrics.DedupSuppressed.Inc()
			p.logger.Debug("duplicate suppressed", "incident_key", incidentKey, "window", rule.SuppressWindow())
			return nil
		}
	}

	existing, err := p.incident.Get(ctx, incidentKey)
	if err != nil {
		return fmt.Errorf("load incident: %w", err)
	}

	if alert.Status == types.StatusResolved && existing == nil {
		// Nothing is tracking this incident (already resolved and
		// expired, or never seen); resolving it again is a no-op.
		p.logger.Debug("resolved alert with no tracked incident, skipping", "incident_key", incidentKey)
		return nil
	}

	if existing != nil && expired(*existing) {
		// Past the reuse window for its last known state: this firing
		// starts a fresh incident rather than reopening the old one.
		if err := p.incident.Delete(ctx, incidentKey); err != nil {
			return fmt.Errorf("delete expired incident: %w", err)
		}
		existing = nil
	}

	hasGuide := p.guides != nil && p.guides(alert.RuleName)

	result, err := p.mirror.Emit(ctx, incidentKey, alert, rule, existing, hasGuide)
	if err != nil {
		p.metrics.ChatErrors.Inc()
		return fmt.Errorf("chat mirror: %w", err)
	}

	if existing != nil {
		result.Incident.AcknowledgedBy = existing.AcknowledgedBy
		result.Incident.AcknowledgedAt = existing.AcknowledgedAt
		result.Incident.MentionLevel = existing.MentionLevel
	}
	if alert.Status == types.StatusResolved {
		result.Incident.State = types.StateResolved
		if alert.ResolvedAt != nil {
			result.Incident.ResolvedAt = alert.ResolvedAt
		} else {
			now := time.Now()
			result.Incident.ResolvedAt = &now
		}
	}

	if err := p.incident.Put(ctx, result.Incident); err != nil {
		return fmt.Errorf("persist incident: %w", err)
	}

	if err := p.audit.AppendAudit(ctx, auditEventFor(alert, result.Incident)); err != nil {
		p.logger.Error("append audit failed", "incident_key", incidentKey, "error", err)
	}

	p.metrics.Sent.Inc()
	return nil
}

// expired reports whether a prior incident record has sat past its reuse
// window: too long resolved, or too long acknowledged without resolving.
// A fresh firing of the same incident key after this point is treated as
// a new incident rather than continuing the old one.
func expired(prior types.Incident) bool {
	switch prior.State {
	case types.StateResolved:
		return prior.ResolvedAt != nil && time.Since(*prior.ResolvedAt) > resolvedExpiry
	case types.StateAcknowledged:
		return prior.AcknowledgedAt != nil && time.Since(*prior.AcknowledgedAt) > acknowledgedExpiry
	default:
		return false
	}
}

func auditEventFor(alert types.CanonicalAlert, incident types.Incident) types.AuditEvent {
	return types.AuditEvent{
		AlertID:        alert.AlertID,
		Resource:       alert.Resource,
		Status:         alert.Status,
		MessageID:      incident.MessageID,
		ChannelID:      incident.ChannelID,
		Severity:       alert.Severity,
		RuleName:       alert.RuleName,
		Source:         alert.Source,
		AcknowledgedBy: incident.AcknowledgedBy,
		ResolvedBy:     incident.ResolvedBy,
		CreatedAt:      time.Now(),
	}
}

// ErrIncidentNotFound is returned by Acknowledge/Resolve when the
// referenced incident key has no tracked record (expired TTL, or a
// stale button click on an old message).
var ErrIncidentNotFound = errors.New("processor: incident not found")

// Acknowledge marks an incident acknowledged by userID and re-emits its
// chat message to reflect the new state. Called from the chat
// interaction handler when a user presses "Acknowledge". Per spec, it
// also pushes the dedup TTL out to at least 10 minutes so the source
// doesn't immediately re-post the same alert into a freshly-acked thread.
func (p *Processor) Acknowledge(ctx context.Context, incidentKey, userID string) error {
	return p.transition(ctx, incidentKey, func(incident *types.Incident) {
		if incident.State == types.StateFiring {
			incident.State = types.StateAcknowledged
		}
		incident.AcknowledgedBy = &userID
		now := time.Now()
		incident.AcknowledgedAt = &now
	}, func(ctx context.Context, fingerprint string, rule types.RuleConfig) error {
		ttl := rule.SuppressWindow()
		if ttl < minAckTTL {
			ttl = minAckTTL
		}
		return p.dedup.SetTTL(ctx, fingerprint, ttl)
	})
}

// Resolve marks an incident resolved by userID, the manual counterpart
// to a source reporting StatusResolved. It clears the dedup fingerprint,
// matching Process's handling of a source-reported resolution.
func (p *Processor) Resolve(ctx context.Context, incidentKey, userID string) error {
	return p.transition(ctx, incidentKey, func(incident *types.Incident) {
		incident.State = types.StateResolved
		incident.ResolvedBy = &userID
		now := time.Now()
		incident.ResolvedAt = &now
	}, func(ctx context.Context, fingerprint string, rule types.RuleConfig) error {
		return p.dedup.Clear(ctx, fingerprint)
	})
}

// transition applies a manual state change (ack/resolve) to an existing
// incident, updates the dedup gate via onDedup, and re-emits the
// incident's chat message. The alert passed to the mirror carries no
// title/description/fields of its own, so the mirror redraws the embed
// from the incident's own cached content instead.
func (p *Processor) transition(ctx context.Context, incidentKey string, mutate func(*types.Incident), onDedup func(ctx context.Context, fingerprint string, rule types.RuleConfig) error) error {
	incident, err := p.incident.Get(ctx, incidentKey)
	if err != nil {
		return fmt.Errorf("load incident: %w", err)
	}
	if incident == nil {
		return ErrIncidentNotFound
	}

	mutate(incident)
	incident.UpdatedAt = time.Now()

	rule, _ := p.rules(incident.RuleName)
	hasGuide := p.guides != nil && p.guides(incident.RuleName)

	if err := onDedup(ctx, incidentKey, rule); err != nil {
		return fmt.Errorf("dedup gate: %w", err)
	}

	synthetic := types.CanonicalAlert{
		RuleName: incident.RuleName,
		Severity: incident.Severity,
	}
	if incident.State == types.StateResolved {
		synthetic.Status = types.StatusResolved
	} else {
		synthetic.Status = types.StatusFiring
	}

	result, err := p.mirror.Emit(ctx, incidentKey, synthetic, rule, incident, hasGuide)
	if err != nil {
		p.metrics.ChatErrors.Inc()
		return fmt.Errorf("chat mirror: %w", err)
	}

	result.Incident.AcknowledgedBy = incident.AcknowledgedBy
	result.Incident.AcknowledgedAt = incident.AcknowledgedAt
	result.Incident.ResolvedBy = incident.ResolvedBy
	result.Incident.ResolvedAt = incident.ResolvedAt
	result.Incident.MentionLevel = incident.MentionLevel
	result.Incident.State = incident.State

	if err := p.incident.Put(ctx, result.Incident); err != nil {
		return fmt.Errorf("persist incident: %w", err)
	}
	return nil
}
