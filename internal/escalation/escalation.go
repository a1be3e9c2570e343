// Package escalation runs the periodic loop that pages the next
// responder on a critical, still-firing incident once it has sat
// unchanged for (mention level + 1) * 5 minutes since its UpdatedAt.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pilot-net/alert-relay/internal/types"
)

// Scanner enumerates all tracked incidents, matching incident.Store's
// Scan method.
type Scanner interface {
	Scan(ctx context.Context, fn func(types.Incident) error) error
	Put(ctx context.Context, rec types.Incident) error
}

// Notifier sends a plain-text mention into an incident's thread
// (falling back to its channel), matching the chat package's posting
// primitives.
type Notifier interface {
	NotifyMention(ctx context.Context, incident types.Incident, mention string) error
}

// RuleLookup resolves a rule's escalation policy.
type RuleLookup func(ruleName string) (types.RuleConfig, bool)

// Loop periodically walks every tracked incident and pages the next
// mention on critical firing ones once their level's threshold (see
// maybeEscalate) has elapsed.
type Loop struct {
	scanner  Scanner
	notifier Notifier
	rules    RuleLookup
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New builds an escalation loop that ticks every interval (spec default
// is 60s; tests construct with a much shorter interval).
func New(scanner Scanner, notifier Notifier, rules RuleLookup, interval time.Duration, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Loop{
		scanner:  scanner,
		notifier: notifier,
		rules:    rules,
		interval: interval,
		now:      time.Now,
		logger:   logger.With("component", "escalation"),
	}
}

// Run blocks, ticking until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("escalation loop started", "interval", l.interval)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("escalation loop stopping")
			return
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("escalation tick failed", "error", err)
			}
		}
	}
}

// Tick runs a single escalation pass over every tracked incident.
// Exported so tests (and a manual "escalate now" admin hook) can drive
// one pass synchronously.
func (l *Loop) Tick(ctx context.Context) error {
	now := l.now()
	var escalated int

	err := l.scanner.Scan(ctx, func(incident types.Incident) error {
		updated, didEscalate := l.maybeEscalate(ctx, incident, now)
		if !didEscalate {
			return nil
		}
		if err := l.scanner.Put(ctx, updated); err != nil {
			return fmt.Errorf("persist escalated incident %q: %w", incident.IncidentKey, err)
		}
		escalated++
		return nil
	})
	if err != nil {
		return err
	}
	if escalated > 0 {
		l.logger.Info("escalation tick complete", "escalated", escalated)
	}
	return nil
}

// maybeEscalate pages the next responder once an incident has sat
// firing past its level's threshold. The threshold grows with the
// mention level ((level+1)*5min off UpdatedAt) rather than off a
// separate escalation timestamp, so a successful escalation naturally
// pushes the next one further out without ever touching UpdatedAt
// itself: resetting UpdatedAt here would push every subsequent
// threshold further out than intended.
func (l *Loop) maybeEscalate(ctx context.Context, incident types.Incident, now time.Time) (types.Incident, bool) {
	if incident.State != types.StateFiring || incident.Severity != types.SeverityCritical {
		return incident, false
	}

	rule, ok := l.rules(incident.RuleName)
	if !ok || len(rule.Mentions) == 0 {
		return incident, false
	}
	level := incident.MentionLevel
	if level >= len(rule.Mentions) {
		return incident, false
	}
	if types.IsSentinelTime(incident.UpdatedAt) {
		return incident, false
	}

	threshold := time.Duration(level+1) * 5 * time.Minute
	if now.Sub(incident.UpdatedAt) < threshold {
		return incident, false
	}

	mention := rule.Mentions[level]
	if err := l.notifier.NotifyMention(ctx, incident, mention); err != nil {
		l.logger.Error("mention notify failed", "incident_key", incident.IncidentKey, "error", err)
		return incident, false
	}

	incident.MentionLevel = level + 1
	return incident, true
}
