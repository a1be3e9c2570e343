package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pilot-net/alert-relay/internal/types"
)

// repeatMentionAfter is how long an incident must have sat acknowledged
// before a firing repeat additionally pages rule.Mentions[0], rather than
// just dropping the quieter "repeated" note into the thread.
const repeatMentionAfter = 60 * time.Minute

// Mirror keeps one chat message per incident key in sync with the
// lifecycle of its canonical alert: created on first firing, edited in
// place on every subsequent state change, with a thread opened alongside
// the message for follow-up discussion. Troubleshooting guides are not
// posted into that thread; see RegisterInteractions.
type Mirror struct {
	client GatewayClient
	locks  *keyMutex
	logger *slog.Logger
}

// NewMirror builds a chat mirror over the given gateway client.
func NewMirror(client GatewayClient, logger *slog.Logger) *Mirror {
	return &Mirror{
		client: client,
		locks:  newKeyMutex(),
		logger: logger.With("component", "chat_mirror"),
	}
}

// Result describes what the mirror did and the incident fields it
// touched; callers persist the returned incident.
type Result struct {
	Incident types.Incident
	Created  bool
}

// Emit renders alert into incidentKey's chat message, creating it on
// first sight of the incident key and editing it in place thereafter.
// current is the caller's last-known incident record, or nil if this is
// the first time the key has been seen. hasGuide controls whether a
// troubleshoot button is attached. incidentKey is taken as an explicit
// parameter (rather than derived from alert) so manual ack/resolve
// transitions, which carry no fresh alert payload, can still address the
// right message.
func (m *Mirror) Emit(ctx context.Context, incidentKey string, alert types.CanonicalAlert, rule types.RuleConfig, current *types.Incident, hasGuide bool) (Result, error) {
	unlock := m.locks.Lock(incidentKey)
	defer unlock()

	return m.emitLocked(ctx, incidentKey, alert, rule, current, hasGuide)
}

// emitLocked does the actual work of Emit and must only be called while
// the caller holds incidentKey's lock. Kept separate so the
// ErrMessageGone retry can recurse without relocking a non-reentrant
// mutex.
func (m *Mirror) emitLocked(ctx context.Context, incidentKey string, alert types.CanonicalAlert, rule types.RuleConfig, current *types.Incident, hasGuide bool) (Result, error) {
	channelID := rule.ChannelID
	if channelID == "" {
		channelID = alert.ChannelID
	}

	usable, err := m.client.ChannelUsable(ctx, channelID)
	if err != nil {
		return Result{}, fmt.Errorf("check channel: %w", err)
	}
	if !usable {
		return Result{}, fmt.Errorf("%w: %s", ErrChannelGone, channelID)
	}

	var incident types.Incident
	if current != nil {
		incident = *current
	} else {
		incident = types.Incident{
			IncidentKey: incidentKey,
			ChannelID:   channelID,
			RuleName:    alert.RuleName,
			Severity:    alert.Severity,
		}
	}
	priorState := incident.State
	incident.State = stateFor(alert, incident)
	incident.Severity = alert.Severity
	// A payload-bearing alert refreshes the cached embed content; a
	// synthetic ack/resolve transition (constructed with no title of its
	// own) leaves the last rendered content untouched.
	if alert.Title != "" || alert.Description != "" || len(alert.Fields) > 0 {
		incident.Title = alert.Title
		incident.Description = alert.Description
		incident.Fields = alert.Fields
	}

	embed := BuildEmbed(incident, rule.ThumbnailURL)
	buttons := BuildButtons(incidentKey, incident, hasGuide)
	params := MessageParams{Embed: embed, Buttons: buttons}

	created := false
	if incident.MessageID != "" {
		exists, err := m.client.MessageExists(ctx, channelID, incident.MessageID)
		if err != nil {
			return Result{}, fmt.Errorf("check message: %w", err)
		}
		if !exists {
			incident.MessageID = ""
			incident.ThreadID = nil
		}
	}

	if incident.MessageID == "" {
		messageID, err := m.client.CreateMessage(ctx, channelID, params)
		if err != nil {
			return Result{}, fmt.Errorf("create message: %w", err)
		}
		incident.MessageID = messageID
		created = true

		threadID, err := m.client.CreateThread(ctx, channelID, messageID, threadName(alert))
		if err != nil {
			m.logger.Warn("create thread failed, continuing without thread", "incident_key", incidentKey, "error", err)
		} else {
			incident.ThreadID = &threadID
		}
	} else {
		if err := m.client.EditMessage(ctx, channelID, incident.MessageID, params); err != nil {
			if errors.Is(err, ErrMessageGone) {
				return m.emitLocked(ctx, incidentKey, alert, rule, nil, hasGuide)
			}
			return Result{}, fmt.Errorf("edit message: %w", err)
		}
	}

	if !created {
		if note := transitionNote(alert, incident, priorState, rule); note != "" {
			m.postThreadNote(ctx, channelID, incident, note)
		}
	}

	incident.UpdatedAt = nowFunc()
	return Result{Incident: incident, Created: created}, nil
}

// NotifyMention posts a plain-text escalation page into incident's
// thread (or its channel, if the thread is gone). It never edits the
// incident's embed message and never touches UpdatedAt, satisfying
// escalation's invariant that paging must not look like a fresh
// emission.
func (m *Mirror) NotifyMention(ctx context.Context, incident types.Incident, mention string) error {
	unlock := m.locks.Lock(incident.IncidentKey)
	defer unlock()

	note := mention + " incident " + incident.IncidentKey + " is still firing and unacknowledged."
	m.postThreadNote(ctx, incident.ChannelID, incident, note)
	return nil
}

// postThreadNote appends a short plain-text note to the incident's
// thread, falling back to the channel if no thread exists or it has
// been archived/locked out from under the mirror.
func (m *Mirror) postThreadNote(ctx context.Context, channelID string, incident types.Incident, note string) {
	if incident.ThreadID != nil {
		ok, err := m.client.ThreadExists(ctx, *incident.ThreadID)
		if err == nil && ok {
			if err := m.client.SendThreadMessage(ctx, *incident.ThreadID, note); err != nil {
				m.logger.Warn("thread note failed", "incident_key", incident.IncidentKey, "error", err)
			}
			return
		}
	}
	if err := m.client.SendChannelMessage(ctx, channelID, note); err != nil {
		m.logger.Warn("channel note failed", "incident_key", incident.IncidentKey, "error", err)
	}
}

func stateFor(alert types.CanonicalAlert, incident types.Incident) types.State {
	if alert.Status == types.StatusResolved {
		return types.StateResolved
	}
	if incident.State == types.StateAcknowledged {
		return types.StateAcknowledged
	}
	return types.StateFiring
}

// transitionNote decides what (if anything) to drop into the incident's
// thread for this emission. priorState is the incident's state before this
// call's stateFor reassignment, needed because a firing repeat's escalation
// mention depends on what the incident was, not what it just became.
func transitionNote(alert types.CanonicalAlert, incident types.Incident, priorState types.State, rule types.RuleConfig) string {
	switch {
	case alert.Status == types.StatusResolved && incident.State == types.StateResolved:
		return "Resolved."
	case alert.Status == types.StatusFiring && incident.ThreadID != nil:
		note := "🔁 Alert repeated"
		if priorState == types.StateAcknowledged && incident.AcknowledgedAt != nil &&
			time.Since(*incident.AcknowledgedAt) > repeatMentionAfter && len(rule.Mentions) > 0 {
			note += " " + rule.Mentions[0]
		}
		return note
	default:
		return ""
	}
}

func threadName(alert types.CanonicalAlert) string {
	name := alert.RuleName
	if alert.Resource != "" {
		name += " · " + alert.Resource
	}
	if len(name) > 90 {
		name = name[:90]
	}
	return name
}
