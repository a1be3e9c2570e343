// Package reconciler periodically sweeps tracked incidents for chat-side
// drift: channels, messages, or threads that have been deleted out from
// under the relay, which the normal emit/edit path only discovers
// lazily on the next firing of that specific incident.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/pilot-net/alert-relay/internal/types"
)

// Scanner enumerates and updates tracked incidents.
type Scanner interface {
	Scan(ctx context.Context, fn func(types.Incident) error) error
	Put(ctx context.Context, rec types.Incident) error
	Delete(ctx context.Context, incidentKey string) error
}

// Gateway is the subset of chat.GatewayClient-shaped checks the
// reconciler needs to detect drift without depending on the chat
// package's message-send surface.
type Gateway interface {
	ChannelUsable(ctx context.Context, channelID string) (bool, error)
	MessageExists(ctx context.Context, channelID, messageID string) (bool, error)
	ThreadExists(ctx context.Context, threadID string) (bool, error)
}

// Reconciler runs the periodic drift sweep.
type Reconciler struct {
	scanner  Scanner
	gateway  Gateway
	interval time.Duration
	logger   *slog.Logger
}

// New builds a reconciler. The spec default interval is 30 minutes.
func New(scanner Scanner, gateway Gateway, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Reconciler{
		scanner:  scanner,
		gateway:  gateway,
		interval: interval,
		logger:   logger.With("component", "reconciler"),
	}
}

// Run sweeps once immediately, then on every tick, until ctx is
// cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("reconciler started", "interval", r.interval)

	r.sweepLogged(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return
		case <-ticker.C:
			r.sweepLogged(ctx)
		}
	}
}

func (r *Reconciler) sweepLogged(ctx context.Context) {
	stats, err := r.Sweep(ctx)
	if err != nil {
		r.logger.Error("sweep failed", "error", err)
		return
	}
	if stats.Dropped > 0 || stats.ClearedThreads > 0 {
		r.logger.Info("sweep complete", "scanned", stats.Scanned, "dropped", stats.Dropped, "cleared_threads", stats.ClearedThreads)
	}
}

// Stats summarizes one sweep pass.
type Stats struct {
	Scanned        int
	Dropped        int // incidents removed because their channel or message no longer exists
	ClearedThreads int // incidents whose dead thread reference was cleared
}

// Sweep runs a single reconciliation pass over every tracked incident,
// returning what it found. Exported so tests and an admin "reconcile
// now" hook can drive it synchronously.
func (r *Reconciler) Sweep(ctx context.Context) (Stats, error) {
	var stats Stats

	err := r.scanner.Scan(ctx, func(incident types.Incident) error {
		stats.Scanned++
		changed, drop, err := r.reconcileOne(ctx, incident)
		if err != nil {
			r.logger.Warn("reconcile one failed", "incident_key", incident.IncidentKey, "error", err)
			return nil
		}
		if drop {
			if err := r.scanner.Delete(ctx, incident.IncidentKey); err != nil {
				return err
			}
			stats.Dropped++
			return nil
		}
		if changed != nil {
			if err := r.scanner.Put(ctx, *changed); err != nil {
				return err
			}
			stats.ClearedThreads++
		}
		return nil
	})
	return stats, err
}

// reconcileOne checks one incident's chat references. It returns
// (nil, true, nil) if the incident's channel or message is gone and the
// record should be dropped entirely, (updated, false, nil) if only its
// thread reference needed clearing, or (nil, false, nil) if nothing
// changed. A gone message means the user can no longer see or act on the
// incident at all, so (unlike a gone thread, which only loses follow-up
// discussion) it is treated the same as a gone channel: drop, don't clear.
func (r *Reconciler) reconcileOne(ctx context.Context, incident types.Incident) (*types.Incident, bool, error) {
	usable, err := r.gateway.ChannelUsable(ctx, incident.ChannelID)
	if err != nil {
		return nil, false, err
	}
	if !usable {
		return nil, true, nil
	}

	if incident.MessageID != "" {
		exists, err := r.gateway.MessageExists(ctx, incident.ChannelID, incident.MessageID)
		if err != nil {
			return nil, false, err
		}
		if !exists {
			return nil, true, nil
		}
	}

	if incident.ThreadID == nil {
		return nil, false, nil
	}
	exists, err := r.gateway.ThreadExists(ctx, *incident.ThreadID)
	if err != nil {
		return nil, false, err
	}
	if exists {
		return nil, false, nil
	}

	updated := incident
	updated.ThreadID = nil
	return &updated, false, nil
}
