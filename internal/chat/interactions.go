package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// InteractionHandlers are the callbacks invoked when a user presses one of
// the mirror's buttons. Each receives the incidentKey embedded in the
// button's custom ID and the Discord user ID of whoever clicked it.
type InteractionHandlers struct {
	OnAck          func(ctx context.Context, incidentKey, userID string) error
	OnResolve      func(ctx context.Context, incidentKey, userID string) error
	OnTroubleshoot func(ctx context.Context, incidentKey string) (content string, ok bool)
}

// RegisterInteractions wires handlers onto session's InteractionCreate
// event. Discord's interaction is acked immediately (within its 3
// second budget) with a deferred update, then the matching handler runs
// on discordgo's own event goroutine. A troubleshoot press posts the
// guide (or a not-configured notice) in chunks into the channel of the
// pressed message, not into the incident's thread.
func RegisterInteractions(session *discordgo.Session, handlers InteractionHandlers, logger *slog.Logger) {
	logger = logger.With("component", "chat_interactions")

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionMessageComponent {
			return
		}
		customID := i.MessageComponentData().CustomID
		action, incidentKey, ok := splitCustomID(customID)
		if !ok {
			return
		}

		if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		}); err != nil {
			logger.Warn("defer interaction response failed", "custom_id", customID, "error", err)
		}

		userID := interactionUserID(i)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		switch action {
		case "ack":
			if handlers.OnAck == nil {
				return
			}
			if err := handlers.OnAck(ctx, incidentKey, userID); err != nil {
				logger.Error("ack handler failed", "incident_key", incidentKey, "error", err)
			}
		case "resolve":
			if handlers.OnResolve == nil {
				return
			}
			if err := handlers.OnResolve(ctx, incidentKey, userID); err != nil {
				logger.Error("resolve handler failed", "incident_key", incidentKey, "error", err)
			}
		case "troubleshoot":
			if handlers.OnTroubleshoot == nil {
				return
			}
			content, ok := handlers.OnTroubleshoot(ctx, incidentKey)
			if !ok {
				content = "No troubleshooting guide is configured for this alert."
			}
			for _, chunk := range ChunkGuide(content) {
				if _, err := s.ChannelMessageSend(i.ChannelID, chunk); err != nil {
					logger.Error("post troubleshooting guide failed", "incident_key", incidentKey, "error", err)
					break
				}
			}
		}
	})
}

func splitCustomID(customID string) (action, incidentKey string, ok bool) {
	idx := strings.IndexByte(customID, ':')
	if idx < 0 {
		return "", "", false
	}
	return customID[:idx], customID[idx+1:], true
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
