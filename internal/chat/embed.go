package chat

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/pilot-net/alert-relay/internal/types"
)

const (
	colorFiringCritical = 0xE74C3C // red
	colorFiringHigh      = 0xE67E22 // orange
	colorFiringDefault   = 0xF1C40F // yellow, warning/info/unspecified
	colorResolved        = 0x2ECC71 // green
)

func embedColor(incident types.Incident) int {
	if incident.State == types.StateResolved {
		return colorResolved
	}
	switch incident.Severity {
	case types.SeverityCritical:
		return colorFiringCritical
	case types.SeverityHigh:
		return colorFiringHigh
	default:
		return colorFiringDefault
	}
}

// BuildEmbed renders an incident's cached content into the chat-gateway
// embed shown at the top of its message. The embed always draws from
// the incident record rather than the triggering alert directly, so
// that a manual ack/resolve transition (which carries no new payload of
// its own) redraws the same content with only the status line changed.
// thumbnailURL is the rule's configured thumbnail, if any.
func BuildEmbed(incident types.Incident, thumbnailURL string) *discordgo.MessageEmbed {
	title := incident.Title
	if title == "" {
		title = incident.RuleName
	}

	fields := make([]*discordgo.MessageEmbedField, 0, len(incident.Fields)+1)
	fields = append(fields, &discordgo.MessageEmbedField{
		Name:   "Status",
		Value:  statusLine(incident),
		Inline: true,
	})
	for _, f := range incident.Fields {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: true,
		})
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: incident.Description,
		Color:       embedColor(incident),
		Fields:      fields,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if thumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: thumbnailURL}
	}
	return embed
}

func statusLine(incident types.Incident) string {
	switch incident.State {
	case types.StateResolved:
		s := "Resolved"
		if incident.ResolvedBy != nil && *incident.ResolvedBy != "" {
			s += " by " + *incident.ResolvedBy
		}
		return s
	case types.StateAcknowledged:
		s := "Acknowledged"
		if incident.AcknowledgedBy != nil && *incident.AcknowledgedBy != "" {
			s += " by " + *incident.AcknowledgedBy
		}
		return s
	default:
		if incident.MentionLevel > 0 {
			return fmt.Sprintf("Firing (escalated x%d)", incident.MentionLevel)
		}
		return "Firing"
	}
}

// BuildButtons returns the ack/resolve/troubleshoot row for a firing
// incident, or nil once it is resolved (resolved incidents carry no
// further actions).
func BuildButtons(incidentKey string, incident types.Incident, hasGuide bool) []Button {
	if incident.State == types.StateResolved {
		return nil
	}

	buttons := []Button{
		{CustomID: "resolve:" + incidentKey, Label: "Resolve", Style: ButtonSuccess},
	}
	if incident.State != types.StateAcknowledged {
		buttons = append([]Button{
			{CustomID: "ack:" + incidentKey, Label: "Acknowledge", Style: ButtonPrimary},
		}, buttons...)
	}
	if hasGuide {
		buttons = append(buttons, Button{
			CustomID: "troubleshoot:" + incidentKey,
			Label:    "Troubleshoot",
			Style:    ButtonSecondary,
		})
	}
	return buttons
}
