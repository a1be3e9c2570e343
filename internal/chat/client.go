// Package chat mirrors canonical alerts onto a chat gateway (Discord), one
// message per incident key, editing in place as the incident's lifecycle
// advances and opening a thread alongside each newly created message.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// ErrMessageGone is returned when a previously recorded message no longer
// exists on the gateway (deleted by a moderator, channel purged, etc).
var ErrMessageGone = errors.New("chat: message no longer exists")

// ErrChannelGone is returned when a configured channel can no longer be
// resolved.
var ErrChannelGone = errors.New("chat: channel no longer exists")

// MessageParams is the gateway-agnostic shape of an outbound chat message.
type MessageParams struct {
	Content string
	Embed   *discordgo.MessageEmbed
	Buttons []Button
}

// Button is a single actionable control attached to a message.
type Button struct {
	CustomID string
	Label    string
	Style    ButtonStyle
}

// ButtonStyle mirrors the handful of Discord button colors the mirror uses.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonSuccess
	ButtonDanger
	ButtonSecondary
)

// GatewayClient is the subset of chat-gateway behavior the mirror depends
// on. Implemented by DiscordClient against the real API and by a fake in
// tests.
type GatewayClient interface {
	CreateMessage(ctx context.Context, channelID string, params MessageParams) (messageID string, err error)
	EditMessage(ctx context.Context, channelID, messageID string, params MessageParams) error
	MessageExists(ctx context.Context, channelID, messageID string) (bool, error)
	CreateThread(ctx context.Context, channelID, messageID, name string) (threadID string, err error)
	ThreadExists(ctx context.Context, threadID string) (bool, error)
	SendThreadMessage(ctx context.Context, threadID, content string) error
	SendChannelMessage(ctx context.Context, channelID, content string) error
	ChannelUsable(ctx context.Context, channelID string) (bool, error)
}

// DiscordClient is a GatewayClient backed by discordgo, rate limited the
// way the teacher's Flight Deck client is: one token bucket shared across
// every outbound call, refilled on a fixed per-minute budget.
type DiscordClient struct {
	session     *discordgo.Session
	rateLimiter *rate.Limiter
	onRateLimit func()
	logger      *slog.Logger
}

// DiscordConfig configures a DiscordClient.
type DiscordConfig struct {
	Token         string
	RequestsPerMin int // default 3000 (50/sec, Discord's global bucket)
}

// NewDiscordClient creates a session and logs in without blocking for the
// gateway handshake; callers that need interactions must call Open.
func NewDiscordClient(cfg DiscordConfig, onRateLimit func(), logger *slog.Logger) (*DiscordClient, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	rpm := cfg.RequestsPerMin
	if rpm == 0 {
		rpm = 50 * 60
	}

	return &DiscordClient{
		session:     session,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 5),
		onRateLimit: onRateLimit,
		logger:      logger.With("component", "chat_client"),
	}, nil
}

// Open starts the gateway connection so the session can receive interaction
// events (button presses).
func (c *DiscordClient) Open() error {
	return c.session.Open()
}

// Close tears down the gateway connection.
func (c *DiscordClient) Close() error {
	return c.session.Close()
}

// Session exposes the underlying discordgo session for handler registration.
func (c *DiscordClient) Session() *discordgo.Session {
	return c.session
}

func (c *DiscordClient) wait(ctx context.Context) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("chat rate limiter: %w", err)
	}
	return nil
}

func toComponents(buttons []Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		row.Components = append(row.Components, discordgo.Button{
			CustomID: b.CustomID,
			Label:    b.Label,
			Style:    discordStyle(b.Style),
		})
	}
	return []discordgo.MessageComponent{row}
}

func discordStyle(s ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case ButtonSuccess:
		return discordgo.SuccessButton
	case ButtonDanger:
		return discordgo.DangerButton
	case ButtonSecondary:
		return discordgo.SecondaryButton
	default:
		return discordgo.PrimaryButton
	}
}

// CreateMessage posts a new message with an optional embed and buttons.
func (c *DiscordClient) CreateMessage(ctx context.Context, channelID string, params MessageParams) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	send := &discordgo.MessageSend{
		Content:    params.Content,
		Components: toComponents(params.Buttons),
	}
	if params.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{params.Embed}
	}
	msg, err := c.session.ChannelMessageSendComplex(channelID, send)
	if err != nil {
		if isRateLimited(err) && c.onRateLimit != nil {
			c.onRateLimit()
		}
		return "", fmt.Errorf("create message: %w", err)
	}
	return msg.ID, nil
}

// EditMessage replaces the content, embed, and buttons of an existing
// message in place.
func (c *DiscordClient) EditMessage(ctx context.Context, channelID, messageID string, params MessageParams) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.SetContent(params.Content)
	if params.Embed != nil {
		edit.Embeds = &[]*discordgo.MessageEmbed{params.Embed}
	}
	components := toComponents(params.Buttons)
	edit.Components = &components
	_, err := c.session.ChannelMessageEditComplex(edit)
	if err != nil {
		if isNotFound(err) {
			return ErrMessageGone
		}
		if isRateLimited(err) && c.onRateLimit != nil {
			c.onRateLimit()
		}
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// MessageExists checks whether a message is still retrievable.
func (c *DiscordClient) MessageExists(ctx context.Context, channelID, messageID string) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	_, err := c.session.ChannelMessage(channelID, messageID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get message: %w", err)
	}
	return true, nil
}

// CreateThread opens a public thread off the given message.
func (c *DiscordClient) CreateThread(ctx context.Context, channelID, messageID, name string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	thread, err := c.session.MessageThreadStartComplex(channelID, messageID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: 1440,
		Type:                discordgo.ChannelTypeGuildPublicThread,
	})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

// ThreadExists checks whether a thread channel is still resolvable and not
// archived-and-locked beyond reopening.
func (c *DiscordClient) ThreadExists(ctx context.Context, threadID string) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	ch, err := c.session.Channel(threadID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get thread: %w", err)
	}
	if ch.ThreadMetadata != nil && ch.ThreadMetadata.Locked {
		return false, nil
	}
	return true, nil
}

// SendThreadMessage posts a plain-text message into an existing thread.
func (c *DiscordClient) SendThreadMessage(ctx context.Context, threadID, content string) error {
	return c.SendChannelMessage(ctx, threadID, content)
}

// SendChannelMessage posts a plain-text message (used for thread replies
// and fallback channel notices alike, since Discord threads are channels).
func (c *DiscordClient) SendChannelMessage(ctx context.Context, channelID, content string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.session.ChannelMessageSend(channelID, content)
	if err != nil {
		if isRateLimited(err) && c.onRateLimit != nil {
			c.onRateLimit()
		}
		return fmt.Errorf("send channel message: %w", err)
	}
	return nil
}

// ChannelUsable checks that a channel still exists and is a type the
// mirror can post into.
func (c *DiscordClient) ChannelUsable(ctx context.Context, channelID string) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	ch, err := c.session.Channel(channelID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("get channel: %w", err)
	}
	return ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildPublicThread, nil
}

func isNotFound(err error) bool {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) {
		return rerr.Response != nil && rerr.Response.StatusCode == 404
	}
	return false
}

func isRateLimited(err error) bool {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) {
		return rerr.Response != nil && rerr.Response.StatusCode == 429
	}
	var rlErr *discordgo.RateLimitError
	return errors.As(err, &rlErr)
}
