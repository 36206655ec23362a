package transport

import (
	"context"
	"errors"
)

// Sentinel errors adapters map platform responses onto. Callers use
// errors.Is to pick a recovery path without importing the SDK.
var (
	// ErrNotFound means the referenced entity (webhook, channel, message)
	// no longer exists on the platform.
	ErrNotFound = errors.New("transport: not found")

	// ErrForbidden means the bot lacks permission for the operation in the
	// target channel or guild.
	ErrForbidden = errors.New("transport: forbidden")
)

// Author identifies the sender of a message as it should appear when the
// message is re-posted elsewhere.
type Author struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	Bot         bool
}

// Message is an inbound message event.
type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	Author    Author
	Content   string
}

// Webhook is a per-channel delivery endpoint able to post under an
// arbitrary display identity.
type Webhook struct {
	ID        string
	ChannelID string
}

// WebhookPost is one impersonated post through a webhook. Mention expansion
// is always suppressed by the adapter.
type WebhookPost struct {
	Content   string
	Username  string
	AvatarURL string
}

// Embed is a platform-neutral rich message used for moderation logs,
// notifications and command replies.
type Embed struct {
	Title  string
	Text   string
	Color  int
	Fields []EmbedField
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Adapter is the narrow slice of the chat platform the relay consumes.
type Adapter interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	// SelfID returns the bot's own user id ("" before Start).
	SelfID() string
	GuildCount() int

	DeleteMessage(ctx context.Context, channelID, messageID string) error
	SendChannel(ctx context.Context, channelID, text string) error
	SendEmbed(ctx context.Context, channelID string, e Embed) error
	SendDM(ctx context.Context, userID string, e Embed) error
	EditChannelTopic(ctx context.Context, channelID, topic string) error

	FetchWebhook(ctx context.Context, webhookID string) (Webhook, error)
	CreateWebhook(ctx context.Context, channelID, name string) (Webhook, error)
	ExecuteWebhook(ctx context.Context, webhookID string, post WebhookPost) error
}
