package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	logx "github.com/Shirozy/Globot/pkg/logx"

	"github.com/Shirozy/Globot/internal/transport"
)

type Config struct {
	Token string
}

// Adapter bridges the Discord gateway and REST API onto the transport
// interfaces. One instance serves the whole process.
type Adapter struct {
	cfg Config
	log logx.Logger

	session *discordgo.Session
	out     chan<- transport.Message

	runMu   sync.Mutex
	running bool
	stopFns []func()

	// droppedEvents counts gateway messages discarded because the run
	// context ended before the pipeline accepted them. Logged in bulk
	// to avoid per-event log spam.
	droppedEvents uint64

	// tokenMu guards tokens, webhook id -> execute token. Executing a
	// webhook needs its token; caching it saves a lookup per post.
	tokenMu sync.Mutex
	tokens  map[string]string
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent
	return &Adapter{cfg: cfg, log: log, session: s, tokens: map[string]string{}}, nil
}

// Session exposes the underlying SDK session for features outside the
// transport surface, such as slash command registration.
func (a *Adapter) Session() *discordgo.Session {
	return a.session
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Message) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.out = out

	remove := a.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		msg := transport.Message{
			ID:        m.ID,
			ChannelID: m.ChannelID,
			GuildID:   m.GuildID,
			Author:    authorFrom(m),
			Content:   m.Content,
		}
		// The SDK runs each handler on its own goroutine, so blocking
		// here applies backpressure to intake rather than losing the
		// message. Only a finished run context discards events.
		select {
		case out <- msg:
		case <-ctx.Done():
			atomic.AddUint64(&a.droppedEvents, 1)
		}
	})
	a.stopFns = append(a.stopFns, remove)

	if err := a.session.Open(); err != nil {
		remove()
		a.stopFns = nil
		return fmt.Errorf("open gateway: %w", err)
	}
	a.running = true

	dropCtx, dropCancel := context.WithCancel(ctx)
	a.stopFns = append(a.stopFns, dropCancel)
	go a.dropReporter(dropCtx)

	a.log.Info("gateway connected", logx.String("self", a.SelfID()))
	return nil
}

// dropReporter summarizes discarded gateway events every few seconds so
// shutdown-window losses show up in logs without flooding them.
func (a *Adapter) dropReporter(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if n := atomic.SwapUint64(&a.droppedEvents, 0); n > 0 {
				a.log.Warn("gateway events dropped (channel full)", logx.Int64("count", int64(n)))
			}
			return
		case <-ticker.C:
			if n := atomic.SwapUint64(&a.droppedEvents, 0); n > 0 {
				a.log.Warn("gateway events dropped (channel full)", logx.Int64("count", int64(n)))
			}
		}
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = false
	fns := a.stopFns
	a.stopFns = nil
	a.runMu.Unlock()

	for _, fn := range fns {
		fn()
	}

	done := make(chan error, 1)
	go func() { done <- a.session.Close() }()
	select {
	case err := <-done:
		a.log.Info("gateway closed")
		return err
	case <-ctx.Done():
		a.log.Warn("gateway close cancelled", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

func (a *Adapter) SelfID() string {
	if u := a.session.State.User; u != nil {
		return u.ID
	}
	return ""
}

func (a *Adapter) GuildCount() int {
	a.session.State.RLock()
	defer a.session.State.RUnlock()
	return len(a.session.State.Guilds)
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return mapErr(a.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (a *Adapter) SendChannel(ctx context.Context, channelID, text string) error {
	_, err := a.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	return mapErr(err)
}

func (a *Adapter) SendEmbed(ctx context.Context, channelID string, e transport.Embed) error {
	_, err := a.session.ChannelMessageSendEmbed(channelID, embedFrom(e), discordgo.WithContext(ctx))
	return mapErr(err)
}

func (a *Adapter) SendDM(ctx context.Context, userID string, e transport.Embed) error {
	ch, err := a.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapErr(err)
	}
	_, err = a.session.ChannelMessageSendEmbed(ch.ID, embedFrom(e), discordgo.WithContext(ctx))
	return mapErr(err)
}

func (a *Adapter) EditChannelTopic(ctx context.Context, channelID, topic string) error {
	_, err := a.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Topic: topic}, discordgo.WithContext(ctx))
	return mapErr(err)
}

func (a *Adapter) FetchWebhook(ctx context.Context, webhookID string) (transport.Webhook, error) {
	wh, err := a.session.Webhook(webhookID, discordgo.WithContext(ctx))
	if err != nil {
		return transport.Webhook{}, mapErr(err)
	}
	a.cacheToken(wh.ID, wh.Token)
	return transport.Webhook{ID: wh.ID, ChannelID: wh.ChannelID}, nil
}

func (a *Adapter) CreateWebhook(ctx context.Context, channelID, name string) (transport.Webhook, error) {
	wh, err := a.session.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
	if err != nil {
		return transport.Webhook{}, mapErr(err)
	}
	a.cacheToken(wh.ID, wh.Token)
	return transport.Webhook{ID: wh.ID, ChannelID: wh.ChannelID}, nil
}

func (a *Adapter) ExecuteWebhook(ctx context.Context, webhookID string, post transport.WebhookPost) error {
	// Executing needs the webhook token, which the id alone doesn't carry.
	token, ok := a.cachedToken(webhookID)
	if !ok {
		wh, err := a.session.Webhook(webhookID, discordgo.WithContext(ctx))
		if err != nil {
			return mapErr(err)
		}
		token = wh.Token
		a.cacheToken(wh.ID, wh.Token)
	}
	params := &discordgo.WebhookParams{
		Content:   post.Content,
		Username:  post.Username,
		AvatarURL: post.AvatarURL,
		// Relayed content must never ping anyone in the destination.
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	_, err := a.session.WebhookExecute(webhookID, token, false, params, discordgo.WithContext(ctx))
	err = mapErr(err)
	if errors.Is(err, transport.ErrNotFound) {
		a.dropToken(webhookID)
	}
	return err
}

func (a *Adapter) cacheToken(id, token string) {
	if token == "" {
		return
	}
	a.tokenMu.Lock()
	a.tokens[id] = token
	a.tokenMu.Unlock()
}

func (a *Adapter) cachedToken(id string) (string, bool) {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()
	t, ok := a.tokens[id]
	return t, ok
}

func (a *Adapter) dropToken(id string) {
	a.tokenMu.Lock()
	delete(a.tokens, id)
	a.tokenMu.Unlock()
}

func authorFrom(m *discordgo.MessageCreate) transport.Author {
	a := transport.Author{
		ID:        m.Author.ID,
		Username:  m.Author.Username,
		AvatarURL: m.Author.AvatarURL(""),
		Bot:       m.Author.Bot,
	}
	switch {
	case m.Member != nil && m.Member.Nick != "":
		a.DisplayName = m.Member.Nick
	case m.Author.GlobalName != "":
		a.DisplayName = m.Author.GlobalName
	}
	return a
}

func embedFrom(e transport.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Text,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return out
}

// mapErr translates SDK REST failures onto the transport sentinels so
// callers can branch without importing discordgo.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", transport.ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", transport.ErrForbidden, err)
		}
	}
	return err
}
