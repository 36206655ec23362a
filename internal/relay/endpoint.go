package relay

import (
	"context"
	"errors"
	"sync"

	logx "github.com/Shirozy/Globot/pkg/logx"

	"github.com/Shirozy/Globot/internal/registry"
	"github.com/Shirozy/Globot/internal/transport"
)

// endpointName is the display name webhooks are created under.
const endpointName = "Globot"

// maxUsernameRunes is the platform cap on webhook display names.
const maxUsernameRunes = 32

// WebhookPlatform is the slice of the chat platform the endpoint cache uses.
type WebhookPlatform interface {
	FetchWebhook(ctx context.Context, webhookID string) (transport.Webhook, error)
	CreateWebhook(ctx context.Context, channelID, name string) (transport.Webhook, error)
	ExecuteWebhook(ctx context.Context, webhookID string, post transport.WebhookPost) error
}

// EndpointCache lazily provisions one webhook per destination channel and
// reuses it across messages, repairing the mapping when the platform
// reports the webhook gone. The webhook id is persisted through the
// registry before first use so restarts reuse it too.
type EndpointCache struct {
	reg      *registry.Store
	platform WebhookPlatform
	log      logx.Logger

	// Resolution locks are per channel: concurrent deliveries to the
	// same fresh channel still create exactly one webhook, but a slow
	// fetch or create on one channel never stalls deliveries to the
	// others. mu only guards the lock map itself.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEndpointCache(reg *registry.Store, platform WebhookPlatform, log logx.Logger) *EndpointCache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &EndpointCache{reg: reg, platform: platform, log: log, locks: map[string]*sync.Mutex{}}
}

func (c *EndpointCache) channelLock(channelID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[channelID]
	if !ok {
		l = new(sync.Mutex)
		c.locks[channelID] = l
	}
	return l
}

// Deliver posts content into channelID under the author's display identity.
// Exactly one post attempt is made, plus at most one endpoint repair when
// the cached webhook vanished between resolution and posting.
func (c *EndpointCache) Deliver(ctx context.Context, channelID string, author transport.Author, content string) error {
	id, err := c.resolve(ctx, channelID)
	if err != nil {
		return err
	}

	post := transport.WebhookPost{
		Content:   content,
		Username:  displayName(author),
		AvatarURL: author.AvatarURL,
	}

	err = c.platform.ExecuteWebhook(ctx, id, post)
	if errors.Is(err, transport.ErrNotFound) {
		// Deleted out-of-band after resolution. Recreate once.
		c.log.Debug("webhook vanished; recreating", logx.String("channel", channelID))
		id, err = c.recreate(ctx, channelID)
		if err != nil {
			return err
		}
		err = c.platform.ExecuteWebhook(ctx, id, post)
	}
	return err
}

// resolve returns a usable webhook id for the channel, creating and
// caching one when absent or stale. Cache miss and "exists but gone"
// funnel into the same create-and-store path.
func (c *EndpointCache) resolve(ctx context.Context, channelID string) (string, error) {
	l := c.channelLock(channelID)
	l.Lock()
	defer l.Unlock()

	if id, ok := c.reg.Endpoint(channelID); ok {
		_, err := c.platform.FetchWebhook(ctx, id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, transport.ErrNotFound) {
			return "", err
		}
	}
	return c.createLocked(ctx, channelID)
}

func (c *EndpointCache) recreate(ctx context.Context, channelID string) (string, error) {
	l := c.channelLock(channelID)
	l.Lock()
	defer l.Unlock()
	return c.createLocked(ctx, channelID)
}

// createLocked provisions a fresh webhook. Callers hold the channel lock.
func (c *EndpointCache) createLocked(ctx context.Context, channelID string) (string, error) {
	wh, err := c.platform.CreateWebhook(ctx, channelID, endpointName)
	if err != nil {
		return "", err
	}
	// Persist before first use so a crash here doesn't leak the webhook.
	c.reg.SetEndpoint(channelID, wh.ID)
	return wh.ID, nil
}

func displayName(a transport.Author) string {
	name := a.DisplayName
	if name == "" {
		name = a.Username
	}
	r := []rune(name)
	if len(r) > maxUsernameRunes {
		return string(r[:maxUsernameRunes])
	}
	return name
}
