// Package commands registers the bot's slash commands and handles their
// interactions: linking channels into the relay, log channel selection,
// warning lookups and usage stats.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	logx "github.com/Shirozy/Globot/pkg/logx"

	"github.com/Shirozy/Globot/internal/registry"
	"github.com/Shirozy/Globot/internal/storage"
)

// TopicEditor annotates linked channels, best effort only.
type TopicEditor interface {
	EditChannelTopic(ctx context.Context, channelID, topic string) error
}

const (
	acceptPrefix  = "relay-link-accept:"
	declineCustom = "relay-link-decline"

	statsWindow = 7 * 24 * time.Hour
)

type Service struct {
	log     logx.Logger
	session *discordgo.Session
	reg     *registry.Store
	audit   storage.Store
	topics  TopicEditor

	guildCount func() int

	created       []*discordgo.ApplicationCommand
	removeHandler func()
}

func New(session *discordgo.Session, reg *registry.Store, audit storage.Store, topics TopicEditor, guildCount func() int, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:        log,
		session:    session,
		reg:        reg,
		audit:      audit,
		topics:     topics,
		guildCount: guildCount,
	}
}

var commandDefs = []*discordgo.ApplicationCommand{
	{
		Name:        "addchannel",
		Description: "Link this channel into the relay network",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "language",
			Description: "Language code for this channel (en, es, fr, ...)",
			Required:    true,
		}},
	},
	{
		Name:        "removechannel",
		Description: "Unlink this channel from the relay network",
	},
	{
		Name:        "setlogschannel",
		Description: "Use this channel for moderation and delivery logs",
	},
	{
		Name:        "warnings",
		Description: "Show a member's toxicity warning count",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        "user",
			Description: "Member to look up (defaults to you)",
		}},
	},
	{
		Name:        "stats",
		Description: "Show relay network statistics",
	},
	{
		Name:        "help",
		Description: "Show available commands",
	},
}

// Register creates the global slash commands and hooks the interaction
// dispatcher. Call after the gateway session is ready.
func (s *Service) Register(ctx context.Context) error {
	self := s.session.State.User
	if self == nil {
		return fmt.Errorf("register commands: session not ready")
	}
	for _, def := range commandDefs {
		cmd, err := s.session.ApplicationCommandCreate(self.ID, "", def, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("create command %s: %w", def.Name, err)
		}
		s.created = append(s.created, cmd)
	}
	s.removeHandler = s.session.AddHandler(s.handleInteraction)
	s.log.Info("slash commands registered", logx.Int("count", len(s.created)))
	return nil
}

// Stop detaches the interaction handler. Registered commands are left in
// place so a restart doesn't churn Discord's command registry.
func (s *Service) Stop() {
	if s.removeHandler != nil {
		s.removeHandler()
		s.removeHandler = nil
	}
}

func (s *Service) handleInteraction(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch ic.Type {
	case discordgo.InteractionApplicationCommand:
		s.dispatchCommand(ctx, ic)
	case discordgo.InteractionMessageComponent:
		s.dispatchComponent(ctx, ic)
	}
}

func (s *Service) dispatchCommand(ctx context.Context, ic *discordgo.InteractionCreate) {
	data := ic.ApplicationCommandData()
	var err error
	switch data.Name {
	case "addchannel":
		err = s.cmdAddChannel(ctx, ic, data)
	case "removechannel":
		err = s.cmdRemoveChannel(ctx, ic)
	case "setlogschannel":
		err = s.cmdSetLogsChannel(ctx, ic)
	case "warnings":
		err = s.cmdWarnings(ctx, ic, data)
	case "stats":
		err = s.cmdStats(ctx, ic)
	case "help":
		err = s.respondEmbed(ctx, ic, helpEmbed())
	default:
		return
	}
	if err != nil {
		s.log.Error("command failed",
			logx.String("command", data.Name),
			logx.Err(err))
	}
}

func (s *Service) dispatchComponent(ctx context.Context, ic *discordgo.InteractionCreate) {
	custom := ic.MessageComponentData().CustomID
	var err error
	switch {
	case strings.HasPrefix(custom, acceptPrefix):
		err = s.componentAccept(ctx, ic, strings.TrimPrefix(custom, acceptPrefix))
	case custom == declineCustom:
		err = s.updateMessage(ctx, ic, declinedEmbed())
	default:
		return
	}
	if err != nil {
		s.log.Error("component interaction failed",
			logx.String("custom_id", custom),
			logx.Err(err))
	}
}

// cmdAddChannel presents the relay terms with accept/decline buttons.
// The link is only written once someone accepts.
func (s *Service) cmdAddChannel(ctx context.Context, ic *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) error {
	if ic.GuildID == "" {
		return s.respondText(ctx, ic, "This command only works inside a server.")
	}
	lang, err := languageOption(data)
	if err != nil {
		return s.respondText(ctx, ic, err.Error())
	}
	if _, linked := s.reg.Link(ic.ChannelID); linked {
		return s.respondText(ctx, ic, "This channel is already part of the relay network.")
	}

	return s.session.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: termsPrompt(lang),
	}, discordgo.WithContext(ctx))
}

// termsPrompt builds the accept/decline prompt. It is ephemeral so only
// the invoker sees it and only the invoker can press its buttons.
func termsPrompt(lang string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		Flags:  discordgo.MessageFlagsEphemeral,
		Embeds: []*discordgo.MessageEmbed{termsEmbed(lang)},
		Components: []discordgo.MessageComponent{discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Accept",
					Style:    discordgo.SuccessButton,
					CustomID: acceptPrefix + lang,
				},
				discordgo.Button{
					Label:    "Decline",
					Style:    discordgo.DangerButton,
					CustomID: declineCustom,
				},
			},
		}},
	}
}

func (s *Service) componentAccept(ctx context.Context, ic *discordgo.InteractionCreate, lang string) error {
	s.reg.PutLink(ic.ChannelID, lang, ic.GuildID)

	// Topic annotation is cosmetic; a missing Manage Channels permission
	// must not fail the link.
	if s.topics != nil {
		topic := fmt.Sprintf("Globot relay channel (%s)", lang)
		if err := s.topics.EditChannelTopic(ctx, ic.ChannelID, topic); err != nil {
			s.log.Debug("channel topic edit skipped", logx.Err(err))
		}
	}

	s.log.Info("channel linked",
		logx.String("guild", ic.GuildID),
		logx.String("channel", ic.ChannelID),
		logx.String("language", lang))
	return s.updateMessage(ctx, ic, linkedEmbed(lang))
}

func (s *Service) cmdRemoveChannel(ctx context.Context, ic *discordgo.InteractionCreate) error {
	if !s.reg.RemoveLink(ic.ChannelID) {
		return s.respondText(ctx, ic, "This channel is not part of the relay network.")
	}
	s.log.Info("channel unlinked",
		logx.String("guild", ic.GuildID),
		logx.String("channel", ic.ChannelID))
	return s.respondText(ctx, ic, "Channel removed from the relay network.")
}

func (s *Service) cmdSetLogsChannel(ctx context.Context, ic *discordgo.InteractionCreate) error {
	if ic.GuildID == "" {
		return s.respondText(ctx, ic, "This command only works inside a server.")
	}
	s.reg.SetLogTarget(ic.GuildID, ic.ChannelID)
	return s.respondText(ctx, ic, "Moderation and delivery logs will be posted here.")
}

func (s *Service) cmdWarnings(ctx context.Context, ic *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) error {
	userID := invokerID(ic)
	for _, opt := range data.Options {
		if opt.Name == "user" {
			if v, ok := opt.Value.(string); ok && v != "" {
				userID = v
			}
		}
	}
	count := s.reg.WarningCount(ic.GuildID, userID)
	return s.respondEmbed(ctx, ic, warningsEmbed(userID, count))
}

func (s *Service) cmdStats(ctx context.Context, ic *discordgo.InteractionCreate) error {
	var totals storage.Totals
	if s.audit != nil {
		var err error
		totals, err = s.audit.Totals(ctx, time.Now().Add(-statsWindow))
		if err != nil {
			s.log.Error("stats totals query failed", logx.Err(err))
		}
	}
	guilds := 0
	if s.guildCount != nil {
		guilds = s.guildCount()
	}
	return s.respondEmbed(ctx, ic, statsEmbed(s.reg.LanguageCounts(), guilds, totals))
}

func (s *Service) respondText(ctx context.Context, ic *discordgo.InteractionCreate, text string) error {
	return s.session.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: text},
	}, discordgo.WithContext(ctx))
}

func (s *Service) respondEmbed(ctx context.Context, ic *discordgo.InteractionCreate, e *discordgo.MessageEmbed) error {
	return s.session.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{e}},
	}, discordgo.WithContext(ctx))
}

// updateMessage replaces the terms prompt in place, retiring its buttons.
func (s *Service) updateMessage(ctx context.Context, ic *discordgo.InteractionCreate, e *discordgo.MessageEmbed) error {
	return s.session.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{e},
			Components: []discordgo.MessageComponent{},
		},
	}, discordgo.WithContext(ctx))
}

func invokerID(ic *discordgo.InteractionCreate) string {
	if ic.Member != nil && ic.Member.User != nil {
		return ic.Member.User.ID
	}
	if ic.User != nil {
		return ic.User.ID
	}
	return ""
}
