package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Shirozy/Globot/internal/storage"
)

const (
	colorBlurple = 0x5865F2
	colorGreen   = 0x57F287
	colorYellow  = 0xFEE75C
	colorRed     = 0xED4245
)

// languageOption extracts and validates the language code argument.
// Codes are opaque lowercase tags handed to the translation backend.
func languageOption(data discordgo.ApplicationCommandInteractionData) (string, error) {
	var raw string
	for _, opt := range data.Options {
		if opt.Name == "language" {
			raw, _ = opt.Value.(string)
		}
	}
	lang := strings.ToLower(strings.TrimSpace(raw))
	if lang == "" {
		return "", fmt.Errorf("A language code is required, e.g. `en` or `pt-br`.")
	}
	if len(lang) > 8 {
		return "", fmt.Errorf("`%s` does not look like a language code.", lang)
	}
	for _, r := range lang {
		if (r < 'a' || r > 'z') && r != '-' {
			return "", fmt.Errorf("`%s` does not look like a language code.", lang)
		}
	}
	return lang, nil
}

func termsEmbed(lang string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Join the relay network?",
		Description: "Messages posted here will be copied to every other linked " +
			"channel, translated to each channel's language, and messages from " +
			"those channels will appear here. Toxic messages are removed and " +
			"their authors warned.",
		Color: colorBlurple,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Language", Value: "`" + lang + "`", Inline: true},
		},
	}
}

func linkedEmbed(lang string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Channel linked",
		Description: fmt.Sprintf("This channel now relays in `%s`.", lang),
		Color:       colorGreen,
	}
}

func declinedEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Not linked",
		Description: "This channel was not added to the relay network.",
		Color:       colorRed,
	}
}

func warningsEmbed(userID string, count int) *discordgo.MessageEmbed {
	color := colorGreen
	if count > 0 {
		color = colorYellow
	}
	return &discordgo.MessageEmbed{
		Title: "Warnings",
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: fmt.Sprintf("<@%s>", userID), Inline: true},
			{Name: "Count", Value: fmt.Sprintf("%d", count), Inline: true},
		},
	}
}

func statsEmbed(languages map[string]int, guilds int, totals storage.Totals) *discordgo.MessageEmbed {
	channels := 0
	for _, n := range languages {
		channels += n
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Servers", Value: fmt.Sprintf("%d", guilds), Inline: true},
		{Name: "Linked Channels", Value: fmt.Sprintf("%d", channels), Inline: true},
		{Name: "Languages", Value: languageBreakdown(languages), Inline: false},
		{Name: "Relayed (7d)", Value: fmt.Sprintf("%d", totals.Relayed), Inline: true},
		{Name: "Blocked (7d)", Value: fmt.Sprintf("%d", totals.Blocked), Inline: true},
	}
	return &discordgo.MessageEmbed{
		Title:  "Relay Network Stats",
		Color:  colorBlurple,
		Fields: fields,
	}
}

func languageBreakdown(languages map[string]int) string {
	if len(languages) == 0 {
		return "none"
	}
	langs := make([]string, 0, len(languages))
	for l := range languages {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	parts := make([]string, 0, len(langs))
	for _, l := range langs {
		parts = append(parts, fmt.Sprintf("`%s` (%d)", l, languages[l]))
	}
	return strings.Join(parts, ", ")
}

func helpEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Globot Help",
		Description: "Link channels across servers into one translated conversation.",
		Color:       colorBlurple,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "/addchannel <language>", Value: "Link this channel into the relay network"},
			{Name: "/removechannel", Value: "Unlink this channel"},
			{Name: "/setlogschannel", Value: "Post moderation and delivery logs here"},
			{Name: "/warnings [user]", Value: "Show a member's warning count"},
			{Name: "/stats", Value: "Relay network statistics"},
			{Name: "/help", Value: "This message"},
		},
	}
}
