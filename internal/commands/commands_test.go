package commands

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/Shirozy/Globot/internal/storage"
)

func optionData(name string, value any) discordgo.ApplicationCommandInteractionData {
	return discordgo.ApplicationCommandInteractionData{
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: value},
		},
	}
}

func TestLanguageOption(t *testing.T) {
	cases := []struct {
		name    string
		value   any
		want    string
		wantErr bool
	}{
		{name: "plain", value: "en", want: "en"},
		{name: "upper normalized", value: "ES", want: "es"},
		{name: "regional tag", value: "pt-BR", want: "pt-br"},
		{name: "padded", value: " fr ", want: "fr"},
		{name: "empty", value: "", wantErr: true},
		{name: "digits", value: "e1", wantErr: true},
		{name: "too long", value: "definitely-not", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := languageOption(optionData("language", tc.value))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLanguageOptionMissing(t *testing.T) {
	if _, err := languageOption(discordgo.ApplicationCommandInteractionData{}); err == nil {
		t.Fatalf("expected error when option absent")
	}
}

func TestTermsPromptEphemeralWithButtons(t *testing.T) {
	data := termsPrompt("es")
	if data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Fatalf("terms prompt must be ephemeral")
	}
	if len(data.Components) != 1 {
		t.Fatalf("components = %+v, want one action row", data.Components)
	}
	row, ok := data.Components[0].(discordgo.ActionsRow)
	if !ok || len(row.Components) != 2 {
		t.Fatalf("row = %+v, want accept and decline buttons", data.Components[0])
	}
	accept, ok := row.Components[0].(discordgo.Button)
	if !ok || accept.CustomID != acceptPrefix+"es" {
		t.Fatalf("accept button = %+v", row.Components[0])
	}
	decline, ok := row.Components[1].(discordgo.Button)
	if !ok || decline.CustomID != declineCustom {
		t.Fatalf("decline button = %+v", row.Components[1])
	}
}

func TestStatsEmbed(t *testing.T) {
	e := statsEmbed(map[string]int{"en": 2, "es": 1}, 3, storage.Totals{Relayed: 40, Blocked: 2})
	var breakdown, servers string
	for _, f := range e.Fields {
		switch f.Name {
		case "Languages":
			breakdown = f.Value
		case "Servers":
			servers = f.Value
		}
	}
	if servers != "3" {
		t.Fatalf("servers = %q", servers)
	}
	if breakdown != "`en` (2), `es` (1)" {
		t.Fatalf("breakdown = %q", breakdown)
	}
	var channels string
	for _, f := range e.Fields {
		if f.Name == "Linked Channels" {
			channels = f.Value
		}
	}
	if channels != "3" {
		t.Fatalf("linked channels = %q", channels)
	}
}

func TestStatsEmbedNoLanguages(t *testing.T) {
	e := statsEmbed(nil, 0, storage.Totals{})
	for _, f := range e.Fields {
		if f.Name == "Languages" && f.Value != "none" {
			t.Fatalf("breakdown = %q, want none", f.Value)
		}
	}
}

func TestWarningsEmbed(t *testing.T) {
	e := warningsEmbed("u1", 0)
	if e.Color != colorGreen {
		t.Fatalf("zero warnings should render green")
	}
	e = warningsEmbed("u1", 2)
	if e.Color != colorYellow {
		t.Fatalf("warnings should render yellow")
	}
	if !strings.Contains(e.Fields[0].Value, "<@u1>") {
		t.Fatalf("user field = %q", e.Fields[0].Value)
	}
}

func TestInvokerID(t *testing.T) {
	ic := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Member: &discordgo.Member{User: &discordgo.User{ID: "m1"}},
	}}
	if got := invokerID(ic); got != "m1" {
		t.Fatalf("invoker = %q, want m1", got)
	}
	ic = &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		User: &discordgo.User{ID: "d1"},
	}}
	if got := invokerID(ic); got != "d1" {
		t.Fatalf("invoker = %q, want d1", got)
	}
}
