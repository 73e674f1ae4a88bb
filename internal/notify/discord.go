package notify

import (
	"context"
	"net/http"
)

// discordGold is the embed colour used for every marketplace alert.
const discordGold = 0xD4AF37

// DiscordSender posts alerts as a single embed to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: webhookTimeout},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordMessage struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send renders title as the embed title and message as a code block so
// addresses keep their alignment.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	msg := discordMessage{
		Username: "lazymarket",
		Embeds: []discordEmbed{{
			Title:       title,
			Description: "```\n" + message + "\n```",
			Color:       discordGold,
		}},
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, msg)
}

func (d *DiscordSender) Name() string { return "discord" }
