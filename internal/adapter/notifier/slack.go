package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hive-corporation/guardian/internal/adapter/resilient"
	"github.com/hive-corporation/guardian/internal/core/domain"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

type SlackNotifier struct {
	botToken    string
	channel     string
	mentionTeam string
	apiURL      string
	client      *resilient.Client
}

func NewSlackNotifier(botToken, channel, mentionTeam string, client *resilient.Client) *SlackNotifier {
	if client == nil {
		client = resilient.New(resilient.DefaultConfig("slack-api"), nil)
	}
	return &SlackNotifier{
		botToken:    botToken,
		channel:     channel,
		mentionTeam: mentionTeam,
		apiURL:      slackPostMessageURL,
		client:      client,
	}
}

func (s *SlackNotifier) Name() string {
	return "slack"
}

// NotifyAlert posts a formatted alert to the configured channel.
func (s *SlackNotifier) NotifyAlert(ctx context.Context, alert domain.Alert) error {
	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  s.buildAlertBlocks(alert),
		Text:    fmt.Sprintf("%s %s: %s", severityEmoji(alert.Severity), alert.Category, alert.FilePath),
	}
	return s.sendMessage(ctx, payload)
}

func severityEmoji(sev domain.Severity) string {
	switch sev {
	case domain.SeverityHigh:
		return "🔴"
	case domain.SeverityMedium:
		return "🟡"
	default:
		return "🟢"
	}
}

func (s *SlackNotifier) buildAlertBlocks(alert domain.Alert) []SlackBlock {
	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: fmt.Sprintf("%s %s", severityEmoji(alert.Severity), alert.Category),
			},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Severity*\n%s", strings.ToUpper(string(alert.Severity)))},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Event*\n%s", alert.EventType)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*File*\n`%s`", alert.FilePath)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Time*\n%s", alert.OccurredAt.Format("2006-01-02 15:04:05"))},
			},
		},
		{Type: "divider"},
	}

	if alert.Category == domain.CategoryRansomware || alert.Category == domain.CategoryRansomNote {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: "*Recommended Actions*\n✓ Isolate the endpoint\n✓ Check for encrypted files nearby\n✓ Preserve the ransom note for analysis",
			},
		})
	}

	blocks = append(blocks, SlackBlock{
		Type: "context",
		Elements: []SlackText{
			{Type: "mrkdwn", Text: fmt.Sprintf("Alert `%s`", alert.Identity)},
		},
	})

	if s.mentionTeam != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("🔔 %s", s.mentionTeam)},
		})
	}

	return blocks
}

func (s *SlackNotifier) sendMessage(ctx context.Context, msg SlackMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.botToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// Slack reports most failures with a 200 and ok=false.
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode Slack response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("slack API error: %s", result.Error)
	}

	return nil
}

// Slack API structures

type SlackMessage struct {
	Channel string       `json:"channel"`
	Blocks  []SlackBlock `json:"blocks"`
	Text    string       `json:"text"` // Fallback text
}

type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Fields   []SlackText `json:"fields,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
