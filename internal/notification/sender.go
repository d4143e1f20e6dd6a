package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/connexto/msgbridge/internal/domain"
)

const (
	senderTimeout      = 10 * time.Second
	defaultTelegramAPI = "https://api.telegram.org"
	defaultSMTPPort    = 587
	alertTitlePrefix   = "[Messaging Bridge]"
	formatAccounts     = "Accounts: %s\n"
	formatIdentity     = "Identity: %s\n"
	formatMessage      = "Message: %s\n"
)

type Sender interface {
	Send(ctx context.Context, channel domain.AlertChannel, alert domain.Alert) error
}

type webhookConfig struct {
	WebhookURL string `json:"webhookUrl"`
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

type SlackSender struct {
	client *http.Client
}

func NewSlackSender() *SlackSender {
	return &SlackSender{
		client: &http.Client{Timeout: senderTimeout},
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (s *SlackSender) Send(ctx context.Context, channel domain.AlertChannel, alert domain.Alert) error {
	var cfg webhookConfig
	if err := json.Unmarshal(channel.Config, &cfg); err != nil || cfg.WebhookURL == "" {
		return fmt.Errorf("invalid slack config: webhookUrl required")
	}

	text := fmt.Sprintf("*%s %s*\n%s", alertTitlePrefix, alert.Kind, formatAlertBody(alert))
	status, err := postJSON(ctx, s.client, cfg.WebhookURL, slackPayload{Text: text})
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("slack webhook returned %d", status)
	}
	return nil
}

type DiscordSender struct {
	client *http.Client
}

func NewDiscordSender() *DiscordSender {
	return &DiscordSender{
		client: &http.Client{Timeout: senderTimeout},
	}
}

type discordPayload struct {
	Content string `json:"content"`
}

func (d *DiscordSender) Send(ctx context.Context, channel domain.AlertChannel, alert domain.Alert) error {
	var cfg webhookConfig
	if err := json.Unmarshal(channel.Config, &cfg); err != nil || cfg.WebhookURL == "" {
		return fmt.Errorf("invalid discord config: webhookUrl required")
	}

	content := fmt.Sprintf("**%s %s**\n%s", alertTitlePrefix, alert.Kind, formatAlertBody(alert))
	status, err := postJSON(ctx, d.client, cfg.WebhookURL, discordPayload{Content: content})
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("discord webhook returned %d", status)
	}
	return nil
}

type TelegramSender struct {
	client  *http.Client
	baseURL string
}

func NewTelegramSender() *TelegramSender {
	return &TelegramSender{
		client:  &http.Client{Timeout: senderTimeout},
		baseURL: defaultTelegramAPI,
	}
}

type telegramPayload struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (t *TelegramSender) Send(ctx context.Context, channel domain.AlertChannel, alert domain.Alert) error {
	var cfg struct {
		BotToken string `json:"botToken"`
		ChatID   string `json:"chatId"`
	}
	if err := json.Unmarshal(channel.Config, &cfg); err != nil || cfg.BotToken == "" || cfg.ChatID == "" {
		return fmt.Errorf("invalid telegram config: botToken and chatId required")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.baseURL, "/"), cfg.BotToken)
	text := fmt.Sprintf("%s %s\n%s", alertTitlePrefix, alert.Kind, formatAlertBody(alert))
	status, err := postJSON(ctx, t.client, url, telegramPayload{ChatID: cfg.ChatID, Text: text})
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("telegram api returned %d", status)
	}
	return nil
}

type EmailSender struct{}

func NewEmailSender() *EmailSender {
	return &EmailSender{}
}

func (e *EmailSender) Send(_ context.Context, channel domain.AlertChannel, alert domain.Alert) error {
	var cfg struct {
		SMTPHost string `json:"smtpHost"`
		SMTPPort int    `json:"smtpPort"`
		From     string `json:"from"`
		To       string `json:"to"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(channel.Config, &cfg); err != nil {
		return fmt.Errorf("invalid email config: %w", err)
	}
	if cfg.SMTPHost == "" || cfg.From == "" || cfg.To == "" {
		return fmt.Errorf("invalid email config: smtpHost, from, to required")
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = defaultSMTPPort
	}

	subject := fmt.Sprintf("%s %s", alertTitlePrefix, alert.Kind)
	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	msg := []byte(
		"To: " + cfg.To + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n" +
			"\r\n" +
			formatAlertBody(alert) + "\r\n",
	)

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}

	if err := smtp.SendMail(addr, auth, cfg.From, []string{cfg.To}, msg); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

func formatAlertBody(alert domain.Alert) string {
	var b strings.Builder
	if len(alert.AccountIDs) > 0 {
		b.WriteString(fmt.Sprintf(formatAccounts, strings.Join(alert.AccountIDs, ", ")))
	}
	if alert.ExternalIdentity != "" {
		b.WriteString(fmt.Sprintf(formatIdentity, alert.ExternalIdentity))
	}
	if alert.Message != "" {
		b.WriteString(fmt.Sprintf(formatMessage, alert.Message))
	}
	b.WriteString(fmt.Sprintf("Time: %s", alert.Timestamp.Format(time.RFC3339)))
	return b.String()
}
