package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/connexto/msgbridge/internal/config"
	"github.com/connexto/msgbridge/internal/domain"
	"github.com/connexto/msgbridge/internal/notification"
)

// AlertService tells operators about sessions that need attention. The same
// alert kind for the same session is sent at most once per cooldown.
type AlertService struct {
	channels []domain.AlertChannel
	senders  map[domain.AlertChannelType]notification.Sender
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time

	logger *slog.Logger
}

func NewAlertService(channels []domain.AlertChannel, cooldown time.Duration, logger *slog.Logger) *AlertService {
	return &AlertService{
		channels: channels,
		senders: map[domain.AlertChannelType]notification.Sender{
			domain.AlertChannelSlack:    notification.NewSlackSender(),
			domain.AlertChannelDiscord:  notification.NewDiscordSender(),
			domain.AlertChannelTelegram: notification.NewTelegramSender(),
			domain.AlertChannelEmail:    notification.NewEmailSender(),
		},
		cooldown: cooldown,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
		logger:   logger.With("component", "alert_service"),
	}
}

// ChannelsFromConfig builds one channel per configured destination.
func ChannelsFromConfig(cfg config.AlertsConfig) []domain.AlertChannel {
	var channels []domain.AlertChannel

	add := func(t domain.AlertChannelType, v any) {
		raw, err := json.Marshal(v)
		if err != nil {
			return
		}
		channels = append(channels, domain.AlertChannel{Type: t, Name: string(t), Config: raw})
	}

	if cfg.SlackWebhookURL != "" {
		add(domain.AlertChannelSlack, map[string]string{"webhookUrl": cfg.SlackWebhookURL})
	}
	if cfg.DiscordWebhookURL != "" {
		add(domain.AlertChannelDiscord, map[string]string{"webhookUrl": cfg.DiscordWebhookURL})
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		add(domain.AlertChannelTelegram, map[string]string{
			"botToken": cfg.TelegramBotToken,
			"chatId":   cfg.TelegramChatID,
		})
	}
	if cfg.SMTPHost != "" && cfg.EmailFrom != "" && cfg.EmailTo != "" {
		add(domain.AlertChannelEmail, map[string]any{
			"smtpHost": cfg.SMTPHost,
			"smtpPort": cfg.SMTPPort,
			"from":     cfg.EmailFrom,
			"to":       cfg.EmailTo,
			"username": cfg.SMTPUsername,
			"password": cfg.SMTPPassword,
		})
	}
	return channels
}

func (s *AlertService) ChannelCount() int {
	return len(s.channels)
}

// HandleEvent forwards the engine events operators care about.
func (s *AlertService) HandleEvent(ctx context.Context, event domain.Event) bool {
	kind, ok := domain.AlertKindForEvent(event.Type)
	if !ok {
		return false
	}
	return s.Notify(ctx, domain.Alert{
		Kind:             kind,
		AccountIDs:       event.AccountIDs,
		ExternalIdentity: event.ExternalIdentity,
		Message:          event.Message,
		Timestamp:        event.Timestamp,
	})
}

// Notify fans the alert out to every channel and reports whether it was sent.
func (s *AlertService) Notify(ctx context.Context, alert domain.Alert) bool {
	if len(s.channels) == 0 {
		return false
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = s.now().UTC()
	}
	if !s.claim(alertKey(alert)) {
		s.logger.Debug("Alert suppressed by cooldown", "kind", alert.Kind, "identity", alert.ExternalIdentity)
		return false
	}

	var wg sync.WaitGroup
	for _, channel := range s.channels {
		sender, ok := s.senders[channel.Type]
		if !ok {
			s.logger.Warn("Unknown channel type", "channel", channel.Name, "type", channel.Type)
			continue
		}

		wg.Add(1)
		go func(ch domain.AlertChannel) {
			defer wg.Done()
			if err := sender.Send(ctx, ch, alert); err != nil {
				s.logger.Error("Failed to send alert", "channel", ch.Name, "kind", alert.Kind, "error", err)
			}
		}(channel)
	}
	wg.Wait()
	return true
}

func (s *AlertService) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if last, ok := s.lastSent[key]; ok && now.Sub(last) < s.cooldown {
		return false
	}
	s.lastSent[key] = now
	return true
}

func alertKey(alert domain.Alert) string {
	subject := alert.ExternalIdentity
	if subject == "" {
		subject = strings.Join(alert.AccountIDs, ",")
	}
	return string(alert.Kind) + ":" + subject
}
