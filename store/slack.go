package store

import (
	"context"
	"fmt"
	"time"
)

// GetSlackSettings returns the singleton Slack configuration.
func (s *Store) GetSlackSettings(ctx context.Context) (*SlackSettings, error) {
	var cfg SlackSettings
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT is_enabled, webhook_url, channel FROM slack_settings WHERE id = 1`).
		Scan(&enabled, &cfg.WebhookURL, &cfg.Channel)
	if err != nil {
		return nil, fmt.Errorf("get slack settings: %w", err)
	}
	cfg.IsEnabled = enabled != 0
	return &cfg, nil
}

// SaveSlackSettings replaces the singleton Slack configuration. Enabling
// without a webhook URL is rejected.
func (s *Store) SaveSlackSettings(ctx context.Context, cfg *SlackSettings) error {
	if cfg.IsEnabled && cfg.WebhookURL == "" {
		return fmt.Errorf("slack settings: webhook_url required when enabled")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE slack_settings SET is_enabled = ?, webhook_url = ?, channel = ?, updated_at = ? WHERE id = 1`,
		boolToInt(cfg.IsEnabled), cfg.WebhookURL, cfg.Channel, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save slack settings: %w", err)
	}
	return nil
}
