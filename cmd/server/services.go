package main

import (
	"fmt"
	"log/slog"

	"github.com/api-monitor/api-monitor/internal/api"
	"github.com/api-monitor/api-monitor/internal/audit"
	"github.com/api-monitor/api-monitor/internal/config"
	"github.com/api-monitor/api-monitor/internal/db/repositories"
	"github.com/api-monitor/api-monitor/internal/identity"
	"github.com/jmoiron/sqlx"
)

// services are the long-lived collaborators shared by serve and token
type services struct {
	Recorder *audit.Recorder
	Notifier *audit.Notifier
	Tokens   *identity.TokenIssuer
	Events   *identity.Events
	shipper  *audit.MultiShipper
}

func buildServices(cfg *config.Config, database *sqlx.DB) (*services, error) {
	secret, err := identity.ResolveSecret(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("security configuration error: %w", err)
	}

	shipper, err := audit.NewMultiShipper(shipperConfigs(cfg.Audit.Shippers))
	if err != nil {
		return nil, fmt.Errorf("failed to configure record shippers: %w", err)
	}

	auditRepo := repositories.NewAuditRepository(database)
	var recorder *audit.Recorder
	if shipper.Len() > 0 {
		recorder = audit.NewRecorder(auditRepo, auditRepo, shipper)
	} else {
		recorder = audit.NewRecorder(auditRepo, auditRepo, nil)
	}

	events := identity.NewEvents()
	events.Subscribe(recorder.ObserveSession)

	return &services{
		Recorder: recorder,
		Notifier: newNotifier(cfg.Notifications),
		Tokens:   identity.NewTokenIssuer(secret, cfg.Auth.TokenTTL, cfg.Auth.Issuer),
		Events:   events,
		shipper:  shipper,
	}, nil
}

// Dependencies adapts the services for api.NewRouter
func (s *services) Dependencies(database *sqlx.DB) api.Dependencies {
	return api.Dependencies{
		DB:       database,
		Recorder: s.Recorder,
		Notifier: s.Notifier,
		Tokens:   s.Tokens,
	}
}

// Close flushes and closes the record shippers
func (s *services) Close() {
	if err := s.shipper.Close(); err != nil {
		slog.Warn("failed to close record shippers", "error", err)
	}
}

// shipperConfigs keeps the enabled shippers and converts them to the audit package's form
func shipperConfigs(in []config.ShipperConfig) []audit.ShipperConfig {
	var out []audit.ShipperConfig
	for _, sc := range in {
		if !sc.Enabled {
			continue
		}
		c := audit.ShipperConfig{Type: sc.Type}
		if sc.Webhook != nil {
			c.Webhook = &audit.WebhookShipperConfig{
				URL:           sc.Webhook.URL,
				Headers:       sc.Webhook.Headers,
				Timeout:       sc.Webhook.Timeout,
				BatchSize:     sc.Webhook.BatchSize,
				FlushInterval: sc.Webhook.FlushInterval,
			}
		}
		if sc.File != nil {
			c.File = &audit.FileShipperConfig{
				Path:       sc.File.Path,
				MaxSizeMB:  sc.File.MaxSizeMB,
				MaxBackups: sc.File.MaxBackups,
			}
		}
		out = append(out, c)
	}
	return out
}

// newNotifier enables email only when notifications are switched on; the webhook
// channel depends on the URL alone
func newNotifier(cfg config.NotificationsConfig) *audit.Notifier {
	var mail audit.MailSender
	if cfg.Enabled && cfg.SMTP.Host != "" {
		mail = audit.NewSMTPMailer(audit.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			UseTLS:   cfg.SMTP.UseTLS,
		})
	}
	return audit.NewNotifier(mail, cfg.AdminEmails, cfg.WebhookURL, cfg.Timeout)
}
