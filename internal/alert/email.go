// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package alert

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/mreyes-ops/idpwatch/internal/config"
	"github.com/mreyes-ops/idpwatch/internal/detection"
	"github.com/mreyes-ops/idpwatch/internal/metrics"
)

// ErrRateLimited is returned when the outbound rate cap rejects a delivery.
var ErrRateLimited = errors.New("alert email rate limit exceeded")

// EmailNotifier delivers alerts over SMTP. Deliveries pass through a token
// bucket (so an alert storm cannot flood the relay) and a circuit breaker
// (so a dead relay fails fast instead of stalling every poll cycle).
type EmailNotifier struct {
	cfg         config.AlertsConfig
	dialTimeout time.Duration
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[struct{}]
	logger      zerolog.Logger
}

// NewEmailNotifier creates a notifier from the alert configuration.
func NewEmailNotifier(cfg config.AlertsConfig, logger zerolog.Logger) *EmailNotifier {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 10
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "alert-email",
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("email circuit breaker state change")
		},
	})

	return &EmailNotifier{
		cfg:         cfg,
		dialTimeout: 30 * time.Second,
		limiter:     rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		breaker:     breaker,
		logger:      logger,
	}
}

// Notify sends one alert email to the configured recipient.
func (n *EmailNotifier) Notify(ctx context.Context, a detection.SecurityAlert) error {
	if !n.limiter.Allow() {
		metrics.EmailDeliveries.WithLabelValues("rate_limited").Inc()
		return fmt.Errorf("%w (alert %s)", ErrRateLimited, a.ID)
	}

	_, err := n.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, n.sendSMTP(ctx, n.cfg.Recipient, n.buildMessage(a))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.EmailDeliveries.WithLabelValues("breaker_open").Inc()
		} else {
			metrics.EmailDeliveries.WithLabelValues("failed").Inc()
		}
		return err
	}

	metrics.EmailDeliveries.WithLabelValues("sent").Inc()
	n.logger.Info().
		Str("alert_id", a.ID).
		Str("alert_type", string(a.Type)).
		Str("recipient", n.cfg.Recipient).
		Msg("alert email sent")
	return nil
}

// buildMessage constructs the email message with headers.
func (n *EmailNotifier) buildMessage(a detection.SecurityAlert) string {
	var msg strings.Builder

	subject := fmt.Sprintf("%s %s: %s", n.cfg.SubjectPrefix, strings.ToUpper(string(a.Severity)), a.Summary)

	msg.WriteString(fmt.Sprintf("From: IdPWatch <%s>\r\n", n.cfg.SMTPFrom))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", n.cfg.Recipient))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("X-IdPWatch-Alert-ID: %s\r\n", a.ID))
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("Alert:    %s\r\n", a.Type))
	msg.WriteString(fmt.Sprintf("Severity: %s\r\n", a.Severity))
	msg.WriteString(fmt.Sprintf("Identity: %s\r\n", a.Identity))
	if a.SourceAddress != "" {
		msg.WriteString(fmt.Sprintf("Source:   %s\r\n", a.SourceAddress))
	}
	if a.Location != "" {
		msg.WriteString(fmt.Sprintf("Location: %s\r\n", a.Location))
	}
	msg.WriteString(fmt.Sprintf("Occurred: %s\r\n", a.OccurredAt.Format(time.RFC3339)))
	msg.WriteString("\r\n")
	msg.WriteString(a.Summary)
	msg.WriteString("\r\n")
	if a.Details != "" {
		msg.WriteString("\r\n")
		msg.WriteString(a.Details)
		msg.WriteString("\r\n")
	}

	return msg.String()
}

// sendSMTP sends the message via SMTP with STARTTLS and plain auth.
func (n *EmailNotifier) sendSMTP(ctx context.Context, to, msg string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)

	dialer := &net.Dialer{Timeout: n.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, n.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if n.cfg.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: n.cfg.SMTPHost,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if n.cfg.SMTPUser != "" && n.cfg.SMTPPassword != "" {
		auth := smtp.PlainAuth("", n.cfg.SMTPUser, n.cfg.SMTPPassword, n.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(n.cfg.SMTPFrom); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := writer.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// Quit failures after a completed DATA are harmless.
	if err := client.Quit(); err != nil {
		return nil
	}
	return nil
}
