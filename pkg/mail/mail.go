// Package mail delivers HTML messages through an outbound email provider.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Supported providers.
const (
	ProviderSMTP2GO  = "smtp2go"
	ProviderSendGrid = "sendgrid"
)

// ErrNotConfigured is returned when the provider API key is missing.
var ErrNotConfigured = errors.New("mail api key not configured")

// Attachment is a file sent alongside a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a single-recipient HTML email.
type Message struct {
	To          string
	ToName      string
	Subject     string
	HTMLBody    string
	Attachments []Attachment
}

// Transport sends one message. A nil error means the provider accepted it.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	APIKey   string
	APIURL   string
	Sender   string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// New returns the transport named by cfg.Provider.
func New(cfg Config) (Transport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderSMTP2GO:
		return NewSMTP2GO(cfg), nil
	case ProviderSendGrid:
		return NewSendGrid(cfg), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// ParseAddress splits "Name <addr>" into its parts. A bare address has no name.
func ParseAddress(raw string) (name, address string) {
	raw = strings.TrimSpace(raw)
	open := strings.LastIndex(raw, "<")
	end := strings.LastIndex(raw, ">")
	if open >= 0 && end > open {
		return strings.TrimSpace(raw[:open]), strings.TrimSpace(raw[open+1 : end])
	}
	return "", raw
}
