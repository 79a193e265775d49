package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// SendGrid delivers through the SendGrid v3 mail API.
type SendGrid struct {
	apiKey string
	host   string
	sender *sgmail.Email
	logger *zap.Logger
}

// NewSendGrid builds the SendGrid transport. APIURL overrides the API host.
func NewSendGrid(cfg Config) *SendGrid {
	name, address := ParseAddress(cfg.Sender)
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendGrid{apiKey: cfg.APIKey, host: cfg.APIURL, sender: sgmail.NewEmail(name, address), logger: logger}
}

// Send implements Transport.
func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	if s.apiKey == "" {
		return ErrNotConfigured
	}
	to := sgmail.NewEmail(msg.ToName, msg.To)
	m := sgmail.NewSingleEmail(s.sender, msg.Subject, to, "", msg.HTMLBody)
	for _, att := range msg.Attachments {
		a := sgmail.NewAttachment()
		a.SetContent(base64.StdEncoding.EncodeToString(att.Content))
		a.SetType(att.ContentType)
		a.SetFilename(att.Filename)
		a.SetDisposition("attachment")
		m.AddAttachment(a)
	}

	client := sendgrid.NewSendClient(s.apiKey)
	if s.host != "" {
		client.Request.BaseURL = s.host + "/v3/mail/send"
	}
	resp, err := client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Body)
	}
	s.logger.Debug("sendgrid accepted message", zap.String("to", msg.To))
	return nil
}
