package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const defaultSMTP2GOURL = "https://api.smtp2go.com/v3/email/send"

type smtp2goAttachment struct {
	Filename string `json:"filename"`
	Fileblob string `json:"fileblob"`
	Mimetype string `json:"mimetype"`
}

type smtp2goRequest struct {
	APIKey      string              `json:"api_key"`
	Sender      string              `json:"sender"`
	To          []string            `json:"to"`
	Subject     string              `json:"subject"`
	HTMLBody    string              `json:"html_body"`
	Attachments []smtp2goAttachment `json:"attachments,omitempty"`
}

type smtp2goResponse struct {
	Data struct {
		Succeeded int      `json:"succeeded"`
		Failed    int      `json:"failed"`
		Failures  []string `json:"failures"`
		Error     string   `json:"error"`
	} `json:"data"`
}

// SMTP2GO posts messages to the SMTP2GO HTTP API.
type SMTP2GO struct {
	client *resty.Client
	apiKey string
	url    string
	sender string
	logger *zap.Logger
}

// NewSMTP2GO builds the SMTP2GO transport.
func NewSMTP2GO(cfg Config) *SMTP2GO {
	url := cfg.APIURL
	if url == "" {
		url = defaultSMTP2GOURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &SMTP2GO{client: client, apiKey: cfg.APIKey, url: url, sender: cfg.Sender, logger: logger}
}

// Send implements Transport.
func (s *SMTP2GO) Send(ctx context.Context, msg Message) error {
	if s.apiKey == "" {
		return ErrNotConfigured
	}
	payload := smtp2goRequest{
		APIKey:   s.apiKey,
		Sender:   s.sender,
		To:       []string{msg.To},
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
	}
	for _, att := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, smtp2goAttachment{
			Filename: att.Filename,
			Fileblob: base64.StdEncoding.EncodeToString(att.Content),
			Mimetype: att.ContentType,
		})
	}

	var result smtp2goResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Data.Succeeded > 0 {
		s.logger.Debug("smtp2go accepted message", zap.String("to", msg.To))
		return nil
	}
	reason := "unknown error"
	switch {
	case len(result.Data.Failures) > 0:
		reason = result.Data.Failures[0]
	case result.Data.Error != "":
		reason = result.Data.Error
	}
	return fmt.Errorf("delivery failed: %s", reason)
}
