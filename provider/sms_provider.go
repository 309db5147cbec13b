package provider

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vdjjd/faninteract/config"
	"github.com/vdjjd/faninteract/httpclient"
)

// SMSProvider implements providers.SMSProvider against an HTTP SMS gateway
type SMSProvider struct {
	client *httpclient.Client
	from   string
	logger zerolog.Logger
}

// NewSMSProvider creates an SMS provider from transport credentials
func NewSMSProvider(cfg config.SMSConfig, logger zerolog.Logger) *SMSProvider {
	auth := base64.StdEncoding.EncodeToString([]byte(cfg.AccountSID + ":" + cfg.AuthToken))
	client := httpclient.New(httpclient.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Logger:  logger,
		Headers: map[string]string{
			"Authorization": "Basic " + auth,
		},
	})

	return &SMSProvider{
		client: client,
		from:   cfg.From,
		logger: logger.With().Str("component", "sms_provider").Logger(),
	}
}

type sendMessageRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

// Send delivers a single message through the gateway
func (p *SMSProvider) Send(ctx context.Context, to, body string) error {
	if to == "" {
		return fmt.Errorf("recipient phone number is empty")
	}

	resp, err := p.client.Post(ctx, "/messages", &sendMessageRequest{
		To:   to,
		From: p.from,
		Body: body,
	}, nil)
	if err != nil {
		return fmt.Errorf("sms transport error: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("sms gateway returned status %d: %s", resp.StatusCode, string(resp.Body))
	}

	p.logger.Debug().Str("to", to).Msg("SMS delivered to gateway")
	return nil
}
