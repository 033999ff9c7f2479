package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/notifyx/notifyx/internal/domain"
)

// SMSProvider delivers over a Twilio-compatible messages API.
type SMSProvider struct {
	client     *http.Client
	apiURL     string
	accountSID string
	authToken  string
	fromNumber string
	health     healthTracker
}

// NewSMSProvider creates an SMS provider.
func NewSMSProvider() *SMSProvider {
	return &SMSProvider{
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Name identifies the provider in logs and results
func (p *SMSProvider) Name() string { return "twilio-sms" }

// Channel returns the channel this provider serves
func (p *SMSProvider) Channel() domain.Channel { return domain.ChannelSMS }

// Configure applies channel configuration.
func (p *SMSProvider) Configure(config map[string]any) error {
	p.accountSID = stringConfig(config, "account_sid")
	p.authToken = stringConfig(config, "auth_token")
	p.fromNumber = stringConfig(config, "from_number")
	if p.accountSID == "" || p.authToken == "" {
		return domain.NewConfigurationError("sms-provider", "account_sid and auth_token are required")
	}
	if url := stringConfig(config, "api_url"); url != "" {
		p.apiURL = url
	} else {
		p.apiURL = "https://api.twilio.com/2010-04-01/Accounts/" + p.accountSID + "/Messages.json"
	}
	return nil
}

// Validate checks that the recipient carries a phone number.
func (p *SMSProvider) Validate(event domain.NotificationEvent, recipient domain.NotificationRecipient) domain.ValidationResult {
	if recipient.PhoneNumber == "" {
		return domain.ValidationResult{Valid: false, Errors: []string{"recipient has no phone number"}}
	}
	if !strings.HasPrefix(recipient.PhoneNumber, "+") {
		return domain.ValidationResult{Valid: false, Errors: []string{"phone number must be E.164: " + recipient.PhoneNumber}}
	}
	return domain.ValidationResult{Valid: true}
}

// Send delivers the rendered message.
func (p *SMSProvider) Send(
	ctx context.Context,
	event domain.NotificationEvent,
	recipient domain.NotificationRecipient,
	rendered domain.RenderResult,
) domain.DeliveryResult {
	form := url.Values{}
	form.Set("To", recipient.PhoneNumber)
	form.Set("From", p.fromNumber)
	form.Set("Body", rendered.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.DeliveryResult{Success: false, ErrorCode: "REQUEST", ErrorMessage: err.Error(), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.client.Do(req)
	if err != nil {
		p.health.record(false)
		return transportResult(err)
	}
	defer resp.Body.Close()

	var messageID string
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var body struct {
			SID string `json:"sid"`
		}
		if data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024)); err == nil {
			_ = json.Unmarshal(data, &body)
			messageID = body.SID
		}
	}

	result := resultFromStatus(resp.StatusCode, messageID)
	p.health.record(result.Success)
	return result
}

// Health reports the provider's current health
func (p *SMSProvider) Health() domain.HealthStatus {
	return p.health.status()
}
