// Package smsactivate rents virtual phone numbers for OTP verification via
// the SMS-Activate API. The provider speaks a plain-text protocol of
// ACCESS_*/STATUS_* prefixed responses, parsed by prefix rather than as
// structured payloads.
package smsactivate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atlasland/landscraper/internal/metrics"
	"github.com/atlasland/landscraper/internal/scrape"
)

const defaultBaseURL = "https://api.sms-activate.org/stubs/handler_api.php"

// Provider status codes for setStatus.
const (
	statusCodeConfirm = "6"
	statusCodeCancel  = "8"
)

// Typed provider failures surfaced from GetNumber.
var (
	ErrNoNumbers           = errors.New("no numbers available")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidCredentials  = errors.New("invalid api key")
)

// ErrCodeTimeout is returned by WaitForCode after the rental was cancelled.
var ErrCodeTimeout = errors.New("timed out waiting for sms code")

// State is one node of the activation state machine.
type State string

// Activation states. Waiting and WaitingResend both mean "keep polling".
const (
	StateWaiting       State = "waiting"
	StateWaitingResend State = "waiting_resend"
	StateCodeReceived  State = "code_received"
	StateCancelled     State = "cancelled"
)

// Status is the polled activation state plus the SMS text once received.
type Status struct {
	State State
	Code  string
}

// Activation identifies a rented virtual number. It is transient: created at
// the start of an OTP flow and confirmed or cancelled at its end.
type Activation struct {
	ID          string
	PhoneNumber string
	Status      Status
}

// Config controls the provider client.
type Config struct {
	APIKey       string
	BaseURL      string
	Country      string
	Service      string
	PollInterval time.Duration
	HTTPTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Country == "" {
		c.Country = "22" // India
	}
	if c.Service == "" {
		c.Service = "ot" // generic SMS verification
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	return c
}

// Client calls the SMS-Activate HTTP API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a Client. The API key is required.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, &scrape.ConfigError{Message: "sms-activate api key is required"}
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger,
	}, nil
}

// GetBalance returns the account balance.
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	body, err := c.call(ctx, url.Values{"action": {"getBalance"}})
	if err != nil {
		return 0, err
	}
	after, ok := strings.CutPrefix(body, "ACCESS_BALANCE:")
	if !ok {
		return 0, &scrape.ProviderError{Provider: "sms-activate", Message: fmt.Sprintf("balance: unexpected response %q", body)}
	}
	balance, err := strconv.ParseFloat(after, 64)
	if err != nil {
		return 0, fmt.Errorf("sms-activate balance: %w", err)
	}
	return balance, nil
}

// GetNumber rents a virtual number for one verification.
func (c *Client) GetNumber(ctx context.Context) (*Activation, error) {
	c.logger.Info("requesting virtual number",
		zap.String("country", c.cfg.Country),
		zap.String("service", c.cfg.Service),
	)

	body, err := c.call(ctx, url.Values{
		"action":  {"getNumber"},
		"service": {c.cfg.Service},
		"country": {c.cfg.Country},
	})
	if err != nil {
		return nil, err
	}

	// Success format: ACCESS_NUMBER:<activation_id>:<phone_number>
	if after, ok := strings.CutPrefix(body, "ACCESS_NUMBER:"); ok {
		parts := strings.SplitN(after, ":", 2)
		if len(parts) == 2 {
			act := &Activation{
				ID:          parts[0],
				PhoneNumber: parts[1],
				Status:      Status{State: StateWaiting},
			}
			c.logger.Info("rented virtual number",
				zap.String("activation_id", act.ID),
				zap.String("phone", act.PhoneNumber),
			)
			metrics.ObserveSMSActivation("rented")
			return act, nil
		}
	}

	switch body {
	case "NO_NUMBERS":
		return nil, ErrNoNumbers
	case "NO_BALANCE":
		return nil, ErrInsufficientBalance
	case "BAD_KEY":
		return nil, ErrInvalidCredentials
	default:
		return nil, &scrape.ProviderError{Provider: "sms-activate", Message: fmt.Sprintf("getNumber: unexpected response %q", body)}
	}
}

// GetStatus polls the activation state.
func (c *Client) GetStatus(ctx context.Context, activationID string) (Status, error) {
	body, err := c.call(ctx, url.Values{
		"action": {"getStatus"},
		"id":     {activationID},
	})
	if err != nil {
		return Status{}, err
	}

	if code, ok := strings.CutPrefix(body, "STATUS_OK:"); ok {
		return Status{State: StateCodeReceived, Code: code}, nil
	}
	switch body {
	case "STATUS_WAIT_CODE":
		return Status{State: StateWaiting}, nil
	case "STATUS_WAIT_RESEND":
		return Status{State: StateWaitingResend}, nil
	case "STATUS_CANCEL":
		return Status{State: StateCancelled}, nil
	default:
		return Status{}, &scrape.ProviderError{Provider: "sms-activate", Message: fmt.Sprintf("getStatus: unexpected response %q", body)}
	}
}

// SetStatus reports an activation outcome to the provider.
func (c *Client) SetStatus(ctx context.Context, activationID, statusCode string) error {
	body, err := c.call(ctx, url.Values{
		"action": {"setStatus"},
		"id":     {activationID},
		"status": {statusCode},
	})
	if err != nil {
		return err
	}
	if !strings.HasPrefix(body, "ACCESS_") {
		return &scrape.ProviderError{Provider: "sms-activate", Message: fmt.Sprintf("setStatus: unexpected response %q", body)}
	}
	return nil
}

// CancelActivation cancels a rental and releases it for refund.
func (c *Client) CancelActivation(ctx context.Context, activationID string) error {
	return c.SetStatus(ctx, activationID, statusCodeCancel)
}

// WaitForCode polls the activation until an SMS arrives or the timeout
// elapses. On success the activation is confirmed; on timeout it is
// cancelled before the error is returned, so no paid rental leaks.
func (c *Client) WaitForCode(ctx context.Context, activationID string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	c.logger.Info("waiting for sms code",
		zap.String("activation_id", activationID),
		zap.Duration("timeout", timeout),
	)

	for {
		if time.Now().After(deadline) {
			if err := c.CancelActivation(ctx, activationID); err != nil {
				c.logger.Warn("cancel after timeout failed", zap.Error(err))
			}
			metrics.ObserveSMSActivation("timeout")
			return "", ErrCodeTimeout
		}

		status, err := c.GetStatus(ctx, activationID)
		if err != nil {
			return "", err
		}

		switch status.State {
		case StateCodeReceived:
			if err := c.SetStatus(ctx, activationID, statusCodeConfirm); err != nil {
				c.logger.Warn("confirm activation failed", zap.Error(err))
			}
			metrics.ObserveSMSActivation("confirmed")
			return status.Code, nil
		case StateCancelled:
			return "", fmt.Errorf("activation %s was cancelled by provider", activationID)
		case StateWaiting, StateWaitingResend:
			select {
			case <-ctx.Done():
				if err := c.CancelActivation(context.WithoutCancel(ctx), activationID); err != nil {
					c.logger.Warn("cancel after context done failed", zap.Error(err))
				}
				return "", ctx.Err()
			case <-time.After(c.cfg.PollInterval):
			}
		}
	}
}

func (c *Client) call(ctx context.Context, params url.Values) (string, error) {
	params.Set("api_key", c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build sms-activate request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms-activate request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read sms-activate response: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

// otpPattern matches a bounded run of 4-6 digits; provider SMS bodies are
// unstructured free text.
var otpPattern = regexp.MustCompile(`\b(\d{4,6})\b`)

// ExtractOTP pulls the numeric verification code out of an SMS body.
func ExtractOTP(smsText string) (string, bool) {
	match := otpPattern.FindStringSubmatch(smsText)
	if match == nil {
		return "", false
	}
	return match[1], true
}
