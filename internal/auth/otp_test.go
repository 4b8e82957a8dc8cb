package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlasland/landscraper/internal/smsactivate"
)

type fakeNumberProvider struct {
	activation *smsactivate.Activation
	getErr     error
	smsText    string
	waitErr    error
	calls      []string
}

func (p *fakeNumberProvider) GetNumber(context.Context) (*smsactivate.Activation, error) {
	p.calls = append(p.calls, "getNumber")
	return p.activation, p.getErr
}

func (p *fakeNumberProvider) WaitForCode(_ context.Context, id string, _ time.Duration) (string, error) {
	p.calls = append(p.calls, "waitForCode:"+id)
	return p.smsText, p.waitErr
}

func (p *fakeNumberProvider) CancelActivation(_ context.Context, id string) error {
	p.calls = append(p.calls, "cancel:"+id)
	return nil
}

// fakePage records actions and knows which selectors exist.
type fakePage struct {
	present  map[string]bool
	typedErr error
	actions  []string
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.actions = append(p.actions, "navigate:"+url)
	return nil
}

func (p *fakePage) WaitForSelector(_ context.Context, sel string, _ time.Duration) error {
	if p.present[sel] {
		return nil
	}
	return fmt.Errorf("selector %q not found", sel)
}

func (p *fakePage) SelectOption(_ context.Context, sel, value string) error {
	p.actions = append(p.actions, fmt.Sprintf("select:%s=%s", sel, value))
	return nil
}

func (p *fakePage) TypeText(_ context.Context, sel, text string) error {
	p.actions = append(p.actions, fmt.Sprintf("type:%s=%s", sel, text))
	return p.typedErr
}

func (p *fakePage) Click(_ context.Context, sel string) error {
	p.actions = append(p.actions, "click:"+sel)
	return nil
}

func (p *fakePage) HTML(context.Context) (string, error)                 { return "", nil }
func (p *fakePage) Screenshot(context.Context, bool) ([]byte, error)     { return nil, nil }
func (p *fakePage) ElementScreenshot(context.Context, string) ([]byte, error) {
	return nil, nil
}

func testSelectors() Selectors {
	return Selectors{
		PhoneInput:   []string{"#legacyPhone", "#txtMobile"},
		OTPButton:    []string{"#btnGetOTP"},
		OTPInput:     []string{"#txtOTP"},
		VerifyButton: []string{"#btnVerify"},
	}
}

func TestLoginHappyPath(t *testing.T) {
	t.Parallel()

	provider := &fakeNumberProvider{
		activation: &smsactivate.Activation{ID: "act-1", PhoneNumber: "919876543210"},
		smsText:    "Your OTP is 482913",
	}
	page := &fakePage{present: map[string]bool{
		"#txtMobile": true,
		"#btnGetOTP": true,
		"#txtOTP":    true,
		"#btnVerify": true,
	}}

	flow := NewFlow(provider, testSelectors(), time.Minute, zap.NewNop())
	require.NoError(t, flow.Login(context.Background(), page))

	// The stale first-choice selector is skipped for the working one, and
	// the country prefix is stripped before typing.
	require.Equal(t, []string{
		"type:#txtMobile=9876543210",
		"click:#btnGetOTP",
		"type:#txtOTP=482913",
		"click:#btnVerify",
	}, page.actions)
	require.NotContains(t, provider.calls, "cancel:act-1")
}

func TestLoginCancelsRentalOnPageFailure(t *testing.T) {
	t.Parallel()

	provider := &fakeNumberProvider{
		activation: &smsactivate.Activation{ID: "act-2", PhoneNumber: "919876543210"},
		smsText:    "Your OTP is 1234",
	}
	page := &fakePage{
		present:  map[string]bool{"#txtMobile": true},
		typedErr: errors.New("page crashed"),
	}

	flow := NewFlow(provider, testSelectors(), time.Minute, zap.NewNop())
	err := flow.Login(context.Background(), page)
	require.Error(t, err)
	require.Contains(t, provider.calls, "cancel:act-2")
}

func TestLoginCancelsRentalWhenNoOTPInSMS(t *testing.T) {
	t.Parallel()

	provider := &fakeNumberProvider{
		activation: &smsactivate.Activation{ID: "act-3", PhoneNumber: "919876543210"},
		smsText:    "Welcome to the portal",
	}
	page := &fakePage{present: map[string]bool{
		"#txtMobile": true,
		"#btnGetOTP": true,
	}}

	flow := NewFlow(provider, testSelectors(), time.Minute, zap.NewNop())
	err := flow.Login(context.Background(), page)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no otp found")
	require.Contains(t, provider.calls, "cancel:act-3")
}

func TestLoginRentFailureSkipsPage(t *testing.T) {
	t.Parallel()

	provider := &fakeNumberProvider{getErr: smsactivate.ErrNoNumbers}
	page := &fakePage{}

	flow := NewFlow(provider, testSelectors(), time.Minute, zap.NewNop())
	err := flow.Login(context.Background(), page)
	require.ErrorIs(t, err, smsactivate.ErrNoNumbers)
	require.Empty(t, page.actions)
}

func TestLoginNoSelectorMatches(t *testing.T) {
	t.Parallel()

	provider := &fakeNumberProvider{
		activation: &smsactivate.Activation{ID: "act-4", PhoneNumber: "919876543210"},
	}
	page := &fakePage{present: map[string]bool{}}

	flow := NewFlow(provider, testSelectors(), time.Minute, zap.NewNop())
	flow.waitPerSel = time.Millisecond
	err := flow.Login(context.Background(), page)
	require.Error(t, err)
	require.Contains(t, err.Error(), "locate phone input")
	require.Contains(t, provider.calls, "cancel:act-4")
}
