// Package auth drives OTP phone-verification logins on portals that gate
// record search behind a mobile number. A virtual number is rented per
// login, the portal sends its code there, and the code is typed back in.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atlasland/landscraper/internal/scrape"
	"github.com/atlasland/landscraper/internal/smsactivate"
)

// NumberProvider rents virtual phone numbers and relays their SMS traffic.
type NumberProvider interface {
	GetNumber(ctx context.Context) (*smsactivate.Activation, error)
	WaitForCode(ctx context.Context, activationID string, timeout time.Duration) (string, error)
	CancelActivation(ctx context.Context, activationID string) error
}

// Selectors lists candidate CSS selectors for each login control, tried in
// order. Portals rename their controls without notice, so several
// generations of selectors stay in the list.
type Selectors struct {
	PhoneInput   []string
	OTPButton    []string
	OTPInput     []string
	VerifyButton []string
}

// Flow performs an OTP login on an already-navigated page.
type Flow struct {
	provider    NumberProvider
	selectors   Selectors
	codeTimeout time.Duration
	waitPerSel  time.Duration
	logger      *zap.Logger
}

// NewFlow builds a Flow. codeTimeout bounds how long we wait for the portal
// SMS to arrive before releasing the rented number.
func NewFlow(provider NumberProvider, selectors Selectors, codeTimeout time.Duration, logger *zap.Logger) *Flow {
	if codeTimeout <= 0 {
		codeTimeout = 2 * time.Minute
	}
	return &Flow{
		provider:    provider,
		selectors:   selectors,
		codeTimeout: codeTimeout,
		waitPerSel:  3 * time.Second,
		logger:      logger,
	}
}

// Login rents a number, submits it to the page, waits for the SMS code and
// types it back. Any failure after the rental cancels the activation first,
// so a failed login never leaves a paid number held.
func (f *Flow) Login(ctx context.Context, page scrape.Page) error {
	activation, err := f.provider.GetNumber(ctx)
	if err != nil {
		return fmt.Errorf("rent virtual number: %w", err)
	}

	if err := f.login(ctx, page, activation); err != nil {
		if cancelErr := f.provider.CancelActivation(context.WithoutCancel(ctx), activation.ID); cancelErr != nil {
			f.logger.Warn("cancel activation after failed login",
				zap.String("activation_id", activation.ID),
				zap.Error(cancelErr),
			)
		}
		return err
	}
	return nil
}

func (f *Flow) login(ctx context.Context, page scrape.Page, activation *smsactivate.Activation) error {
	local := localNumber(activation.PhoneNumber)
	f.logger.Info("submitting phone number",
		zap.String("activation_id", activation.ID),
		zap.String("phone", local),
	)

	phoneSel, err := f.firstPresent(ctx, page, f.selectors.PhoneInput)
	if err != nil {
		return fmt.Errorf("locate phone input: %w", err)
	}
	if err := page.TypeText(ctx, phoneSel, local); err != nil {
		return err
	}

	otpBtn, err := f.firstPresent(ctx, page, f.selectors.OTPButton)
	if err != nil {
		return fmt.Errorf("locate otp button: %w", err)
	}
	if err := page.Click(ctx, otpBtn); err != nil {
		return err
	}

	// WaitForCode confirms or cancels the rental itself on its own
	// terminal paths; the outer cancel on error is then a no-op upstream.
	smsText, err := f.provider.WaitForCode(ctx, activation.ID, f.codeTimeout)
	if err != nil {
		return fmt.Errorf("wait for sms code: %w", err)
	}

	code, ok := smsactivate.ExtractOTP(smsText)
	if !ok {
		return fmt.Errorf("no otp found in sms text %q", smsText)
	}

	otpSel, err := f.firstPresent(ctx, page, f.selectors.OTPInput)
	if err != nil {
		return fmt.Errorf("locate otp input: %w", err)
	}
	if err := page.TypeText(ctx, otpSel, code); err != nil {
		return err
	}

	verifySel, err := f.firstPresent(ctx, page, f.selectors.VerifyButton)
	if err != nil {
		return fmt.Errorf("locate verify button: %w", err)
	}
	if err := page.Click(ctx, verifySel); err != nil {
		return err
	}

	f.logger.Info("otp login complete", zap.String("activation_id", activation.ID))
	return nil
}

// firstPresent returns the first candidate selector that appears on the
// page within the per-selector wait.
func (f *Flow) firstPresent(ctx context.Context, page scrape.Page, candidates []string) (string, error) {
	for _, sel := range candidates {
		if err := page.WaitForSelector(ctx, sel, f.waitPerSel); err == nil {
			return sel, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", &scrape.BrowserError{
		Op:       "wait",
		Selector: strings.Join(candidates, ", "),
		Err:      fmt.Errorf("no candidate selector matched"),
	}
}

// localNumber strips the country prefix the provider includes; portals
// expect the bare 10-digit mobile number.
func localNumber(phone string) string {
	if len(phone) > 10 {
		return phone[len(phone)-10:]
	}
	return phone
}
