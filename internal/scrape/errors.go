package scrape

import (
	"errors"
	"fmt"
)

// ErrNoSolverAvailable is returned by the captcha engine when every
// configured automated method has been exhausted.
var ErrNoSolverAvailable = errors.New("no captcha solving method succeeded")

// BrowserError reports a navigation, selector, or interaction failure in the
// browser driver. Callers retry or surface it as a job failure.
type BrowserError struct {
	Op       string
	Selector string
	Err      error
}

func (e *BrowserError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("browser %s %q: %v", e.Op, e.Selector, e.Err)
	}
	return fmt.Sprintf("browser %s: %v", e.Op, e.Err)
}

func (e *BrowserError) Unwrap() error { return e.Err }

// CaptchaRequiredError signals that automated solving was exhausted and the
// job must pause for a manual solution. ImageBase64 carries the challenge
// image for the operator dashboard.
type CaptchaRequiredError struct {
	ImageBase64 string
}

func (e *CaptchaRequiredError) Error() string { return "captcha requires manual solution" }

// NotFoundError means the portal explicitly reported no matching records.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ScraperError reports a result page the parser could not classify. RawHTML
// is preserved for diagnosis; a parse gap must never be coerced into a
// record with blank fields.
type ScraperError struct {
	Message string
	RawHTML string
}

func (e *ScraperError) Error() string { return e.Message }

// ProviderError reports a third-party solver or SMS provider failure.
type ProviderError struct {
	Provider string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ConfigError reports missing or invalid configuration. Fatal at startup for
// required features, non-fatal per call for optional fallbacks.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }
