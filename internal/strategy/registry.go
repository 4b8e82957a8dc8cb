// Package strategy implements the portal-specific scraping procedures. Each
// strategy drives a browser page through one portal's search form, resolves
// its captcha, and parses the result page into a land record.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/atlasland/landscraper/internal/auth"
	"github.com/atlasland/landscraper/internal/captcha"
	"github.com/atlasland/landscraper/internal/config"
	"github.com/atlasland/landscraper/internal/scrape"
)

// Registry maps job types to their strategies. Lookup happens before any
// browser work so unknown types fail without launching a page.
type Registry struct {
	strategies map[scrape.JobType]scrape.Strategy
}

// NewRegistry wires every known portal strategy. login is optional: when a
// virtual-number provider is configured, Meebhoomi searches authenticate via
// OTP before the form is filled.
func NewRegistry(portals config.PortalsConfig, solver scrape.Solver, login *auth.Flow, logger *zap.Logger) *Registry {
	shared := &captchaFlow{
		solver:    solver,
		selectors: portals.CaptchaImageSelectors,
		logger:    logger,
	}
	return &Registry{strategies: map[scrape.JobType]scrape.Strategy{
		scrape.JobTypeMeebhoomi1B: &meebhoomiStrategy{
			url:     portals.MeebhoomiRORURL,
			doc:     docROR,
			captcha: shared,
			login:   login,
			logger:  logger.Named("meebhoomi_1b"),
		},
		scrape.JobTypeMeebhoomiAdangal: &meebhoomiStrategy{
			url:     portals.MeebhoomiAdangalURL,
			doc:     docAdangal,
			captcha: shared,
			login:   login,
			logger:  logger.Named("meebhoomi_adangal"),
		},
		scrape.JobTypeTelanganaStatus: &telanganaStrategy{
			url:     portals.TelanganaURL,
			captcha: shared,
			logger:  logger.Named("telangana"),
		},
	}}
}

// Lookup returns the strategy for a job type, or false for unknown types.
func (r *Registry) Lookup(t scrape.JobType) (scrape.Strategy, bool) {
	s, ok := r.strategies[t]
	return s, ok
}

// captchaFlow resolves a captcha challenge for one search submission. The
// manual solution, when present, is used as-is; otherwise the image is
// captured and handed to the automated solver chain.
type captchaFlow struct {
	solver    scrape.Solver
	selectors []string
	logger    *zap.Logger
}

// resolve returns the captcha text to type into the form. When automated
// solving is exhausted it returns *CaptchaRequiredError carrying the
// challenge image so the job can pause for an operator.
func (c *captchaFlow) resolve(ctx context.Context, page scrape.Page, manual string) (string, error) {
	if manual != "" {
		return manual, nil
	}

	image, err := c.capture(ctx, page)
	if err != nil {
		return "", err
	}

	text, err := c.solver.Solve(ctx, image)
	if err != nil {
		if errors.Is(err, scrape.ErrNoSolverAvailable) {
			return "", &scrape.CaptchaRequiredError{ImageBase64: captcha.Encode(image)}
		}
		return "", fmt.Errorf("solve captcha: %w", err)
	}
	return text, nil
}

// capture screenshots the captcha element, falling back to a full-page
// screenshot when no candidate selector matches.
func (c *captchaFlow) capture(ctx context.Context, page scrape.Page) ([]byte, error) {
	for _, sel := range c.selectors {
		image, err := page.ElementScreenshot(ctx, sel)
		if err == nil {
			return image, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	c.logger.Warn("captcha element not found, capturing full page")
	return page.Screenshot(ctx, true)
}
