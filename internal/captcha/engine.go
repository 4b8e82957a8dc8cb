// Package captcha resolves captcha images through an ordered fallback chain
// of automated solvers, and holds operator-submitted manual solutions.
package captcha

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlasland/landscraper/internal/metrics"
	"github.com/atlasland/landscraper/internal/scrape"
)

// Config selects which automated methods the engine may use. A missing key
// or disabled toggle skips the method; it never reorders the chain.
type Config struct {
	OCREnabled      bool
	TesseractBinary string
	TwoCaptchaKey   string
	AntiCaptchaKey  string
	PollInterval    time.Duration
	MaxPollAttempts int
	Timeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.TesseractBinary == "" {
		c.TesseractBinary = "tesseract"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = 24
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	return c
}

// solver is one automated solving method in the chain.
type solver interface {
	Name() string
	Solve(ctx context.Context, image []byte) (string, error)
}

// Engine tries each configured solver in a fixed order: local OCR, then
// 2Captcha, then Anti-Captcha. A step's failure is non-fatal; control falls
// through to the next. Manual fallback is not part of the engine — the
// strategy layer surfaces a CaptchaRequiredError when the engine exhausts
// every method.
type Engine struct {
	solvers []solver
	logger  *zap.Logger
}

// NewEngine builds the solver chain from config.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	cfg = cfg.withDefaults()
	var solvers []solver
	if cfg.OCREnabled {
		solvers = append(solvers, newOCRSolver(cfg.TesseractBinary))
	}
	if cfg.TwoCaptchaKey != "" {
		solvers = append(solvers, newTwoCaptchaSolver(cfg.TwoCaptchaKey, cfg.Timeout, cfg.PollInterval))
	}
	if cfg.AntiCaptchaKey != "" {
		solvers = append(solvers, newAntiCaptchaSolver(cfg.AntiCaptchaKey, cfg.PollInterval, cfg.MaxPollAttempts))
	}
	return &Engine{solvers: solvers, logger: logger}
}

// Solve runs the chain and returns the first successful decode. It fails
// with scrape.ErrNoSolverAvailable only when every configured method is
// exhausted.
func (e *Engine) Solve(ctx context.Context, image []byte) (string, error) {
	e.logger.Info("solving captcha", zap.Int("bytes", len(image)), zap.Int("methods", len(e.solvers)))

	for _, s := range e.solvers {
		text, err := s.Solve(ctx, image)
		if err != nil {
			metrics.ObserveCaptchaAttempt(s.Name(), "failure")
			e.logger.Warn("captcha method failed",
				zap.String("method", s.Name()),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveCaptchaAttempt(s.Name(), "success")
		e.logger.Info("captcha solved", zap.String("method", s.Name()))
		return text, nil
	}

	return "", scrape.ErrNoSolverAvailable
}
