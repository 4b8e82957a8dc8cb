package captcha

import (
	"context"
	"encoding/base64"
	"time"

	api2captcha "github.com/2captcha/2captcha-go"

	"github.com/atlasland/landscraper/internal/scrape"
)

// twoCaptchaSolver submits the image as a base64 normal-captcha task to the
// 2Captcha service. The client library handles the submit/poll protocol;
// polling is bounded by the configured timeout, never an infinite wait.
type twoCaptchaSolver struct {
	client *api2captcha.Client
}

func newTwoCaptchaSolver(apiKey string, timeout, pollInterval time.Duration) *twoCaptchaSolver {
	client := api2captcha.NewClient(apiKey)
	client.DefaultTimeout = int(timeout.Seconds())
	client.PollingInterval = int(pollInterval.Seconds())
	return &twoCaptchaSolver{client: client}
}

func (s *twoCaptchaSolver) Name() string { return "2captcha" }

func (s *twoCaptchaSolver) Solve(ctx context.Context, image []byte) (string, error) {
	req := api2captcha.Request{
		Params: map[string]string{
			"method": "base64",
			"body":   base64.StdEncoding.EncodeToString(image),
		},
	}
	code, _, err := s.client.Solve(req)
	if err != nil {
		return "", &scrape.ProviderError{Provider: "2captcha", Message: err.Error()}
	}
	return code, nil
}
