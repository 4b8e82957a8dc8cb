package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atlasland/landscraper/internal/scrape"
)

const antiCaptchaBaseURL = "https://api.anti-captcha.com"

// antiCaptchaSolver speaks the Anti-Captcha JSON protocol: createTask yields
// a task id, getTaskResult is polled on a fixed interval. "processing" means
// poll again; a non-zero errorId means abandon. Exceeding the poll budget is
// a timeout failure.
type antiCaptchaSolver struct {
	apiKey          string
	baseURL         string
	pollInterval    time.Duration
	maxPollAttempts int
	httpClient      *http.Client
}

func newAntiCaptchaSolver(apiKey string, pollInterval time.Duration, maxPollAttempts int) *antiCaptchaSolver {
	return &antiCaptchaSolver{
		apiKey:          apiKey,
		baseURL:         antiCaptchaBaseURL,
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *antiCaptchaSolver) Name() string { return "anticaptcha" }

type antiCaptchaTask struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

type antiCaptchaCreateRequest struct {
	ClientKey string          `json:"clientKey"`
	Task      antiCaptchaTask `json:"task"`
}

type antiCaptchaCreateResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type antiCaptchaResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type antiCaptchaResultResponse struct {
	ErrorID  int    `json:"errorId"`
	Status   string `json:"status"`
	Solution *struct {
		Text string `json:"text"`
	} `json:"solution"`
}

func (s *antiCaptchaSolver) Solve(ctx context.Context, image []byte) (string, error) {
	taskID, err := s.createTask(ctx, image)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < s.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollInterval):
		}

		var result antiCaptchaResultResponse
		if err := s.post(ctx, "/getTaskResult", antiCaptchaResultRequest{
			ClientKey: s.apiKey,
			TaskID:    taskID,
		}, &result); err != nil {
			return "", err
		}

		if result.ErrorID != 0 {
			return "", &scrape.ProviderError{Provider: "anticaptcha", Message: fmt.Sprintf("task failed (errorId=%d)", result.ErrorID)}
		}
		if result.Status == "ready" && result.Solution != nil {
			return result.Solution.Text, nil
		}
		// status "processing": poll again
	}

	return "", &scrape.ProviderError{Provider: "anticaptcha", Message: fmt.Sprintf("timed out after %d polls", s.maxPollAttempts)}
}

func (s *antiCaptchaSolver) createTask(ctx context.Context, image []byte) (int64, error) {
	var created antiCaptchaCreateResponse
	err := s.post(ctx, "/createTask", antiCaptchaCreateRequest{
		ClientKey: s.apiKey,
		Task: antiCaptchaTask{
			Type: "ImageToTextTask",
			Body: base64.StdEncoding.EncodeToString(image),
		},
	}, &created)
	if err != nil {
		return 0, err
	}
	if created.ErrorID != 0 {
		return 0, &scrape.ProviderError{Provider: "anticaptcha", Message: "create task: " + created.ErrorDescription}
	}
	if created.TaskID == 0 {
		return 0, &scrape.ProviderError{Provider: "anticaptcha", Message: "create task: no task id returned"}
	}
	return created.TaskID, nil
}

func (s *antiCaptchaSolver) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal anticaptcha request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build anticaptcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("anticaptcha %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode anticaptcha response: %w", err)
	}
	return nil
}
