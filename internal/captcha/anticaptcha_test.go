package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestAntiCaptcha(t *testing.T, handler http.Handler) *antiCaptchaSolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := newAntiCaptchaSolver("test-key", time.Millisecond, 3)
	s.baseURL = srv.URL
	return s
}

func TestAntiCaptchaPollsUntilReady(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/createTask", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(antiCaptchaCreateResponse{TaskID: 42})
	})
	mux.HandleFunc("/getTaskResult", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			json.NewEncoder(w).Encode(antiCaptchaResultResponse{Status: "processing"})
			return
		}
		resp := antiCaptchaResultResponse{Status: "ready"}
		resp.Solution = &struct {
			Text string `json:"text"`
		}{Text: "W9XK3"}
		json.NewEncoder(w).Encode(resp)
	})

	s := newTestAntiCaptcha(t, mux)
	text, err := s.Solve(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Equal(t, "W9XK3", text)
	require.Equal(t, int32(2), polls.Load())
}

func TestAntiCaptchaTerminalErrorAbandons(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/createTask", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(antiCaptchaCreateResponse{TaskID: 7})
	})
	mux.HandleFunc("/getTaskResult", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(antiCaptchaResultResponse{ErrorID: 12})
	})

	s := newTestAntiCaptcha(t, mux)
	_, err := s.Solve(context.Background(), []byte("img"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "errorId=12")
}

func TestAntiCaptchaPollBudgetIsBounded(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/createTask", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(antiCaptchaCreateResponse{TaskID: 7})
	})
	mux.HandleFunc("/getTaskResult", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(antiCaptchaResultResponse{Status: "processing"})
	})

	s := newTestAntiCaptcha(t, mux)
	_, err := s.Solve(context.Background(), []byte("img"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
}

func TestAntiCaptchaCreateTaskError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/createTask", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(antiCaptchaCreateResponse{ErrorID: 1, ErrorDescription: "key invalid"})
	})

	s := newTestAntiCaptcha(t, mux)
	_, err := s.Solve(context.Background(), []byte("img"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "key invalid")
}
