package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObserversAreNoOpsBeforeInit(t *testing.T) {
	// Must not panic when collectors are unregistered.
	ObserveJob("meebhoomi_1b", "completed", time.Second)
	ObserveCaptchaAttempt("ocr", "failure")
	ObserveSMSActivation("rented")
	ObserveHTTPRequest("GET", "/v1/jobs", 200, 10*time.Millisecond)
	IncActiveBatches()
	DecActiveBatches()
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, Handler())

	ObserveJob("meebhoomi_1b", "completed", time.Second)
	ObserveCaptchaAttempt("2captcha", "success")
	IncActiveBatches()
	DecActiveBatches()
}
