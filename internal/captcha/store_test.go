package captcha

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSolutionStoreTakeOnce(t *testing.T) {
	t.Parallel()

	store := NewSolutionStore()
	jobID := uuid.New()

	store.Put(jobID, "ABC123")
	require.True(t, store.Has(jobID))

	solution, ok := store.Take(jobID)
	require.True(t, ok)
	require.Equal(t, "ABC123", solution)

	// Second take for the same job must find nothing.
	_, ok = store.Take(jobID)
	require.False(t, ok)
	require.False(t, store.Has(jobID))
}

func TestSolutionStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewSolutionStore()
	_, ok := store.Take(uuid.New())
	require.False(t, ok)
}

func TestBase64RoundTrip(t *testing.T) {
	t.Parallel()

	original := []byte{0x89, 'P', 'N', 'G', 0x00, 0xFF, 0x10}
	decoded, err := Decode(Encode(original))
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func TestDecodeRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	_, err := Decode("not-base64!!!")
	require.Error(t, err)
}
