package httpx

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsStateConflict(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("%w: already posted", ErrStateConflict))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRespondErrorMapsTransientWithRetryAfter(t *testing.T) {
	for name, err := range map[string]error{
		"retryable sentinel": fmt.Errorf("%w: pool exhausted", ErrRetryable),
		"deadline":           fmt.Errorf("query: %w", context.DeadlineExceeded),
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, err)
			require.Equal(t, http.StatusServiceUnavailable, rec.Code)
			require.Equal(t, "5", rec.Header().Get("Retry-After"))
		})
	}
}

func TestRespondErrorDefaultsToInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("disk on fire"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "disk on fire")
}
