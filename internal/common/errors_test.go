package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"input validation", ValidationErrorf("bad"), http.StatusBadRequest},
		{"missing artifact", MissingArtifactError("doc", "raw_text"), http.StatusBadRequest},
		{"result validation", MissingKeyError("kw"), http.StatusBadGateway},
		{"too large", NewAppError(KindPayloadTooLarge, "big", nil), http.StatusRequestEntityTooLarge},
		{"template missing", TemplateMissingError("seo"), http.StatusInternalServerError},
		{"transport", UpstreamTransportError(errors.New("dial")), http.StatusBadGateway},
		{"protocol", UpstreamProtocolErrorf("status %d", 500), http.StatusBadGateway},
		{"job failure", JobFailureError("failed", "rate_limited"), http.StatusBadGateway},
		{"extraction", ExtractionError("no JSON object found"), http.StatusBadGateway},
		{"poll timeout", PollTimeoutError(3, nil), http.StatusGatewayTimeout},
		{"persistence", PersistenceError("write", nil), http.StatusInternalServerError},
		{"conflict", ConflictErrorf("busy"), http.StatusConflict},
		{"wrapped", fmt.Errorf("outer: %w", JobFailureError("expired", "")), http.StatusBadGateway},
		{"bare not found", fmt.Errorf("get: %w", ErrNotFound), http.StatusNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestAppErrorMatching(t *testing.T) {
	err := fmt.Errorf("stage seo: %w", JobFailureError("failed", "rate_limited"))

	assert.True(t, errors.Is(err, &AppError{Kind: KindJobFailure}))
	assert.False(t, errors.Is(err, &AppError{Kind: KindPollTimeout}))
	assert.Equal(t, KindJobFailure, KindOf(err))
	assert.True(t, IsKind(err, KindJobFailure))
	assert.Equal(t, KindInternal, KindOf(errors.New("x")))

	var ae *AppError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "rate_limited", ae.Reason)
	assert.Contains(t, ae.Error(), "rate_limited")
}

func TestMissingArtifactUnwrapsToNotFound(t *testing.T) {
	err := MissingArtifactError("ACME-100", "provider_file_ref")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "provider_file_ref", err.Key)
}
