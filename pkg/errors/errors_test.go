package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeInvalidParam, http.StatusBadRequest},
		{CodeContentTooShort, http.StatusBadRequest},
		{CodeEventNotFound, http.StatusNotFound},
		{CodeJobNotFound, http.StatusNotFound},
		{CodeIngestionBusy, http.StatusConflict},
		{CodeTooManyRequests, http.StatusTooManyRequests},
		{CodeStructuredOutput, http.StatusUnprocessableEntity},
		{CodeAcquisitionFailed, http.StatusBadGateway},
		{CodeVectorDBError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "x").HTTPStatus)
		})
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("extract: %w", ErrStructuredOutput.WithDetail("bad json"))

	assert.True(t, stderrors.Is(err, ErrStructuredOutput))
	assert.False(t, stderrors.Is(err, ErrEventNotFound))
	assert.Equal(t, "model returned malformed structured output", ErrStructuredOutput.Message)
	assert.Empty(t, ErrStructuredOutput.Detail, "WithDetail must not mutate the shared error")
}

func TestHasCodeWalksWrappedChain(t *testing.T) {
	root := stderrors.New("connection reset")
	err := Wrap(Wrap(root, CodeVectorDBError, "search"), CodeRetrievalFailed, "retrieve")

	assert.True(t, HasCode(err, CodeRetrievalFailed))
	assert.True(t, HasCode(err, CodeVectorDBError))
	assert.False(t, HasCode(err, CodeCacheError))
	assert.False(t, HasCode(root, CodeVectorDBError))
	assert.ErrorIs(t, err, root)
}

func TestAsAppError(t *testing.T) {
	plain := stderrors.New("boom")
	got := AsAppError(plain)
	assert.Equal(t, CodeUnknown, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.HTTPStatus)

	busy := ErrIngestionBusy.WithError(plain)
	assert.Same(t, busy, AsAppError(fmt.Errorf("run: %w", busy)))
	assert.True(t, IsAppError(busy))
	assert.False(t, IsAppError(plain))
	assert.Equal(t, "[4005] another ingestion is running for this tenant: boom", busy.Error())
}
