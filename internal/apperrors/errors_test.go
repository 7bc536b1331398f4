package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantName   string
	}{
		{"validation", fmt.Errorf("%w: field 'text' is required", ErrValidation), http.StatusBadRequest, "validation_error"},
		{"malformed", fmt.Errorf("%w: bad json", ErrMalformedInput), http.StatusBadRequest, "bad_request"},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"not found", fmt.Errorf("message m-1: %w", ErrNotFound), http.StatusNotFound, "not_found"},
		{"transition", fmt.Errorf("%w: open -> realized", ErrInvalidTransition), http.StatusConflict, "invalid_transition"},
		{"state", ErrInvalidState, http.StatusConflict, "invalid_state"},
		{"duplicate", ErrDuplicate, http.StatusConflict, "conflict"},
		{"unknown channel", ErrUnknownChannel, http.StatusUnprocessableEntity, "unknown_channel"},
		{"provider", &ProviderError{StatusCode: 400, Code: 131047, Message: "re-engagement"}, http.StatusBadGateway, "provider_error"},
		{"timeout", NewRetryable(ErrTimeout, "send"), http.StatusGatewayTimeout, "timeout"},
		{"anything else", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			code := Classify(tc.err)
			assert.Equal(t, tc.wantStatus, code.Status)
			assert.Equal(t, tc.wantName, code.Name)
		})
	}
}

func TestRetryableAndFatalUnwrap(t *testing.T) {
	retry := NewRetryable(ErrDatabase, "save message %s", "m-1")
	assert.True(t, IsRetryable(retry))
	assert.ErrorIs(t, retry, ErrDatabase)
	assert.Contains(t, retry.Error(), "save message m-1")

	fatal := NewFatal(ErrValidation, "decode envelope")
	assert.False(t, IsRetryable(fatal))
	assert.ErrorIs(t, fatal, ErrValidation)

	var target *FatalError
	assert.ErrorAs(t, fmt.Errorf("outer: %w", fatal), &target)
}

func TestProviderError(t *testing.T) {
	err := &ProviderError{StatusCode: 401, Message: "token expired"}
	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, fmt.Errorf("reply: %w", err), ErrProvider)
	assert.Equal(t, "provider request failed: status 401: token expired", err.Error())

	withCode := &ProviderError{StatusCode: 400, Code: 100, Message: "invalid param"}
	assert.Equal(t, "provider request failed: status 400: code 100: invalid param", withCode.Error())
}
