package odataerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatusCodes(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
		client bool
	}{
		{KindDefect, http.StatusInternalServerError, false},
		{KindBadRequest, http.StatusBadRequest, true},
		{KindPayloadTooLarge, http.StatusRequestEntityTooLarge, true},
		{KindNotFound, http.StatusNotFound, true},
		{KindPreconditionFailed, http.StatusPreconditionFailed, true},
		{KindProvider, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := New(tt.kind, CodeInvalidValue, "", "boom")
			assert.Equal(t, tt.status, err.StatusCode())
			assert.Equal(t, tt.client, IsClientError(err))
		})
	}
}

func TestErrorMessageAndWrapping(t *testing.T) {
	cause := errors.New("parse failure")
	err := BadRequest(CodeInvalidValue, "Price", "value %q is not a decimal", "abc").WithCause(cause)

	assert.Equal(t, `value "abc" is not a decimal (target Price): parse failure [invalid-value]`, err.Error())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("reading entry: %w", err)
	assert.Equal(t, KindBadRequest, KindOf(wrapped))
	assert.Equal(t, CodeInvalidValue, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeInvalidValue))
	assert.True(t, IsClientError(wrapped))

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, err, got)
}

func TestUnclassifiedErrors(t *testing.T) {
	err := errors.New("disk full")
	assert.Equal(t, KindProvider, KindOf(err))
	assert.Equal(t, Code(""), CodeOf(err))
	assert.False(t, IsClientError(err))
	assert.False(t, Is(nil, CodeInvalidValue))
}

func TestToModel(t *testing.T) {
	body := Defect(CodeNestingMismatch, "end of %s does not match", "ResourceSet").ToModel()
	assert.Equal(t, "structural-nesting-mismatch", body.Code)
	assert.Equal(t, "end of ResourceSet does not match", body.Message)
	assert.Nil(t, body.InnerError)

	body = Provider(CodeInvalidActionDescriptor, "Demo.Discount", "nil descriptor").WithCause(errors.New("x")).ToModel()
	assert.Equal(t, "Demo.Discount", body.Target)
	assert.Equal(t, "x", body.InnerError["message"])
}
