package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCodeSurvivesCloneAndWrap(t *testing.T) {
	cloned := Clone(ErrCaseClosed, "letter L-1 is closed")
	assert.True(t, HasCode(cloned, ErrCaseClosed))
	assert.False(t, errors.Is(cloned, ErrCaseClosed))

	wrapped := fmt.Errorf("upload: %w", cloned)
	assert.True(t, HasCode(wrapped, ErrCaseClosed))
	assert.False(t, HasCode(wrapped, ErrTooLarge))
	assert.False(t, HasCode(errors.New("plain"), ErrCaseClosed))
	assert.False(t, HasCode(nil, ErrCaseClosed))
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	err := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)

	typed := Clone(ErrTooLarge, "")
	assert.Same(t, typed, FromError(typed))
	assert.Nil(t, FromError(nil))
}

func TestLookup(t *testing.T) {
	found, ok := Lookup("SIGNED_IMMUTABLE")
	assert.True(t, ok)
	assert.Same(t, ErrSignedImmutable, found)

	_, ok = Lookup("NOPE")
	assert.False(t, ok)
}

func TestIsSessionError(t *testing.T) {
	assert.True(t, IsSessionError(Clone(ErrSessionExpired, "")))
	assert.True(t, IsSessionError(ErrRoleMismatch))
	assert.False(t, IsSessionError(ErrCaseClosed))
	assert.False(t, IsSessionError(nil))
}
