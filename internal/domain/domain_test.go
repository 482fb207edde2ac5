package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnauthorized, KindOf(NewUnauthorized("nope")))
	assert.Equal(t, KindCommandMalformed, KindOf(NewCommandMalformed("bad")))
	assert.Equal(t, KindSecretExceeded, KindOf(NewSecretExceeded("quota")))
	assert.Equal(t, KindUnexpected, KindOf(errors.New("plain")))

	// Wrapped domain errors keep their kind.
	wrapped := fmt.Errorf("handler: %w", NewCommandMalformed("bad"))
	assert.Equal(t, KindCommandMalformed, KindOf(wrapped))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NewUnauthorized("nope"), http.StatusUnauthorized},
		{NewCommandMalformed("bad"), http.StatusBadRequest},
		{NewSecretExceeded("quota"), http.StatusTooManyRequests},
		{NewUnexpected("boom", errors.New("io")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.status, HTTPStatus(tc.err))
	}
}

func TestPublicMessageNeverLeaksInternals(t *testing.T) {
	err := NewUnexpected("argon2 failure", errors.New("phc=$argon2id$..."))
	assert.Equal(t, "internal error", PublicMessage(err))
	assert.Equal(t, "invalid page_size", PublicMessage(NewCommandMalformed("invalid page_size")))
}

func TestNormalizePage(t *testing.T) {
	page, size, err := NormalizePage(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page)
	assert.Equal(t, PageSizeDefault, size)

	page, size, err = NormalizePage(3, 50)
	require.NoError(t, err)
	assert.Equal(t, 3, page)
	assert.Equal(t, 50, size)
	assert.Equal(t, 100, PageOffset(page, size))

	_, _, err = NormalizePage(1, PageSizeMax)
	require.Error(t, err)
	assert.Equal(t, KindCommandMalformed, KindOf(err))

	_, _, err = NormalizePage(1, -1)
	require.Error(t, err)
}
