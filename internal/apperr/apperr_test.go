package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("submit: %w", ErrAlreadySubmitted)

	assert.True(t, errors.Is(err, ErrAlreadySubmitted))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[int]error{
		http.StatusBadRequest:          Validation("pages are required"),
		http.StatusNotFound:            NotFound("document not found"),
		http.StatusForbidden:           Forbidden("unauthorized access"),
		http.StatusUnauthorized:        Unauthorized("sign in required"),
		http.StatusServiceUnavailable:  Transient(errors.New("deadline"), "storage busy"),
		http.StatusInternalServerError: errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestPublicHidesInternalErrors(t *testing.T) {
	code, msg := Public(errors.New("pq: relation does not exist"))
	assert.Equal(t, "SERVER_ERROR", code)
	assert.Equal(t, "server error", msg)

	code, msg = Public(Validation("page %d is duplicated", 2))
	assert.Equal(t, "VALIDATION_ERROR", code)
	assert.Equal(t, "page 2 is duplicated", msg)
}
