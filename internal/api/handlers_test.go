package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/transfa/bank-link-service/internal/domain"
)

func TestWriteError_MapsDomainSentinels(t *testing.T) {
	testCases := []struct {
		err        error
		wantStatus int
	}{
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrValidation, http.StatusUnprocessableEntity},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrExternalService, http.StatusBadGateway},
		{fmt.Errorf("something unexpected"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		rec := httptest.NewRecorder()
		writeError(rec, fmt.Errorf("operation failed: %w", tc.err))
		if rec.Code != tc.wantStatus {
			t.Errorf("writeError(%v) = %d, want %d", tc.err, rec.Code, tc.wantStatus)
		}
	}
}
