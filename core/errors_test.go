package core

import (
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestServiceErrorMapper_Substrings(t *testing.T) {
	cases := []struct {
		err      error
		category goerrors.Category
		textCode string
		code     int
	}{
		{fmt.Errorf("core: token not found"), goerrors.CategoryNotFound, ServiceErrorTokenNotFound, http.StatusNotFound},
		{fmt.Errorf("core: oauth state expired"), goerrors.CategoryAuth, ServiceErrorStateInvalid, http.StatusUnauthorized},
		{fmt.Errorf("core: authorization verifier not found"), goerrors.CategoryAuth, ServiceErrorVerifierMissing, http.StatusUnauthorized},
		{fmt.Errorf("core: reauthorization required"), goerrors.CategoryAuth, ServiceErrorReauthRequired, http.StatusUnauthorized},
		{fmt.Errorf("core: refresh lock already held"), goerrors.CategoryConflict, ServiceErrorRefreshLocked, http.StatusConflict},
		{fmt.Errorf("core: authorization attempts rate limited"), goerrors.CategoryRateLimit, ServiceErrorRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("decryption failed, data may be corrupted"), goerrors.CategoryInternal, ServiceErrorDecryptionFailed, http.StatusInternalServerError},
		{fmt.Errorf("remote says: submission already exists"), goerrors.CategoryConflict, ServiceErrorBackupConflict, http.StatusConflict},
		{fmt.Errorf("hmrc is temporarily unavailable"), goerrors.CategoryExternal, ServiceErrorProviderUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("core: user id is required"), goerrors.CategoryBadInput, ServiceErrorBadInput, http.StatusBadRequest},
	}

	for _, tc := range cases {
		mapped := serviceErrorMapper(tc.err)
		if mapped == nil {
			t.Fatalf("%v: expected a mapped error", tc.err)
		}
		if mapped.Category != tc.category {
			t.Fatalf("%v: expected category %s, got %s", tc.err, tc.category, mapped.Category)
		}
		if mapped.TextCode != tc.textCode {
			t.Fatalf("%v: expected text code %s, got %s", tc.err, tc.textCode, mapped.TextCode)
		}
		if mapped.Code != tc.code {
			t.Fatalf("%v: expected http code %d, got %d", tc.err, tc.code, mapped.Code)
		}
	}
}

func TestServiceErrorMapper_PreservesRichErrors(t *testing.T) {
	source := goerrors.New("quota exhausted", goerrors.CategoryRateLimit).WithTextCode("CUSTOM_CODE")
	mapped := serviceErrorMapper(source)
	if mapped.TextCode != "CUSTOM_CODE" {
		t.Fatalf("existing text codes must be preserved, got %s", mapped.TextCode)
	}
	if mapped.Code != http.StatusTooManyRequests {
		t.Fatalf("missing http code should be filled from the category, got %d", mapped.Code)
	}
}

func TestServiceErrorMapper_Nil(t *testing.T) {
	if mapped := serviceErrorMapper(nil); mapped != nil {
		t.Fatalf("nil errors should map to nil, got %v", mapped)
	}
}
