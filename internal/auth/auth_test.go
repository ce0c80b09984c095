package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHMACVerifier_RoundTrip(t *testing.T) {
	v := NewHMACVerifier("test-secret")

	token := v.Sign("user-42")
	userID, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("Verify() = %q, want user-42", userID)
	}
}

func TestHMACVerifier_RejectsBadTokens(t *testing.T) {
	v := NewHMACVerifier("test-secret")
	good := v.Sign("user-42")

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no separator", "abcdef"},
		{"garbage base64", "!!.!!"},
		{"truncated signature", good[:len(good)-4]},
		{"wrong secret", NewHMACVerifier("other-secret").Sign("user-42")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(tc.token); err != ErrInvalidToken {
				t.Errorf("Verify(%q) = %v, want ErrInvalidToken", tc.token, err)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := StaticVerifier{"good-token": "user-1"}

	var gotUser string
	handler := Middleware(v, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserID(r.Context())
	}))

	// Valid bearer token passes through with the user on context.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if gotUser != "user-1" {
		t.Errorf("context user = %q, want user-1", gotUser)
	}

	// Missing and invalid tokens get 401 without invoking the handler.
	for _, header := range []string{"", "Bearer bad", "Basic abc"} {
		gotUser = ""
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
		if gotUser != "" {
			t.Errorf("header %q: handler ran without auth", header)
		}
	}
}
