package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newJWTService(t *testing.T, bootstrap []BootstrapUser) *Service {
	t.Helper()
	store, err := NewMemoryStore(bootstrap)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	svc, err := NewService(context.Background(), Config{
		Mode: ModeJWT,
		JWT: JWTOptions{
			Secret:       "test-secret",
			Issuer:       "chatgate",
			TTLSeconds:   60,
			AllowRefresh: true,
		},
	}, store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestJWTPasswordRoundtrip(t *testing.T) {
	svc := newJWTService(t, []BootstrapUser{
		{Username: "alice", Password: "s3cret", Scopes: []string{ScopeChat, ScopeJobsRead}},
	})

	pair, err := svc.Authenticate(context.Background(), TokenRequest{
		Username: "alice",
		Password: "s3cret",
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if pair.AccessToken == "" || pair.TokenType != "Bearer" {
		t.Fatalf("unexpected token pair: %+v", pair)
	}
	if pair.RefreshToken == "" {
		t.Fatal("expected refresh token when refresh is allowed")
	}

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("AuthenticateRequest: %v", err)
	}
	if subject.Username != "alice" {
		t.Fatalf("subject = %q, want alice", subject.Username)
	}
	if !subject.HasScope(ScopeChat) || subject.HasScope(ScopeJobsWrite) {
		t.Fatalf("unexpected scopes: %v", subject.Scopes)
	}

	// 刷新令牌换取新令牌对。
	renewed, err := svc.Authenticate(context.Background(), TokenRequest{
		GrantType: "refresh_token",
		Password:  pair.RefreshToken,
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if renewed.AccessToken == "" {
		t.Fatal("expected renewed access token")
	}
}

func TestJWTRejectsBadCredentials(t *testing.T) {
	svc := newJWTService(t, []BootstrapUser{
		{Username: "alice", Password: "s3cret", Scopes: []string{ScopeChat}},
		{Username: "mallory", Password: "pw", Disabled: true},
	})

	if _, err := svc.Authenticate(context.Background(), TokenRequest{Username: "alice", Password: "wrong"}); err != ErrInvalidCredentials {
		t.Fatalf("wrong password: got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), TokenRequest{Username: "nobody", Password: "pw"}); err != ErrInvalidCredentials {
		t.Fatalf("unknown user: got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), TokenRequest{Username: "mallory", Password: "pw"}); err != ErrSubjectRevoked {
		t.Fatalf("disabled user: got %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer not.a.token"); err != ErrInvalidToken {
		t.Fatalf("garbage token: got %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), ""); err != ErrMissingToken {
		t.Fatalf("missing header: got %v", err)
	}
}

func TestMiddlewareEnforcesScopes(t *testing.T) {
	svc := newJWTService(t, []BootstrapUser{
		{Username: "viewer", Password: "pw", Scopes: []string{ScopeJobsRead}},
	})
	pair, err := svc.Authenticate(context.Background(), TokenRequest{Username: "viewer", Password: "pw"})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	handler := svc.Middleware(MiddlewareConfig{
		RequiredScopes: map[string][]string{
			http.MethodGet:  {ScopeJobsRead},
			http.MethodPost: {ScopeJobsWrite},
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := SubjectFromContext(r.Context())
		if subject == nil {
			t.Error("subject missing from context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		method string
		token  string
		want   int
	}{
		{http.MethodGet, pair.AccessToken, http.StatusOK},
		{http.MethodPost, pair.AccessToken, http.StatusForbidden},
		{http.MethodGet, "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/api/v1/jobs", nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s with token=%t: status = %d, want %d", tc.method, tc.token != "", rec.Code, tc.want)
		}
	}
}

func TestOAuthIntrospection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		active := r.PostFormValue("token") == "valid-token"
		json.NewEncoder(w).Encode(map[string]any{
			"active":   active,
			"username": "bob",
			"scope":    "chat:invoke media:invoke",
		})
	}))
	defer server.Close()

	svc, err := NewService(context.Background(), Config{
		Mode: ModeOAuth,
		OAuth: OAuthOptions{
			IntrospectionURL: server.URL,
			ClientID:         "chatgate",
			ClientSecret:     "secret",
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer valid-token")
	if err != nil {
		t.Fatalf("AuthenticateRequest: %v", err)
	}
	if subject.Username != "bob" || !subject.HasScope(ScopeMedia) {
		t.Fatalf("unexpected subject: %+v", subject)
	}

	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer expired"); err != ErrInvalidToken {
		t.Fatalf("inactive token: got %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hashed, err := HashPassword("安全密码123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !verifyPassword(hashed, "安全密码123") {
		t.Fatal("expected password to verify")
	}
	if verifyPassword(hashed, "别的密码") {
		t.Fatal("wrong password must not verify")
	}
	if _, err := HashPassword("  "); err == nil {
		t.Fatal("blank password must be rejected")
	}
}
