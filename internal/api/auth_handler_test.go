package api

import (
	"net/http"
	"strings"
	"testing"

	"portfolioPro/internal/auth"
	"portfolioPro/internal/config"
	"portfolioPro/internal/database"
	"portfolioPro/internal/dbtest"
)

func registerBody(username string) map[string]any {
	return map[string]any{
		"username":         username,
		"email":            username + "@mail.example",
		"password":         "s3cret-pass",
		"password_confirm": "s3cret-pass",
		"agree_terms":      true,
	}
}

func TestRegisterCreatesNormalUser(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})

	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", "", registerBody("alice"))
	expectStatus(t, rec, http.StatusCreated)
	body := decodeBody(t, rec)
	if body["access_token"] == "" || body["role"] != auth.RoleNormal {
		t.Fatalf("unexpected body: %v", body)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), refreshTokenCookieName) {
		t.Fatalf("refresh cookie not set: %q", rec.Header().Get("Set-Cookie"))
	}

	var profile database.Profile
	if err := s.db.Joins("JOIN users ON users.id = profiles.user_id").Where("users.username = ?", "alice").First(&profile).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if profile.UserType != database.UserTypeNormal || !profile.TermsAccepted {
		t.Fatalf("unexpected profile: type=%s terms=%v", profile.UserType, profile.TermsAccepted)
	}
}

func TestRegisterRecordsAgentReferral(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	agentUser, _ := dbtest.SeedUser(t, s.db, "agent1", database.UserTypeAgent)

	body := registerBody("bob")
	body["ref"] = "agent1"
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/auth/register", "", body), http.StatusCreated)

	var n int64
	s.db.Model(&database.Referral{}).Where("referrer_id = ?", agentUser.ID).Count(&n)
	if n != 1 {
		t.Fatalf("referrals = %d, want 1", n)
	}
}

func TestRegisterRejectsDuplicatesAndMissingTerms(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	dbtest.SeedUser(t, s.db, "alice", database.UserTypeNormal)

	body := registerBody("alice")
	body["email"] = "alice@example.com"
	body["agree_terms"] = false
	errs := fieldErrorKeys(t, s.do(t, http.MethodPost, "/api/v1/auth/register", "", body))
	for _, field := range []string{"username", "email", "agree_terms"} {
		if _, ok := errs[field]; !ok {
			t.Fatalf("missing %s error: %v", field, errs)
		}
	}

	body = registerBody("carol")
	body["password_confirm"] = "other"
	errs = fieldErrorKeys(t, s.do(t, http.MethodPost, "/api/v1/auth/register", "", body))
	if _, ok := errs["password_confirm"]; !ok {
		t.Fatalf("missing password_confirm error: %v", errs)
	}
}

func TestLoginRedirectsByRole(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/auth/register", "", registerBody("alice")), http.StatusCreated)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"username": "Alice", "password": "s3cret-pass"})
	expectStatus(t, rec, http.StatusOK)
	body := decodeBody(t, rec)
	if body["redirect"] != auth.HomeFor(auth.RoleNormal) {
		t.Fatalf("redirect = %v", body["redirect"])
	}

	claims, err := s.auth.ValidateToken(body["access_token"].(string))
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.TokenType != auth.TokenTypeAccess || claims.Role != auth.RoleNormal {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLoginFailureIsRecorded(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/auth/register", "", registerBody("alice")), http.StatusCreated)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"username": "alice", "password": "wrong-pass"})
	expectStatus(t, rec, http.StatusUnauthorized)

	events := s.recorder.SecurityEvents()
	if len(events) != 1 || events[0].Kind != eventLoginFailed {
		t.Fatalf("unexpected security events: %+v", events)
	}
}

func TestLoginBlockedUser(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/auth/register", "", registerBody("alice")), http.StatusCreated)
	var user database.User
	s.db.Where("username = ?", "alice").First(&user)
	s.db.Model(&database.Profile{}).Where("user_id = ?", user.ID).
		Updates(map[string]any{"is_blocked": true, "block_reason": "spam"})

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"username": "alice", "password": "s3cret-pass"})
	expectStatus(t, rec, http.StatusForbidden)
	if decodeBody(t, rec)["reason"] != "spam" {
		t.Fatalf("missing block reason: %s", rec.Body.String())
	}
}

func TestMustChangePasswordGate(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	user, profile := dbtest.SeedUser(t, s.db, "student1", database.UserTypeStudent)
	hash, err := auth.HashPassword("temp-pass-123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	s.db.Model(&user).Updates(map[string]any{"password_hash": hash, "must_change_password": true})
	user.MustChangePassword = true

	token := s.token(t, user, profile)
	rec := s.do(t, http.MethodGet, "/api/v1/portfolios", token, nil)
	expectStatus(t, rec, http.StatusForbidden)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/change-password", token, map[string]any{
		"current_password": "temp-pass-123",
		"new_password":     "brand-new-pass",
		"confirm_password": "brand-new-pass",
	})
	expectStatus(t, rec, http.StatusOK)
	fresh := decodeBody(t, rec)["access_token"].(string)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/portfolios", fresh, nil), http.StatusOK)

	var reloaded database.User
	s.db.First(&reloaded, user.ID)
	if reloaded.MustChangePassword || !auth.CheckPasswordHash("brand-new-pass", reloaded.PasswordHash) {
		t.Fatalf("password not rotated: %+v", reloaded)
	}
}
