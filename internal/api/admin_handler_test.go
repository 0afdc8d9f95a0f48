package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"portfolioPro/internal/api/middleware"
	"portfolioPro/internal/config"
	"portfolioPro/internal/database"
	"portfolioPro/internal/dbtest"
)

func seedStaff(t *testing.T, s *testServer) (database.User, database.Profile) {
	t.Helper()
	user, profile := dbtest.SeedUser(t, s.db, "staff", database.UserTypeNormal)
	s.db.Model(&user).UpdateColumn("is_staff", true)
	user.IsStaff = true
	return user, profile
}

func TestInviteApproveAndFirstLogin(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	agentUser, agentProfile := dbtest.SeedUser(t, s.db, "agent1", database.UserTypeAgent)
	staffUser, staffProfile := seedStaff(t, s)

	rec := s.do(t, http.MethodPost, "/api/v1/agent/invitations", s.token(t, agentUser, agentProfile), map[string]any{
		"student_email":      "priya@school.example",
		"student_username":   "priya",
		"student_first_name": "Priya",
		"student_last_name":  "Shah",
	})
	expectStatus(t, rec, http.StatusCreated)
	invID := uint(decodeBody(t, rec)["id"].(float64))

	staffToken := s.token(t, staffUser, staffProfile)
	rec = s.do(t, http.MethodGet, "/api/v1/admin/approvals", staffToken, nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "priya") {
		t.Fatalf("pending invitation missing: %s", rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/approvals/%d/approve", invID), staffToken, map[string]any{})
	expectStatus(t, rec, http.StatusOK)
	tempPassword, _ := decodeBody(t, rec)["temp_password"].(string)
	if tempPassword == "" {
		t.Fatalf("missing temp password: %s", rec.Body.String())
	}
	if len(s.queue.emails) != 1 || s.queue.emails[0].To != "priya@school.example" {
		t.Fatalf("credentials email = %+v", s.queue.emails)
	}

	// 再次批准同一邀请会冲突。
	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/approvals/%d/approve", invID), staffToken, map[string]any{})
	expectStatus(t, rec, http.StatusConflict)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"username": "priya", "password": tempPassword})
	expectStatus(t, rec, http.StatusOK)
	body := decodeBody(t, rec)
	if body["redirect"] != middleware.ChangePasswordPath || body["must_change_password"] != true {
		t.Fatalf("unexpected login body: %v", body)
	}
}

func TestAdminRoutesRequireStaff(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	user, profile := dbtest.SeedUser(t, s.db, "agent1", database.UserTypeAgent)

	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/admin/stats", s.token(t, user, profile), nil), http.StatusForbidden)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/admin/stats", "", nil), http.StatusUnauthorized)

	normal, normalProfile := dbtest.SeedUser(t, s.db, "alice", database.UserTypeNormal)
	expectStatus(t, s.do(t, http.MethodGet, "/api/v1/agent/dashboard", s.token(t, normal, normalProfile), nil), http.StatusForbidden)
}

func TestAdminBlockUser(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	staffUser, staffProfile := seedStaff(t, s)
	target, _ := dbtest.SeedUser(t, s.db, "alice", database.UserTypeNormal)
	token := s.token(t, staffUser, staffProfile)

	rec := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/users/%d/block", target.ID), token, map[string]any{"reason": "spam"})
	expectStatus(t, rec, http.StatusOK)

	var profile database.Profile
	s.db.Where("user_id = ?", target.ID).First(&profile)
	if !profile.IsBlocked || profile.BlockReason != "spam" {
		t.Fatalf("profile not blocked: %+v", profile)
	}

	// 管理员不能封禁自己。
	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/users/%d/block", staffUser.ID), token, map[string]any{"reason": "x"})
	expectStatus(t, rec, http.StatusForbidden)
}

func TestAgentExportsCSV(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	agentUser, agentProfile := dbtest.SeedUser(t, s.db, "agent1", database.UserTypeAgent)

	rec := s.do(t, http.MethodGet, "/api/v1/agent/exports/invitations.csv", s.token(t, agentUser, agentProfile), nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "invited_students.csv") {
		t.Fatalf("content disposition = %q", rec.Header().Get("Content-Disposition"))
	}
}

func TestMonitoringRequiresInternalSecret(t *testing.T) {
	s := newTestServer(t, config.LimitsConfig{})
	expectStatus(t, s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"username": "ghost", "password": "whatever1"}), http.StatusUnauthorized)

	expectStatus(t, s.do(t, http.MethodGet, "/internal/monitoring", "", nil), http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/internal/monitoring", nil)
	req.Header.Set("X-Internal-Secret", testInternalSecret)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)
	counts, ok := decodeBody(t, rec)["counts"].(map[string]any)
	if !ok || counts["security_events"] != float64(1) {
		t.Fatalf("unexpected snapshot: %s", rec.Body.String())
	}
}
