package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"
)

func readAll(t *testing.T, b *bytes.Buffer) [][]string {
	t.Helper()
	records, err := csv.NewReader(b).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func TestUsersCSV(t *testing.T) {
	var buf bytes.Buffer
	err := Users(&buf, []UserRow{{Username: "ann", Email: "ann@example.com", UserType: "agent", Blocked: true}, {Username: "bo, jr", UserType: "normal"}})
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	rec := readAll(t, &buf)
	if len(rec) != 3 || rec[0][3] != "Blocked" || rec[1][3] != "Yes" || rec[2][0] != "bo, jr" || rec[2][3] != "No" {
		t.Fatalf("unexpected records %v", rec)
	}
}

func TestReferralInvitationAgentCSV(t *testing.T) {
	day := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	if err := Referrals(&buf, []ReferralRow{{Username: "u", Email: "u@x", RegisteredOn: day, Converted: true}}); err != nil {
		t.Fatalf("referrals: %v", err)
	}
	rec := readAll(t, &buf)
	if rec[0][2] != "Registered On" || rec[1][2] != "2025-01-02" || rec[1][3] != "Yes" {
		t.Fatalf("unexpected referrals %v", rec)
	}

	buf.Reset()
	if err := Invitations(&buf, []InvitationRow{{Name: "S", Email: "s@x", Status: "approved", InvitedOn: day, ProfileStatus: "Active"}}); err != nil {
		t.Fatalf("invitations: %v", err)
	}
	rec = readAll(t, &buf)
	want := []string{"Name", "Email", "Status", "Invitation Date", "Profile Status"}
	for i, h := range want {
		if rec[0][i] != h {
			t.Fatalf("header[%d] = %q", i, rec[0][i])
		}
	}

	buf.Reset()
	if err := TopAgents(&buf, []AgentRow{{Username: "agent", TotalReferrals: 12}}); err != nil {
		t.Fatalf("agents: %v", err)
	}
	rec = readAll(t, &buf)
	if rec[0][0] != "Agent Username" || rec[1][1] != "12" {
		t.Fatalf("unexpected agents %v", rec)
	}
}
