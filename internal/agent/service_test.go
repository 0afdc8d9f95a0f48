package agent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"portfolioPro/internal/agent"
	"portfolioPro/internal/database"
	"portfolioPro/internal/dbtest"
	"portfolioPro/internal/validation"
)

func validInvite(username, email string) agent.InviteInput {
	return agent.InviteInput{
		StudentEmail:     email,
		StudentUsername:  username,
		StudentFirstName: "Asha",
		StudentLastName:  "Rao",
	}
}

func TestConversionRate(t *testing.T) {
	cases := []struct {
		converted, total int64
		want             float64
	}{
		{0, 0, 0},
		{1, 3, 33.3},
		{2, 3, 66.7},
		{3, 3, 100},
	}
	for _, tc := range cases {
		if got := agent.ConversionRate(tc.converted, tc.total); got != tc.want {
			t.Fatalf("ConversionRate(%d,%d) = %v, want %v", tc.converted, tc.total, got, tc.want)
		}
	}
}

func TestInvite(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	svc := agent.NewService(db, "https://portfolio.example")
	user, profile := dbtest.SeedUser(t, db, "agent1", database.UserTypeAgent)
	dbtest.SeedUser(t, db, "taken", database.UserTypeNormal)

	inv, err := svc.Invite(ctx, user, profile, validInvite("newstudent", "new@example.com"))
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if inv.Status != database.InvitationPending {
		t.Fatalf("status = %q", inv.Status)
	}
	var notes []database.AdminNotification
	db.Find(&notes)
	if len(notes) != 1 || notes[0].InvitationID == nil || *notes[0].InvitationID != inv.ID {
		t.Fatalf("expected admin notification for invitation, got %+v", notes)
	}

	cases := []struct {
		name  string
		in    agent.InviteInput
		field string
	}{
		{"existing username", validInvite("taken", "other@example.com"), "student_username"},
		{"existing user email", validInvite("fresh", "taken@example.com"), "student_email"},
		{"already invited", validInvite("fresh2", "NEW@example.com"), "student_email"},
		{"bad email", validInvite("fresh3", "not-an-email"), "student_email"},
		{"digits in name", agent.InviteInput{StudentEmail: "x@example.com", StudentUsername: "fresh4", StudentFirstName: "A1", StudentLastName: "B"}, "student_first_name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Invite(ctx, user, profile, tc.in)
			var fe validation.FieldErrors
			if !errors.As(err, &fe) {
				t.Fatalf("expected field errors, got %v", err)
			}
			if _, ok := fe[tc.field]; !ok {
				t.Fatalf("expected error on %s, got %v", tc.field, fe)
			}
		})
	}
}

func TestBulkPayAndDashboard(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	svc := agent.NewService(db, "https://portfolio.example/")
	user, profile := dbtest.SeedUser(t, db, "agent1", database.UserTypeAgent)

	if _, err := svc.BulkPay(ctx, profile); !errors.Is(err, agent.ErrNothingToPay) {
		t.Fatalf("expected ErrNothingToPay, got %v", err)
	}

	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		inv := database.StudentInvitation{
			AgentProfileID:   profile.ID,
			StudentEmail:     email,
			StudentUsername:  email[:1] + "student",
			StudentFirstName: "S",
			StudentLastName:  "T",
			Status:           database.InvitationApproved,
		}
		if i == 2 {
			inv.Status = database.InvitationPending
		}
		if err := db.Create(&inv).Error; err != nil {
			t.Fatalf("create invitation: %v", err)
		}
	}

	d, err := svc.Dashboard(ctx, user, profile)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.PendingInvitations != 1 || d.ApprovedStudents != 2 || d.StudentsNeedingPayment != 2 || d.PaymentAmountNeeded != 1398 {
		t.Fatalf("unexpected dashboard: %+v", d)
	}
	if d.ReferralURL != "https://portfolio.example/register?ref=agent1" {
		t.Fatalf("referral url = %q", d.ReferralURL)
	}

	paid, err := svc.BulkPay(ctx, profile)
	if err != nil {
		t.Fatalf("bulk pay: %v", err)
	}
	if paid.StudentCount != 2 || paid.Amount != 1398 || paid.Status != database.AgentPaymentCompleted || paid.OrderID == "" {
		t.Fatalf("unexpected payment: %+v", paid)
	}

	unpaid, err := svc.UnpaidInvitations(ctx, profile)
	if err != nil || len(unpaid) != 0 {
		t.Fatalf("expected no unpaid invitations, got %d %v", len(unpaid), err)
	}
	if _, err := svc.BulkPay(ctx, profile); !errors.Is(err, agent.ErrNothingToPay) {
		t.Fatalf("second bulk pay should have nothing to pay, got %v", err)
	}
}

func TestReferralRowsAndConversion(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	svc := agent.NewService(db, "")
	user, profile := dbtest.SeedUser(t, db, "agent1", database.UserTypeAgent)

	for i, name := range []string{"r1", "r2", "r3"} {
		u, _ := dbtest.SeedUser(t, db, name, database.UserTypeNormal)
		ref := database.Referral{ReferrerID: user.ID, ReferredID: u.ID, RegisteredAt: time.Now().Add(time.Duration(i) * time.Minute)}
		if err := db.Create(&ref).Error; err != nil {
			t.Fatalf("create referral: %v", err)
		}
		if i == 0 {
			db.Model(&ref).Update("is_converted", true)
		}
	}

	rows, err := svc.ReferralRows(ctx, user)
	if err != nil || len(rows) != 3 {
		t.Fatalf("referral rows: %d %v", len(rows), err)
	}
	if rows[0].Username != "r3" || rows[2].Converted != true {
		t.Fatalf("unexpected ordering: %+v", rows)
	}

	d, err := svc.Dashboard(ctx, user, profile)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.ReferralCount != 3 || d.ConversionCount != 1 || d.ConversionRate != 33.3 || d.Rank != 1 || d.TotalAgents != 1 {
		t.Fatalf("unexpected referral stats: %+v", d)
	}
}
