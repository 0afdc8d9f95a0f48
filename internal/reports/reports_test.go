package reports_test

import (
	"context"
	"testing"
	"time"

	"portfolioPro/internal/database"
	"portfolioPro/internal/dbtest"
	"portfolioPro/internal/reports"
)

func TestTopAgentsAndRank(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()

	agentA, _ := dbtest.SeedUser(t, db, "agent_a", database.UserTypeAgent)
	agentB, _ := dbtest.SeedUser(t, db, "agent_b", database.UserTypeAgent)
	agentC, _ := dbtest.SeedUser(t, db, "agent_c", database.UserTypeAgent)

	refer := func(referrer database.User, name string) {
		u, _ := dbtest.SeedUser(t, db, name, database.UserTypeNormal)
		if err := db.Create(&database.Referral{ReferrerID: referrer.ID, ReferredID: u.ID, RegisteredAt: time.Now()}).Error; err != nil {
			t.Fatalf("create referral: %v", err)
		}
	}
	refer(agentA, "u1")
	refer(agentB, "u2")
	refer(agentB, "u3")

	top, err := reports.TopAgents(ctx, db, 5)
	if err != nil {
		t.Fatalf("top agents: %v", err)
	}
	if len(top) != 2 || top[0].Username != "agent_b" || top[0].Total != 2 || top[1].Username != "agent_a" {
		t.Fatalf("unexpected ranking: %+v", top)
	}

	rank, total, err := reports.Rank(ctx, db, agentA.ID)
	if err != nil || rank != 2 || total != 2 {
		t.Fatalf("rank of agent_a = %d/%d, %v", rank, total, err)
	}
	if rank, _, _ := reports.Rank(ctx, db, agentC.ID); rank != 0 {
		t.Fatalf("agent without referrals should be unranked, got %d", rank)
	}
}

func TestDailyPayments(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	user, _ := dbtest.SeedUser(t, db, "payer", database.UserTypeNormal)

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	for _, p := range []struct {
		at     time.Time
		amount int64
	}{
		{now.Add(-time.Hour), 100},
		{now.Add(-2 * time.Hour), 50},
		{now.AddDate(0, 0, -3), 200},
		{now.AddDate(0, 0, -10), 999},
	} {
		payment := database.Payment{UserID: user.ID, Amount: p.amount}
		payment.CreatedAt = p.at
		if err := db.Create(&payment).Error; err != nil {
			t.Fatalf("create payment: %v", err)
		}
	}

	days, err := reports.DailyPayments(ctx, db, 7, now)
	if err != nil {
		t.Fatalf("daily payments: %v", err)
	}
	if len(days) != 7 || days[0].Date != "2025-06-09" || days[6].Date != "2025-06-15" {
		t.Fatalf("unexpected range: %+v", days)
	}
	if days[6].Amount != 150 || days[3].Amount != 200 {
		t.Fatalf("unexpected totals: %+v", days)
	}
	var sum int64
	for _, d := range days {
		sum += d.Amount
	}
	if sum != 350 {
		t.Fatalf("old payments leaked into the window: %d", sum)
	}
}
