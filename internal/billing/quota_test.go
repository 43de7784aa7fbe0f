package billing

import (
	"context"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/gopherchat-stream/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func fixedDay(t *testing.T, day string) func() time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", day)
	if err != nil {
		t.Fatalf("parse day: %v", err)
	}
	return func() time.Time { return ts }
}

func TestGate_LazyDailyReset(t *testing.T) {
	db := openTestDB(t)

	u := models.User{Email: "a@b.c", Username: "a", AIUsageDate: "2023-01-01", AIUsageCents: 10}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	g := NewGate(db, 10)
	g.now = fixedDay(t, "2023-01-02")

	allowed, err := g.CheckRemaining(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("check remaining: %v", err)
	}
	if !allowed {
		t.Fatalf("expected yesterday's usage to count as 0")
	}

	if err := g.Charge(context.Background(), u.ID, 1); err != nil {
		t.Fatalf("charge: %v", err)
	}

	var got models.User
	if err := db.First(&got, u.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if got.AIUsageDate != "2023-01-02" {
		t.Fatalf("expected date rolled to 2023-01-02, got %q", got.AIUsageDate)
	}
	if got.AIUsageCents != 1 {
		t.Fatalf("expected 1 cent used, got %v", got.AIUsageCents)
	}
}

func TestGate_CeilingBlocksSameDay(t *testing.T) {
	db := openTestDB(t)

	u := models.User{Email: "a@b.c", Username: "a", AIUsageDate: "2023-01-02", AIUsageCents: 10}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	g := NewGate(db, 10)
	g.now = fixedDay(t, "2023-01-02")

	allowed, err := g.CheckRemaining(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("check remaining: %v", err)
	}
	if allowed {
		t.Fatalf("expected ceiling to block")
	}
}

func TestGate_ChargeAccumulatesWithinDay(t *testing.T) {
	db := openTestDB(t)

	u := models.User{Email: "a@b.c", Username: "a", AIUsageDate: "2023-01-02", AIUsageCents: 2.5}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	g := NewGate(db, 10)
	g.now = fixedDay(t, "2023-01-02")

	if err := g.Charge(context.Background(), u.ID, 1.25); err != nil {
		t.Fatalf("charge: %v", err)
	}

	var got models.User
	if err := db.First(&got, u.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if got.AIUsageCents != 3.75 {
		t.Fatalf("expected 3.75 cents, got %v", got.AIUsageCents)
	}
}
