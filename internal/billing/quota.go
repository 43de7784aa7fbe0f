package billing

import (
	"context"
	"time"

	"github.com/suPer8Hu/gopherchat-stream/internal/models"
	"gorm.io/gorm"
)

// Gate meters shared-tier spend against a rolling daily ceiling. The reset
// is lazy: a stored usage row from a previous UTC day counts as zero.
//
// Charge is a plain read-modify-write; two completions for the same user
// finishing near-simultaneously can lose an update. Accepted given the
// small ceiling (see DESIGN.md).
type Gate struct {
	db           *gorm.DB
	ceilingCents float64
	now          func() time.Time
}

func NewGate(db *gorm.DB, ceilingCents float64) *Gate {
	if ceilingCents <= 0 {
		ceilingCents = 10
	}
	return &Gate{db: db, ceilingCents: ceilingCents, now: time.Now}
}

func (g *Gate) today() string {
	return g.now().UTC().Format("2006-01-02")
}

func (g *Gate) usedToday(u *models.User) float64 {
	if u.AIUsageDate != g.today() {
		return 0
	}
	return u.AIUsageCents
}

// CheckRemaining reports whether the user is still under today's ceiling.
func (g *Gate) CheckRemaining(ctx context.Context, userID uint64) (bool, error) {
	var u models.User
	if err := g.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		return false, err
	}
	return g.usedToday(&u) < g.ceilingCents, nil
}

// Charge adds cents to the user's meter for today.
func (g *Gate) Charge(ctx context.Context, userID uint64, cents float64) error {
	var u models.User
	if err := g.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		return err
	}
	used := g.usedToday(&u) + cents
	return g.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"ai_usage_date":  g.today(),
			"ai_usage_cents": used,
		}).Error
}
