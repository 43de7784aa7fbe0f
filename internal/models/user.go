package models

import "time"

type User struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Email    string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Username string `gorm:"type:varchar(32);uniqueIndex;not null" json:"username"`

	// Daily shared-tier spend meter, written only by billing.Gate.
	// AIUsageDate is a UTC calendar date ("2006-01-02"); AIUsageCents is
	// cents with fractional precision.
	AIUsageDate  string  `gorm:"type:varchar(10)" json:"-"`
	AIUsageCents float64 `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }
