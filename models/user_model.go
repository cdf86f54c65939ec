package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FirstName    string    `gorm:"size:100;not null" json:"first_name"`
	LastName     string    `gorm:"size:100;not null" json:"last_name"`
	Email        string    `gorm:"size:255;not null;unique" json:"email"`
	Password     string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"size:20;not null;default:'student'" json:"role"`
	ProfilePhoto *string   `gorm:"size:255" json:"profile_photo"`
	Department   *string   `gorm:"size:100" json:"department"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserSummary is the denormalized sender shape pushed alongside real-time
// message events and embedded in participant listings.
type UserSummary struct {
	ID           uuid.UUID `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	ProfilePhoto *string   `json:"profile_photo"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		ProfilePhoto: u.ProfilePhoto,
	}
}
