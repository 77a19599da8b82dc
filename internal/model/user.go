package model

import "time"

// User is the owner of tasks. Accounts are managed outside the planner core;
// the row only carries what notifiers need to reach the owner.
type User struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TelegramID int64     `gorm:"index" json:"telegram_id,omitempty"`
	Email      string    `gorm:"index" json:"email,omitempty"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	Username   string    `json:"username,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DisplayName picks the most specific name available.
func (u User) DisplayName() string {
	switch {
	case u.Username != "":
		return u.Username
	case u.Email != "":
		return u.Email
	case u.FirstName != "":
		return u.FirstName
	}
	return "user"
}
