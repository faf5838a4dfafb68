package models

// User represents an authenticated member.
type User struct {
	BaseModel
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Email        string  `gorm:"uniqueIndex" json:"email"`
	DisplayName  string  `json:"display_name"`
	PasswordHash string  `json:"-"`
	Groups       []Group `gorm:"foreignKey:UserID" json:"groups,omitempty"`
}
