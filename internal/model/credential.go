package model

import "time"

// Credential stores the OAuth2 grant of a mailbox owner.
type Credential struct {
	Owner        string    `json:"owner" gorm:"primaryKey;type:varchar(255)"`
	AccessToken  string    `json:"-" gorm:"type:text"`
	RefreshToken string    `json:"-" gorm:"type:text;not null"`
	TokenType    string    `json:"token_type" gorm:"type:varchar(32)"`
	Expiry       time.Time `json:"expiry"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for Credential
func (Credential) TableName() string {
	return "credentials"
}
