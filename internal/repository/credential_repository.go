package repository

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailfred-go/internal/model"
)

// ErrCredentialNotFound is returned when an owner never completed authorization.
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialRepository stores OAuth2 grants per owner.
type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// SaveToken upserts the owner's token. An empty refresh token keeps the one
// already on file, since Google only returns it on the first consent.
func (r *CredentialRepository) SaveToken(ctx context.Context, owner string, tok *oauth2.Token) error {
	cred := model.Credential{
		Owner:        owner,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry.UTC(),
	}

	columns := []string{"access_token", "token_type", "expiry", "updated_at"}
	if tok.RefreshToken != "" {
		columns = append(columns, "refresh_token")
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&cred).Error
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// LoadToken returns the stored token of owner.
func (r *CredentialRepository) LoadToken(ctx context.Context, owner string) (*oauth2.Token, error) {
	var cred model.Credential
	err := r.db.WithContext(ctx).Where("owner = ?", owner).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	return &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}, nil
}
