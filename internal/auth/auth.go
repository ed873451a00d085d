// Package auth handles the OAuth2 grant of mailbox owners.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"mailfred-go/internal/config"
	"mailfred-go/internal/mailbox"
	"mailfred-go/internal/repository"
)

const stateIssuer = "mailfred"

// ErrInvalidState is returned when a callback carries a state that was not
// issued by this service or has expired.
var ErrInvalidState = errors.New("invalid oauth2 state")

// TokenStore persists tokens per owner.
type TokenStore interface {
	SaveToken(ctx context.Context, owner string, tok *oauth2.Token) error
	LoadToken(ctx context.Context, owner string) (*oauth2.Token, error)
}

// Authenticator runs the consent flow and provides token sources.
type Authenticator struct {
	oauth  *oauth2.Config
	tokens TokenStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New creates an Authenticator for the Gmail modify scope.
func New(gmailCfg config.GmailConfig, authCfg config.AuthConfig, tokens TokenStore) *Authenticator {
	ttl := authCfg.StateTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Authenticator{
		oauth: &oauth2.Config{
			ClientID:     gmailCfg.ClientID,
			ClientSecret: gmailCfg.ClientSecret,
			RedirectURL:  gmailCfg.RedirectURL,
			Scopes:       []string{gmail.GmailModifyScope, gmail.GmailLabelsScope},
			Endpoint:     google.Endpoint,
		},
		tokens: tokens,
		secret: []byte(authCfg.StateSecret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithEndpoint overrides the OAuth2 endpoint.
func (a *Authenticator) WithEndpoint(ep oauth2.Endpoint) *Authenticator {
	a.oauth.Endpoint = ep
	return a
}

// AuthCodeURL returns the consent URL for owner. The state is a signed,
// short-lived token naming the owner.
func (a *Authenticator) AuthCodeURL(owner string) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    stateIssuer,
		Subject:   owner,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}

	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// ParseState returns the owner named by a state issued by AuthCodeURL.
func (a *Authenticator) ParseState(state string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no owner", ErrInvalidState)
	}
	return claims.Subject, nil
}

// Complete exchanges the authorization code and stores the token. It returns
// the owner the grant belongs to.
func (a *Authenticator) Complete(ctx context.Context, code, state string) (string, error) {
	owner, err := a.ParseState(state)
	if err != nil {
		return "", err
	}

	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: failed to exchange code: %v", mailbox.ErrUnauthorized, err)
	}
	if err := a.tokens.SaveToken(ctx, owner, tok); err != nil {
		return "", err
	}

	logrus.WithField("owner", owner).Info("Stored OAuth2 grant")
	return owner, nil
}

// TokenSource returns a refreshing token source for owner. Refreshed tokens
// are written back to the store.
func (a *Authenticator) TokenSource(ctx context.Context, owner string) (oauth2.TokenSource, error) {
	tok, err := a.tokens.LoadToken(ctx, owner)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		return nil, fmt.Errorf("%w: no grant for owner %s", mailbox.ErrUnauthorized, owner)
	}
	if err != nil {
		return nil, err
	}

	src := &persistingSource{
		ctx:    ctx,
		owner:  owner,
		base:   a.oauth.TokenSource(ctx, tok),
		tokens: a.tokens,
		last:   tok.AccessToken,
	}
	return oauth2.ReuseTokenSource(tok, src), nil
}

// saveTimeout bounds the write of a refreshed token.
const saveTimeout = 10 * time.Second

// persistingSource stores refreshed tokens without blocking the caller. A
// refresh can happen while the caller holds the only database connection in
// a transaction, so waiting for the save there would never finish.
type persistingSource struct {
	ctx    context.Context
	owner  string
	base   oauth2.TokenSource
	tokens TokenStore
	last   string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		go s.persist(tok)
	}
	return tok, nil
}

func (s *persistingSource) persist(tok *oauth2.Token) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), saveTimeout)
	defer cancel()
	if err := s.tokens.SaveToken(ctx, s.owner, tok); err != nil {
		logrus.WithError(err).WithField("owner", s.owner).Warn("Failed to persist refreshed token")
	}
}
