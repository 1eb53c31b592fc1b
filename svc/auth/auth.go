package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/fitcore/pkg/jwt"
)

// Config holds token settings.
type Config struct {
	JWTSecret string        `env:"JWT_SECRET,required"`
	TokenTTL  time.Duration `env:"JWT_TTL" envDefault:"720h"`
	Issuer    string        `env:"JWT_ISSUER" envDefault:"fitcore"`
}

// Account is the authenticated principal. Role and token version are
// always re-read from the store, never trusted from the token.
type Account struct {
	ID           string
	Email        string
	Role         string
	TokenVersion int
}

// AccountSource loads accounts for token validation.
type AccountSource interface {
	AccountByID(ctx context.Context, id string) (Account, error)
}

// Claims are the bearer token claims. TokenVersion enables server-side
// revocation: bumping the stored version invalidates all issued tokens.
type Claims struct {
	jwt.StandardClaims
	TokenVersion int `json:"tokenVersion"`
}

// Service issues and validates bearer tokens.
type Service struct {
	signer   *jwt.Service
	accounts AccountSource
	cfg      Config
}

func New(cfg Config, accounts AccountSource) (*Service, error) {
	signer, err := jwt.NewFromString(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	return &Service{signer: signer, accounts: accounts, cfg: cfg}, nil
}

// Issue creates a bearer token for an account.
func (s *Service) Issue(account Account) (string, error) {
	now := time.Now()
	return s.signer.Generate(Claims{
		StandardClaims: jwt.StandardClaims{
			ID:        uuid.NewString(),
			Subject:   account.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.cfg.TokenTTL).Unix(),
		},
		TokenVersion: account.TokenVersion,
	})
}

// Authenticate validates a raw token and returns the live account. The
// account is re-read from the store so revoked tokens and stale roles are
// rejected regardless of what the token carries.
func (s *Service) Authenticate(ctx context.Context, token string) (Account, error) {
	var claims Claims
	if err := s.signer.Parse(token, &claims); err != nil {
		return Account{}, err
	}
	if claims.Subject == "" {
		return Account{}, jwt.ErrInvalidToken
	}

	account, err := s.accounts.AccountByID(ctx, claims.Subject)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	if account.TokenVersion != claims.TokenVersion {
		return Account{}, ErrTokenRevoked
	}
	return account, nil
}
