package services

import (
	"context"
	"errors"
	"time"

	"meetroom/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService validates the bearer tokens issued by the account
// collaborator and resolves them to the identity driving a room.
type AuthService interface {
	GenerateToken(identity domain.Identity) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	Current(ctx context.Context) (domain.Identity, error)
}

type Claims struct {
	UserID    domain.UserID `json:"user_id"`
	Name      string        `json:"name"`
	Email     string        `json:"email,omitempty"`
	AvatarURL string        `json:"avatar_url,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() domain.Identity {
	return domain.Identity{
		UserID:    c.UserID,
		Name:      c.Name,
		Email:     c.Email,
		AvatarURL: c.AvatarURL,
	}
}

type identityKey struct{}

// WithIdentity stores an authenticated identity on the context.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
	issuer         string
}

func NewAuthService(jwtSecret string, accessTokenTTL time.Duration, issuer string) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
		issuer:         issuer,
	}
}

func (s *authService) GenerateToken(identity domain.Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    identity.UserID,
		Name:      identity.Name,
		Email:     identity.Email,
		AvatarURL: identity.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity.UserID),
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Current returns the identity the auth middleware placed on ctx.
func (s *authService) Current(ctx context.Context) (domain.Identity, error) {
	identity, ok := ctx.Value(identityKey{}).(domain.Identity)
	if !ok || identity.UserID == "" {
		return domain.Identity{}, ErrUnauthorized
	}
	return identity, nil
}
