package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	PurposeSession       = "session"
	PurposePasswordReset = "password_reset"

	// ResetTokenTTL is the lifetime of a password reset link.
	ResetTokenTTL = 10 * time.Minute
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
	ErrEmptySecret  = errors.New("empty password")
)

// TokenClaims is the payload of every token we sign. Fingerprint is only set
// on reset tokens and ties them to the password hash they were issued for.
type TokenClaims struct {
	Purpose     string `json:"purpose"`
	Fingerprint string `json:"pfp,omitempty"`
	jwt.RegisteredClaims
}

// UserID is the subject of the token.
func (c *TokenClaims) UserID() string { return c.Subject }

// AuthService hashes passwords and signs/verifies time-bound tokens.
type AuthService interface {
	HashPassword(plain string) (string, error)
	CheckPassword(plain, hash string) bool
	// EqualizeTiming burns the same bcrypt work as CheckPassword for callers
	// that have no hash to compare against.
	EqualizeTiming(plain string)
	IssueToken(userID, purpose string, ttl time.Duration, fingerprint string) (string, time.Time, error)
	VerifyToken(token, purpose string) (*TokenClaims, error)
}

type authService struct {
	secret    []byte
	cost      int
	now       func() time.Time
	dummyHash []byte
}

type AuthOption func(*authService)

// WithClock overrides time.Now for issuing and validating tokens.
func WithClock(now func() time.Time) AuthOption {
	return func(s *authService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewAuthService(secret string, bcryptCost int, opts ...AuthOption) (AuthService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	s := &authService{secret: []byte(secret), cost: bcryptCost, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("timing-equalizer"), s.cost)
	if err != nil {
		return nil, fmt.Errorf("bcrypt generate: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

func (s *authService) HashPassword(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptySecret
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plain), s.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt generate: %w", err)
	}
	return string(h), nil
}

func (s *authService) CheckPassword(plain, hash string) bool {
	if hash == "" {
		s.EqualizeTiming(plain)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func (s *authService) EqualizeTiming(plain string) {
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(plain))
}

func (s *authService) IssueToken(userID, purpose string, ttl time.Duration, fingerprint string) (string, time.Time, error) {
	if userID == "" || purpose == "" || ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("issue token: bad arguments")
	}
	now := s.now()
	exp := now.Add(ttl)
	claims := &TokenClaims{
		Purpose:     purpose,
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	// NumericDate режет до секунд, отдаём то, что реально в токене
	return signed, claims.ExpiresAt.Time, nil
}

func (s *authService) VerifyToken(token, purpose string) (*TokenClaims, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		// принимаем только HMAC
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.Subject == "" || claims.Purpose != purpose {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// PasswordFingerprint is a short, non-reversible tag of a password hash.
func PasswordFingerprint(hash string) string {
	sum := sha256.Sum256([]byte(hash))
	return hex.EncodeToString(sum[:8])
}
