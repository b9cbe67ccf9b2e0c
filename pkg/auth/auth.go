// Package auth verifies and issues the bearer tokens staff use to call the library API.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const (
	DefaultTokenTTL = 10 * 24 * time.Hour
	DefaultIssuer   = "school-library"
)

type Role string

const (
	RoleTeacher   Role = "teacher"
	RoleLibrarian Role = "librarian"
)

// IsStaff reports whether the role may manage books, students and borrowings.
func (r Role) IsStaff() bool {
	return r == RoleTeacher || r == RoleLibrarian
}

type Identity struct {
	SubjectID   uint   `json:"id"`
	SubjectName string `json:"name"`
	Role        Role   `json:"role"`
}

type Config struct {
	Secret   string
	TokenTTL time.Duration
	Issuer   string
}

type claims struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
	jwt.RegisteredClaims
}

// Gate holds the signing secret for the lifetime of the process.
type Gate struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

type Option func(*Gate)

// WithClock replaces time.Now for issuing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

func NewGate(cfg Config, opts ...Option) (*Gate, error) {
	if cfg.Secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	g := &Gate{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TokenTTL,
		issuer: cfg.Issuer,
		now:    time.Now,
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTokenTTL
	}
	if g.issuer == "" {
		g.issuer = DefaultIssuer
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Issue signs a token for id that expires after ttl, or after the gate's default
// lifetime when ttl is not positive.
func (g *Gate) Issue(id Identity, ttl time.Duration) (string, error) {
	if id.SubjectID == 0 {
		return "", errors.New("identity has no subject")
	}
	if !id.Role.IsStaff() {
		return "", fmt.Errorf("role %q cannot be issued a token", id.Role)
	}
	if ttl <= 0 {
		ttl = g.ttl
	}

	now := g.now()
	c := claims{
		Name: id.SubjectName,
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatUint(uint64(id.SubjectID), 10),
			Issuer:    g.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of tokenString and returns the identity it carries.
func (g *Gate) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(g.issuer),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject, err := strconv.ParseUint(c.Subject, 10, 0)
	if err != nil || subject == 0 {
		return Identity{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, c.Subject)
	}
	if !c.Role.IsStaff() {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}

	return Identity{
		SubjectID:   uint(subject),
		SubjectName: c.Name,
		Role:        c.Role,
	}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
// It returns "" when the header is empty or uses another scheme.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
