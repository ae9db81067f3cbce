package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
)

const issuer = "calibrewebui"

// Claims represents JWT claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator checks the single operator account and issues its tokens.
// With no password hash configured every request is treated as the operator.
type Authenticator struct {
	username     string
	passwordHash string
	secret       []byte
	ttl          time.Duration
}

// NewAuthenticator creates an authenticator. An empty secret is replaced by a
// random one, so tokens do not survive a restart.
func NewAuthenticator(username, passwordHash, secret string, ttl time.Duration) *Authenticator {
	if secret == "" {
		secret = uuid.NewString() + uuid.NewString()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{
		username:     username,
		passwordHash: passwordHash,
		secret:       []byte(secret),
		ttl:          ttl,
	}
}

// Enabled reports whether a login is required for operator routes
func (a *Authenticator) Enabled() bool {
	return a.passwordHash != ""
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a password with a hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Login checks the operator credentials and returns a signed token
func (a *Authenticator) Login(username, password string) (string, error) {
	if !a.Enabled() || username != a.username || !CheckPassword(password, a.passwordHash) {
		return "", ErrInvalidCredentials
	}
	return a.GenerateToken(username)
}

// GenerateToken creates a new JWT token for the operator
func (a *Authenticator) GenerateToken(username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Username != a.username {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// RefreshToken creates a new token with extended expiry
func (a *Authenticator) RefreshToken(tokenString string) (string, error) {
	claims, err := a.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}

	return a.GenerateToken(claims.Username)
}
