package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/arnavshah/shift-planner/internal/config"
	"github.com/arnavshah/shift-planner/pkg/database"
)

var jwtAlgorithm = jwt.SigningMethodHS256

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidKey      = errors.New("invalid api key")
	ErrInvalidClientID = errors.New("client id must be non-empty and must not contain '.'")
)

// Claims represents the JWT claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator signs admin tokens and API keys with the configured secrets
type Authenticator struct {
	jwtSecret    []byte
	masterSecret []byte
	tokenTTL     time.Duration
	bcryptCost   int
	now          func() time.Time
}

// New builds an Authenticator from the auth config section
func New(cfg config.AuthConfig) *Authenticator {
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{
		jwtSecret:    []byte(cfg.JWTSecret),
		masterSecret: []byte(cfg.MasterSecret),
		tokenTTL:     ttl,
		bcryptCost:   cost,
		now:          time.Now,
	}
}

// HashPassword hashes a password using bcrypt
func (a *Authenticator) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), a.bcryptCost)
	return string(bytes), err
}

// CheckPasswordHash compares a password with its hash
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// CreateToken creates a new JWT token for an admin
func (a *Authenticator) CreateToken(username string) (string, error) {
	now := a.now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwtAlgorithm, claims)
	return token.SignedString(a.jwtSecret)
}

// VerifyToken verifies a JWT token
func (a *Authenticator) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwtAlgorithm {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateHMACKey creates a signed API key "<clientID>.<hex hmac-sha256>"
func (a *Authenticator) GenerateHMACKey(clientID string) (string, error) {
	if clientID == "" || strings.Contains(clientID, ".") {
		return "", ErrInvalidClientID
	}
	return clientID + "." + a.sign(clientID), nil
}

// VerifyHMACKey validates an HMAC-signed API key and returns its client id
func (a *Authenticator) VerifyHMACKey(key string) (string, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 || parts[0] == "" {
		return "", fmt.Errorf("%w: bad format", ErrInvalidKey)
	}

	// constant-time comparison
	if !hmac.Equal([]byte(parts[1]), []byte(a.sign(parts[0]))) {
		return "", fmt.Errorf("%w: bad signature", ErrInvalidKey)
	}
	return parts[0], nil
}

func (a *Authenticator) sign(clientID string) string {
	h := hmac.New(sha256.New, a.masterSecret)
	h.Write([]byte(clientID))
	return hex.EncodeToString(h.Sum(nil))
}

// KeyPreview masks a key down to its first and last characters
func KeyPreview(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:3] + "..." + key[len(key)-4:]
}

// TrackAPIKey fetches the usage record of a verified key, creating it on
// first use, and stamps LastUsed
func (a *Authenticator) TrackAPIKey(db *gorm.DB, key, clientID string, defaultLimit int) (*database.APIKey, error) {
	var apiKey database.APIKey
	err := db.Where(database.APIKey{Key: key}).Attrs(database.APIKey{
		Name:       clientID,
		KeyPreview: KeyPreview(key),
		RateLimit:  defaultLimit,
	}).FirstOrCreate(&apiKey).Error
	if err != nil {
		return nil, fmt.Errorf("track api key: %w", err)
	}

	now := a.now()
	if err := db.Model(&apiKey).Update("last_used", now).Error; err != nil {
		return nil, fmt.Errorf("track api key: %w", err)
	}
	apiKey.LastUsed = &now
	return &apiKey, nil
}

// EnsureAdminExists creates the configured admin when no admin exists yet.
// It reports whether an admin was created.
func (a *Authenticator) EnsureAdminExists(db *gorm.DB, username, password string) (bool, error) {
	var count int64
	if err := db.Model(&database.MasterUser{}).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	if username == "" {
		username = "admin"
	}
	hash, err := a.HashPassword(password)
	if err != nil {
		return false, err
	}
	user := database.MasterUser{Username: username, PasswordHash: hash}
	if err := db.Create(&user).Error; err != nil {
		return false, err
	}
	return true, nil
}

// Login checks admin credentials and returns a fresh token
func (a *Authenticator) Login(db *gorm.DB, username, password string) (string, error) {
	var user database.MasterUser
	if err := db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if !CheckPasswordHash(password, user.PasswordHash) {
		return "", ErrInvalidCredentials
	}
	return a.CreateToken(user.Username)
}

// ErrInvalidCredentials is returned by Login for an unknown user or a wrong
// password
var ErrInvalidCredentials = errors.New("invalid credentials")
