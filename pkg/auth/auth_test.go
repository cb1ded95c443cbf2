package auth

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/arnavshah/shift-planner/internal/config"
	"github.com/arnavshah/shift-planner/pkg/database"
)

func testAuth() *Authenticator {
	return New(config.AuthConfig{
		JWTSecret:    "jwt-secret",
		MasterSecret: "master-secret",
		TokenTTL:     time.Hour,
		BcryptCost:   bcrypt.MinCost,
	})
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.StorageConfig{Path: filepath.Join(t.TempDir(), "auth.db")})
	require.NoError(t, err)
	return db
}

func TestToken_RoundTrip(t *testing.T) {
	a := testAuth()
	token, err := a.CreateToken("admin")
	require.NoError(t, err)

	claims, err := a.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
}

func TestToken_Rejects(t *testing.T) {
	a := testAuth()

	other := New(config.AuthConfig{JWTSecret: "other", TokenTTL: time.Hour})
	foreign, err := other.CreateToken("admin")
	require.NoError(t, err)
	_, err = a.VerifyToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken, "signed with another secret")

	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := a.CreateToken("admin")
	require.NoError(t, err)
	a.now = time.Now
	_, err = a.VerifyToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "admin"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.VerifyToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")
}

func TestHMACKey(t *testing.T) {
	a := testAuth()
	key, err := a.GenerateHMACKey("client-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "client-1."))

	id, err := a.VerifyHMACKey(key)
	require.NoError(t, err)
	assert.Equal(t, "client-1", id)

	tampered := []byte(key)
	if tampered[len(tampered)-1] == '0' {
		tampered[len(tampered)-1] = '1'
	} else {
		tampered[len(tampered)-1] = '0'
	}

	tests := []struct {
		name string
		key  string
	}{
		{"no separator", "client-1"},
		{"empty client", "." + strings.Split(key, ".")[1]},
		{"tampered client", "client-2." + strings.Split(key, ".")[1]},
		{"tampered signature", string(tampered)},
		{"extra part", key + ".x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.VerifyHMACKey(tt.key)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}

	_, err = a.GenerateHMACKey("bad.id")
	assert.ErrorIs(t, err, ErrInvalidClientID)
	_, err = a.GenerateHMACKey("")
	assert.ErrorIs(t, err, ErrInvalidClientID)
}

func TestKeyPreview(t *testing.T) {
	assert.Equal(t, "****", KeyPreview("short"))
	assert.Equal(t, "cli...cdef", KeyPreview("client.0123456789abcdef"))
}

func TestEnsureAdminAndLogin(t *testing.T) {
	a := testAuth()
	db := testDB(t)

	created, err := a.EnsureAdminExists(db, "root", "s3cret")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = a.EnsureAdminExists(db, "other", "x")
	require.NoError(t, err)
	assert.False(t, created, "only the first admin is seeded")

	token, err := a.Login(db, "root", "s3cret")
	require.NoError(t, err)
	claims, err := a.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "root", claims.Username)

	_, err = a.Login(db, "root", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = a.Login(db, "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTrackAPIKey(t *testing.T) {
	a := testAuth()
	db := testDB(t)
	key, err := a.GenerateHMACKey("client-1")
	require.NoError(t, err)

	first, err := a.TrackAPIKey(db, key, "client-1", 50)
	require.NoError(t, err)
	assert.Equal(t, "client-1", first.Name)
	assert.Equal(t, 50, first.RateLimit)
	require.NotNil(t, first.LastUsed)

	require.NoError(t, db.Model(&database.APIKey{}).Where("id = ?", first.ID).Update("rate_limit", 7).Error)
	second, err := a.TrackAPIKey(db, key, "client-1", 50)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 7, second.RateLimit, "existing records keep their limit")

	var count int64
	require.NoError(t, db.Model(&database.APIKey{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
