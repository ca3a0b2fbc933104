package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "classattend"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("kiosk-a2-301", "kiosk", testIssuer, testKey, time.Hour, 24*time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := Parse(pair.AccessToken, testKey, testIssuer)
	assert.NoError(t, err)
	assert.Equal(t, "kiosk-a2-301", claims.Subject)
	assert.Equal(t, "kiosk", claims.Role)
}

func TestParse_WrongKey(t *testing.T) {
	pair, err := Issue("kiosk-a2-301", "kiosk", testIssuer, testKey, time.Hour, 24*time.Hour)
	assert.NoError(t, err)

	_, err = Parse(pair.AccessToken, "some-other-key", testIssuer)
	assert.Error(t, err)
}

func TestParse_IssuerMismatch(t *testing.T) {
	pair, err := Issue("kiosk-a2-301", "kiosk", "someone-else", testKey, time.Hour, 24*time.Hour)
	assert.NoError(t, err)

	_, err = Parse(pair.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}

func TestParse_Expired(t *testing.T) {
	pair, err := Issue("kiosk-a2-301", "kiosk", testIssuer, testKey, -time.Minute, time.Hour)
	assert.NoError(t, err)

	_, err = Parse(pair.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}

func TestParse_Garbage(t *testing.T) {
	_, err := Parse("not.a.token", testKey, testIssuer)
	assert.Error(t, err)
}
