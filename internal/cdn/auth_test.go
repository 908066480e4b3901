package cdn

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T, now time.Time) *TokenValidator {
	t.Helper()
	tiers, err := ParseTokenTiers([]string{"gold:premium", "bronze:basic", "silver:standard", "plain"})
	require.NoError(t, err)
	v := NewTokenValidator(tiers, "secret", 30*time.Minute, DefaultLadder())
	v.now = func() time.Time { return now }
	return v
}

func TestParseTokenTiers(t *testing.T) {
	tiers, err := ParseTokenTiers([]string{"a:BASIC", " b ", "c:standard"})
	require.NoError(t, err)
	assert.Equal(t, map[string]Tier{"a": TierBasic, "b": TierPremium, "c": TierStandard}, tiers)

	_, err = ParseTokenTiers([]string{"a:gold"})
	assert.Error(t, err)
	_, err = ParseTokenTiers([]string{":basic"})
	assert.Error(t, err)
}

func TestTokenValidator_Validate(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v := newTestValidator(t, now)

	g, err := v.Validate("bronze", "movie", "device-1")
	require.NoError(t, err)
	assert.True(t, g.Valid)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, g.AllowedQualities)
	assert.Equal(t, now.Add(30*time.Minute), g.ExpiresAt)
	_, err = uuid.Parse(g.SessionToken)
	assert.NoError(t, err)
	assert.Len(t, g.CDNToken, 64)
	assert.True(t, v.VerifyCDNToken(g.CDNToken, "movie", "device-1", g.ExpiresAt))
	assert.False(t, v.VerifyCDNToken(g.CDNToken, "other", "device-1", g.ExpiresAt))

	g, err = v.Validate("plain", "movie", "d")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, g.AllowedQualities)

	g, err = v.Validate("silver", "movie", "d")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, g.AllowedQualities)
}

func TestTokenValidator_rejects_unknown(t *testing.T) {
	v := newTestValidator(t, time.Now())
	for _, tok := range []string{"", "gol", "gold ", "GOLD"} {
		_, err := v.Validate(tok, "movie", "d")
		assert.True(t, errors.Is(err, ErrInvalidToken), "token %q", tok)
	}
}

func TestTokenValidator_cdn_token_expiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v := newTestValidator(t, now)
	g, err := v.Validate("gold", "movie", "d")
	require.NoError(t, err)

	v.now = func() time.Time { return now.Add(time.Hour) }
	assert.False(t, v.VerifyCDNToken(g.CDNToken, "movie", "d", g.ExpiresAt))
}
