package cdn

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidToken is returned when an access token is not recognised.
var ErrInvalidToken = errors.New("invalid access token")

// Tier is a subscription level attached to an access token.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// MaxQualityID is the inclusive quality cap of a tier.
func (t Tier) MaxQualityID() int {
	switch t {
	case TierBasic:
		return 4
	case TierStandard:
		return 6
	default:
		return MaxQualityIDUnrestricted
	}
}

// Grant is the result of a successful token validation.
type Grant struct {
	Valid            bool      `json:"valid"`
	SessionToken     string    `json:"sessionToken"`
	ExpiresAt        time.Time `json:"expiresAt"`
	AllowedQualities []int     `json:"allowedQualities"`
	CDNToken         string    `json:"cdnToken"`
}

// TokenValidator checks demo access tokens and mints session and CDN tokens.
type TokenValidator struct {
	tokens map[string]Tier
	secret []byte
	ttl    time.Duration
	ladder []QualityLevel
	now    func() time.Time
}

// ParseTokenTiers reads "token:tier" entries. A bare token is premium.
func ParseTokenTiers(entries []string) (map[string]Tier, error) {
	out := make(map[string]Tier, len(entries))
	for _, e := range entries {
		token, tier, _ := strings.Cut(strings.TrimSpace(e), ":")
		if token == "" {
			return nil, fmt.Errorf("auth tokens: empty token in %q", e)
		}
		switch t := Tier(strings.ToLower(tier)); t {
		case "":
			out[token] = TierPremium
		case TierBasic, TierStandard, TierPremium:
			out[token] = t
		default:
			return nil, fmt.Errorf("auth tokens: unknown tier %q for token", tier)
		}
	}
	return out, nil
}

// NewTokenValidator returns a validator for the given tokens. A non-positive
// ttl defaults to one hour.
func NewTokenValidator(tokens map[string]Tier, secret string, ttl time.Duration, ladder []QualityLevel) *TokenValidator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenValidator{
		tokens: tokens,
		secret: []byte(secret),
		ttl:    ttl,
		ladder: ladder,
		now:    time.Now,
	}
}

// Validate checks token and issues a grant for contentID on deviceID.
func (v *TokenValidator) Validate(token, contentID, deviceID string) (Grant, error) {
	tier, ok := v.lookup(token)
	if !ok {
		return Grant{}, ErrInvalidToken
	}

	expires := v.now().UTC().Add(v.ttl).Truncate(time.Second)
	allowed := make([]int, 0, len(v.ladder))
	for _, q := range v.ladder {
		if q.ID <= tier.MaxQualityID() {
			allowed = append(allowed, q.ID)
		}
	}

	return Grant{
		Valid:            true,
		SessionToken:     uuid.NewString(),
		ExpiresAt:        expires,
		AllowedQualities: allowed,
		CDNToken:         v.SignCDNToken(contentID, deviceID, expires),
	}, nil
}

// SignCDNToken is an HMAC-SHA256 over content, device and expiry, hex encoded.
func (v *TokenValidator) SignCDNToken(contentID, deviceID string, expires time.Time) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s|%s|%d", contentID, deviceID, expires.Unix())
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCDNToken reports whether sig was issued for the given parameters and
// has not expired.
func (v *TokenValidator) VerifyCDNToken(sig, contentID, deviceID string, expires time.Time) bool {
	if v.now().After(expires) {
		return false
	}
	want := v.SignCDNToken(contentID, deviceID, expires)
	return hmac.Equal([]byte(sig), []byte(want))
}

// lookup compares against every configured token in constant time.
func (v *TokenValidator) lookup(token string) (Tier, bool) {
	if token == "" {
		return "", false
	}
	var (
		found Tier
		ok    bool
	)
	for known, tier := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(known)) == 1 {
			found, ok = tier, true
		}
	}
	return found, ok
}
