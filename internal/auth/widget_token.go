package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"leadhub/internal/tenant"

	"github.com/benbjohnson/clock"
)

// DefaultWidgetTokenTTL is used when no TTL is configured.
const DefaultWidgetTokenTTL = 24 * time.Hour

// WidgetClaims is the signed payload of a public widget token. The tenant id only
// ever leaves the server inside a signed token.
type WidgetClaims struct {
	TenantID  string `json:"tenantId"`
	WidgetID  string `json:"widgetId"`
	Domain    string `json:"domain,omitempty"`
	ExpiresAt int64  `json:"expiresAt"` // epoch ms
}

// WidgetTokenService issues and verifies the tokens embedded in the public chat
// widget. Token format: base64url(json) "." base64url(hmac-sha256(json, secret)).
type WidgetTokenService struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewWidgetTokenService creates a WidgetTokenService.
func NewWidgetTokenService(secret string, ttl time.Duration, clk clock.Clock) (*WidgetTokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: widget secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultWidgetTokenTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &WidgetTokenService{secret: []byte(secret), ttl: ttl, clock: clk}, nil
}

// Generate signs a token for the widget. domain is optional; when set, the token is
// only accepted from that (normalized) origin.
func (s *WidgetTokenService) Generate(tenantID, widgetID, domain string) (string, error) {
	if tenantID == "" || widgetID == "" {
		return "", errors.New("auth: tenant id and widget id are required")
	}
	normalized := NormalizeDomain(domain)
	if strings.TrimSpace(domain) != "" && normalized == "" {
		return "", fmt.Errorf("auth: invalid widget domain %q", domain)
	}
	claims := WidgetClaims{
		TenantID:  tenantID,
		WidgetID:  widgetID,
		Domain:    normalized,
		ExpiresAt: s.clock.Now().Add(s.ttl).UnixMilli(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal widget claims: %w", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(s.sign(payload)), nil
}

// Verify checks the signature, the expiry and, when both the token and the request
// carry one, the domain. origin may be empty.
func (s *WidgetTokenService) Verify(token, origin string) (*WidgetClaims, error) {
	payloadPart, sigPart, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || payloadPart == "" || sigPart == "" || strings.Contains(sigPart, ".") {
		return nil, tenant.ErrInvalidSignature
	}
	payload, err := decodeSegment(payloadPart)
	if err != nil {
		return nil, tenant.ErrInvalidSignature
	}
	sig, err := decodeSegment(sigPart)
	if err != nil {
		return nil, tenant.ErrInvalidSignature
	}
	if !hmac.Equal(sig, s.sign(payload)) {
		return nil, tenant.ErrInvalidSignature
	}

	var claims WidgetClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, tenant.ErrInvalidSignature
	}
	if claims.TenantID == "" || claims.WidgetID == "" {
		return nil, tenant.ErrInvalidSignature
	}
	if s.clock.Now().UnixMilli() >= claims.ExpiresAt {
		return nil, tenant.ErrExpiredToken
	}
	if claims.Domain != "" && strings.TrimSpace(origin) != "" {
		if NormalizeDomain(claims.Domain) != NormalizeDomain(origin) {
			return nil, tenant.ErrDomainMismatch
		}
	}
	return &claims, nil
}

func (s *WidgetTokenService) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// decodeSegment accepts only unpadded, canonical base64url, so every token has exactly
// one valid spelling.
func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.Strict().DecodeString(seg)
}

// NormalizeDomain reduces a domain, origin or referer URL to its lower-cased host
// without a leading "www.": "HTTPS://WWW.Example.com/contact.html" and
// "https://example.com:443" both become "example.com". Unparseable input yields "".
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" {
		return ""
	}
	if !strings.Contains(d, "://") {
		d = "//" + d
	}
	u, err := url.Parse(d)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
