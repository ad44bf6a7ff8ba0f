// Package ipkey turns client addresses into privacy-preserving rate-limit
// keys. IPv6 clients are keyed by their /64 so that privacy-extension
// addresses from one subnet share a key.
package ipkey

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// ErrInvalidIP is returned for input that is not an IP address.
var ErrInvalidIP = errors.New("invalid IP address")

// Normalize canonicalizes a client address.
//
// IPv4 addresses (including IPv4-mapped IPv6) are returned in dotted form.
// IPv6 addresses are expanded to eight groups and reduced to the first four,
// zero-padded and lower-case, e.g. "2001:db8::1" -> "2001:0db8:0000:0000".
// A trailing port, surrounding brackets or a zone are ignored.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidIP
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIP, raw)
	}
	addr = addr.WithZone("").Unmap()
	if addr.Is4() {
		return addr.String(), nil
	}

	b := addr.As16()
	groups := make([]string, 4)
	for i := range groups {
		groups[i] = fmt.Sprintf("%02x%02x", b[2*i], b[2*i+1])
	}
	return strings.Join(groups, ":"), nil
}

// Hasher derives one-way keys from normalized addresses.
type Hasher struct {
	secret []byte
}

// NewHasher returns a Hasher keyed with the server secret.
func NewHasher(secret string) (*Hasher, error) {
	if secret == "" {
		return nil, errors.New("ip hash secret is empty")
	}
	return &Hasher{secret: []byte(secret)}, nil
}

// Hash normalizes raw and returns the hex HMAC-SHA256 of the result.
func (h *Hasher) Hash(raw string) (string, error) {
	norm, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(norm))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
