package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

var errUnknownKid = errors.New("signing key not published by issuer")

// KeySet serves RSA verification keys from a JWKS endpoint. Keys are
// refetched after ttl, or on an unknown kid at most once per minRefetch.
type KeySet struct {
	url        string
	client     *http.Client
	ttl        time.Duration
	minRefetch time.Duration
	now        func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	triedAt   time.Time
}

func NewKeySet(url string, ttl time.Duration) *KeySet {
	return &KeySet{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		ttl:        ttl,
		minRefetch: 30 * time.Second,
		now:        time.Now,
		keys:       map[string]*rsa.PublicKey{},
	}
}

// Key returns the verification key for kid.
func (s *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key, found := s.keys[kid]
	fresh := now.Sub(s.fetchedAt) < s.ttl
	if found && fresh {
		return key, nil
	}
	if fresh && now.Sub(s.triedAt) < s.minRefetch {
		return nil, fmt.Errorf("kid %q: %w", kid, errUnknownKid)
	}

	s.triedAt = now
	keys, err := s.fetch(ctx)
	if err != nil {
		if found {
			// Serve the stale key rather than fail every request while the
			// issuer is unreachable.
			return key, nil
		}
		return nil, err
	}
	s.keys, s.fetchedAt = keys, now

	if key, found = keys[kid]; !found {
		return nil, fmt.Errorf("kid %q: %w", kid, errUnknownKid)
	}
	return key, nil
}

func (s *KeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("jwks request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		if pub, err := rsaKey(k); err == nil {
			keys[k.Kid] = pub
		}
	}
	return keys, nil
}

func rsaKey(k jsonWebKey) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 {
		return nil, fmt.Errorf("unusable exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
