package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyPrefix    = "sk_"
	apiKeyLookupLen = 8
)

// APIKey is a stored key. Only the bcrypt hash of the secret is kept.
type APIKey struct {
	Name    string   `mapstructure:"name" yaml:"name" json:"name"`
	Prefix  string   `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	Hash    string   `mapstructure:"hash" yaml:"hash" json:"-"`
	Subject string   `mapstructure:"subject" yaml:"subject" json:"subject"`
	Scopes  []string `mapstructure:"scopes" yaml:"scopes" json:"scopes"`
}

// GenerateAPIKey creates a new key for subject. The plaintext is returned once.
func GenerateAPIKey(name, subject string, scopes []string) (string, APIKey, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", APIKey{}, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	secret := hex.EncodeToString(b)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", APIKey{}, fmt.Errorf("failed to hash API key: %w", err)
	}
	key := APIKey{
		Name:    name,
		Prefix:  secret[:apiKeyLookupLen],
		Hash:    string(hash),
		Subject: subject,
		Scopes:  scopes,
	}
	return apiKeyPrefix + secret, key, nil
}

// KeyRing validates API keys against bcrypt hashes, looked up by prefix
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string][]APIKey
}

func NewKeyRing(keys ...APIKey) *KeyRing {
	r := &KeyRing{keys: make(map[string][]APIKey)}
	for _, k := range keys {
		r.Add(k)
	}
	return r
}

func (r *KeyRing) Add(k APIKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[k.Prefix] = append(r.keys[k.Prefix], k)
}

func (r *KeyRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ks := range r.keys {
		n += len(ks)
	}
	return n
}

// Validate resolves a presented key to its principal.
func (r *KeyRing) Validate(presented string) (*Principal, error) {
	secret, ok := strings.CutPrefix(presented, apiKeyPrefix)
	if !ok || len(secret) < apiKeyLookupLen {
		return nil, ErrInvalidAPIKey
	}

	r.mu.RLock()
	candidates := r.keys[secret[:apiKeyLookupLen]]
	r.mu.RUnlock()

	for _, k := range candidates {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(secret)) == nil {
			scopes := k.Scopes
			if len(scopes) == 0 {
				scopes = AllScopes
			}
			return &Principal{Subject: k.Subject, Scopes: scopes, Method: MethodAPIKey}, nil
		}
	}
	return nil, ErrInvalidAPIKey
}
