package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
)

type contextKey string

const clientContextKey contextKey = "client"

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-API-Key"

// DevClient is the client name used when authentication is disabled.
const DevClient = "dev-mode"

// KeyEntry is one record of the API key file.
type KeyEntry struct {
	Name     string `json:"name"`
	Disabled bool   `json:"disabled"`
}

// KeyRing holds API keys by their SHA-256 hash so raw keys are not kept in
// memory after loading.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]KeyEntry
}

func NewKeyRing(keys map[string]KeyEntry) *KeyRing {
	kr := &KeyRing{keys: make(map[string]KeyEntry, len(keys))}
	for k, e := range keys {
		kr.keys[hashAPIKey(k)] = e
	}
	return kr
}

// LoadKeyRing reads a JSON object of key -> {name, disabled}. A missing file
// yields an empty ring.
func LoadKeyRing(path string) (*KeyRing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewKeyRing(nil), nil
		}
		return nil, fmt.Errorf("read api keys: %w", err)
	}
	var keys map[string]KeyEntry
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse api keys %s: %w", path, err)
	}
	return NewKeyRing(keys), nil
}

func (kr *KeyRing) Lookup(key string) (KeyEntry, bool) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	e, ok := kr.keys[hashAPIKey(key)]
	return e, ok
}

func (kr *KeyRing) Len() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return len(kr.keys)
}

// ClientFromContext returns the name of the authenticated client.
func ClientFromContext(ctx context.Context) string {
	c, _ := ctx.Value(clientContextKey).(string)
	return c
}

// APIKeyAuth checks X-API-Key against the ring. When required is false every
// request passes as DevClient.
func APIKeyAuth(ring *KeyRing, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := DevClient
			if required {
				key := r.Header.Get(APIKeyHeader)
				if key == "" {
					writeError(w, http.StatusUnauthorized, "missing API key, set the X-API-Key header")
					return
				}
				entry, ok := ring.Lookup(key)
				if !ok {
					writeError(w, http.StatusForbidden, "invalid API key")
					return
				}
				if entry.Disabled {
					writeError(w, http.StatusForbidden, "API key is disabled")
					return
				}
				client = entry.Name
			}

			setAccessClient(r.Context(), client)
			ctx := context.WithValue(r.Context(), clientContextKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
