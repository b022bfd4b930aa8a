package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// IdempotencyHeader carries the client supplied replay key.
const IdempotencyHeader = "Idempotency-Key"

var idempotencyBucket = []byte("responses")

type cachedResponse struct {
	Status      int       `json:"status"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"stored_at"`
}

// IdempotencyStore caches responses to mutating requests in a bbolt file so
// a retried request with the same key replays the original outcome instead
// of executing twice.
type IdempotencyStore struct {
	db       *bolt.DB
	ttl      time.Duration
	clockNow func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// OpenIdempotencyStore opens (or creates) the bbolt file at path.
func OpenIdempotencyStore(path string, ttl time.Duration) (*IdempotencyStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("idempotency: path required")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("idempotency: open: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(idempotencyBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("idempotency: create bucket: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{
		db:       db,
		ttl:      ttl,
		clockNow: time.Now,
		inflight: make(map[string]struct{}),
	}, nil
}

// Close releases the bbolt file.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *IdempotencyStore) lookup(key string) (*cachedResponse, error) {
	var cached *cachedResponse
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(idempotencyBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		var resp cachedResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return err
		}
		if s.clockNow().Sub(resp.StoredAt) > s.ttl {
			return nil
		}
		cached = &resp
		return nil
	})
	return cached, err
}

func (s *IdempotencyStore) save(key string, resp cachedResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(idempotencyBucket).Put([]byte(key), raw)
	})
}

// Prune drops expired entries and reports how many were removed.
func (s *IdempotencyStore) Prune() (int, error) {
	removed := 0
	cutoff := s.clockNow().Add(-s.ttl)
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(idempotencyBucket)
		var stale [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			var resp cachedResponse
			if err := json.Unmarshal(v, &resp); err != nil || resp.StoredAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *IdempotencyStore) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *IdempotencyStore) release(key string) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

// Middleware replays cached responses for requests carrying an
// Idempotency-Key. Keys are scoped to the caller and route. Server errors are
// not cached so the client can retry them.
func (s *IdempotencyStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if s == nil || key == "" || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		scope := r.RemoteAddr
		if caller, ok := CallerFromContext(r.Context()); ok {
			scope = caller.Hex()
		}
		storeKey := scope + "|" + r.URL.Path + "|" + key

		if !s.acquire(storeKey) {
			writeJSONError(w, http.StatusConflict, "request_in_progress", "a request with this idempotency key is in progress")
			return
		}
		defer s.release(storeKey)

		cached, err := s.lookup(storeKey)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal", "idempotency lookup failed")
			return
		}
		if cached != nil {
			if cached.ContentType != "" {
				w.Header().Set("Content-Type", cached.ContentType)
			}
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(cached.Status)
			_, _ = w.Write(cached.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status >= 500 {
			return
		}
		_ = s.save(storeKey, cachedResponse{
			Status:      rec.status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
			StoredAt:    s.clockNow().UTC(),
		})
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
