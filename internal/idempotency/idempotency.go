package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/seatmap-booking/internal/adapters/redis"
	"github.com/robertarktes/seatmap-booking/internal/domain"
)

var (
	ErrKeyReused = errors.Mark(errors.New("idempotency key reused with a different request"), domain.ErrValidation)
	ErrInFlight  = errors.Mark(errors.New("request with this idempotency key is still running"), domain.ErrSessionBusy)
)

// Backend stores reservations and finished responses. The redis adapter is
// the production implementation.
type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
}

type Idempotency struct {
	backend    Backend
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl, pendingTTL: time.Minute}
}

type Response struct {
	Status int
	Result []byte
}

// Fingerprint identifies a request body so a key cannot be replayed for a
// different request.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Begin returns the stored response for key when there is one. Otherwise it
// reserves key and returns nil; the caller must then Complete or Abort.
func (i *Idempotency) Begin(ctx context.Context, key, fingerprint string) (*Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		stored, err := i.backend.Get(ctx, key)
		if errors.Is(err, redisadapter.ErrPending) {
			return nil, ErrInFlight
		}
		if err != nil {
			return nil, err
		}
		if stored != nil {
			if stored.Fingerprint != fingerprint {
				return nil, ErrKeyReused
			}
			return &Response{Status: stored.Status, Result: stored.Result}, nil
		}
		ok, err := i.backend.Reserve(ctx, key, i.pendingTTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, nil
		}
		// Lost the race; look again.
	}
	return nil, ErrInFlight
}

func (i *Idempotency) Complete(ctx context.Context, key, fingerprint string, resp Response) error {
	return i.backend.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		Fingerprint: fingerprint,
		Result:      resp.Result,
	}, i.ttl)
}

func (i *Idempotency) Abort(ctx context.Context, key string) error {
	return i.backend.Release(ctx, key)
}

// MemoryBackend keeps entries in process. It serves single-instance
// deployments without redis and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	pending bool
	resp    redisadapter.IdempResponse
	expires time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: map[string]memoryEntry{}, now: time.Now}
}

func (m *MemoryBackend) lookup(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if ok && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, ok
}

func (m *MemoryBackend) Get(_ context.Context, key string) (*redisadapter.IdempResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return nil, nil
	}
	if e.pending {
		return nil, redisadapter.ErrPending
	}
	resp := e.resp
	return &resp, nil
}

func (m *MemoryBackend) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.entries[key] = memoryEntry{pending: true, expires: m.now().Add(ttl)}
	return true, nil
}

func (m *MemoryBackend) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = memoryEntry{resp: resp, expires: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}
