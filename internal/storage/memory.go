package storage

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// MemoryStore keeps objects in memory. Presigned URLs point at BaseURL and
// carry an expiry and an HMAC signature that ServeHTTP checks.
type MemoryStore struct {
	BaseURL string

	key []byte
	now func() time.Time

	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

var _ ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store with a fresh signing key.
func NewMemoryStore(baseURL string) *MemoryStore {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("storage: generating signing key: %v", err))
	}
	return &MemoryStore{
		BaseURL: baseURL,
		key:     key,
		now:     time.Now,
		objects: make(map[string]memoryObject),
	}
}

// Upload implements ObjectStore.
func (s *MemoryStore) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stored := bucket + "/" + path
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[stored] = memoryObject{data: buf, contentType: contentType}
	s.mu.Unlock()
	return stored, nil
}

// PresignGet implements ObjectStore.
func (s *MemoryStore) PresignGet(ctx context.Context, storedPath string) (string, error) {
	bucket, object, err := SplitStoredPath(storedPath)
	if err != nil {
		return "", err
	}
	stored := bucket + "/" + object
	s.mu.RLock()
	_, ok := s.objects[stored]
	s.mu.RUnlock()
	if !ok {
		return "", ErrObjectNotFound
	}
	expires := strconv.FormatInt(s.now().Add(PresignExpiry).Unix(), 10)
	q := url.Values{"expires": {expires}, "sig": {s.sign(stored, expires)}}
	return fmt.Sprintf("%s/%s/%s?%s", s.BaseURL, url.PathEscape(bucket), object, q.Encode()), nil
}

// Fetch implements ObjectStore.
func (s *MemoryStore) Fetch(ctx context.Context, storedPath string) ([]byte, error) {
	bucket, object, err := SplitStoredPath(storedPath)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[bucket+"/"+object]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

// ContentType reports the content type an object was uploaded with.
func (s *MemoryStore) ContentType(storedPath string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[storedPath]
	return obj.contentType, ok
}

func (s *MemoryStore) sign(stored, expires string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(stored + "\n" + expires))
	return hex.EncodeToString(mac.Sum(nil))
}

// verify checks the expires and sig parameters PresignGet adds.
func (s *MemoryStore) verify(stored string, q url.Values) bool {
	expires := q.Get("expires")
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || s.now().Unix() > unix {
		return false
	}
	got, err := hex.DecodeString(q.Get("sig"))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(s.sign(stored, expires))
	return hmac.Equal(got, want)
}

// ServeHTTP serves objects at {bucket}/{object}, the path PresignGet builds
// below BaseURL. Mount it with http.StripPrefix. Requests without a valid,
// unexpired signature get 403.
func (s *MemoryStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stored := r.URL.Path
	if !s.verify(stored, r.URL.Query()) {
		http.Error(w, "invalid or expired signature", http.StatusForbidden)
		return
	}
	data, err := s.Fetch(r.Context(), stored)
	if errors.Is(err, ErrObjectNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ct, ok := s.ContentType(stored); ok && ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(data)
	}
}
