package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const csrfHeader = "X-CSRF-Token"

// csrfWindow is how long one issued token stays valid, at least. A token
// signed in window n is accepted during windows n and n+1.
const csrfWindow = time.Hour

// csrfSkip lists mutating routes a till calls before it holds a token.
var csrfSkip = map[string]bool{
	"/api/v1/auth/login": true,
}

var errCSRF = errors.New("missing or invalid CSRF token")

// csrfSigner issues stateless tokens: the HMAC of the current window number.
type csrfSigner struct {
	key []byte
	now func() time.Time
}

func newCSRFSigner() *csrfSigner {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		key = []byte("posledger-csrf-fallback-signing!")
	}
	return &csrfSigner{key: key, now: time.Now}
}

func (c *csrfSigner) window() int64 {
	return c.now().UTC().Unix() / int64(csrfWindow/time.Second)
}

func (c *csrfSigner) sign(window int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(window))
	mac := hmac.New(sha256.New, c.key)
	mac.Write(buf[:])
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *csrfSigner) Issue() string {
	return c.sign(c.window())
}

func (c *csrfSigner) Valid(token string) bool {
	if token == "" {
		return false
	}
	current := c.window()
	for _, w := range []int64{current, current - 1} {
		if hmac.Equal([]byte(token), []byte(c.sign(w))) {
			return true
		}
	}
	return false
}

// checkCSRF writes 403 and returns false when a mutating request carries no
// valid token.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	if !isMutating(r.Method) || csrfSkip[r.URL.Path] {
		return true
	}
	if !a.csrf.Valid(strings.TrimSpace(r.Header.Get(csrfHeader))) {
		writeError(w, http.StatusForbidden, errCSRF)
		return false
	}
	return true
}

// attemptLimiter counts attempts per key in fixed windows. It guards login
// and manager PIN entry.
type attemptLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string]attemptBucket
}

type attemptBucket struct {
	opened time.Time
	count  int
}

func newAttemptLimiter(limit int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{
		limit:   max(limit, 1),
		window:  durationOr(window, time.Minute),
		now:     time.Now,
		buckets: make(map[string]attemptBucket),
	}
}

func durationOr(d time.Duration, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Allow records one attempt for key and reports whether it is within limit.
// Rejected attempts are not counted.
func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok || now.Sub(bucket.opened) >= l.window {
		l.sweep(now)
		l.buckets[key] = attemptBucket{opened: now, count: 1}
		return true
	}
	if bucket.count >= l.limit {
		return false
	}
	bucket.count++
	l.buckets[key] = bucket
	return true
}

// sweep drops expired buckets. Callers hold mu.
func (l *attemptLimiter) sweep(now time.Time) {
	for key, bucket := range l.buckets {
		if now.Sub(bucket.opened) >= l.window {
			delete(l.buckets, key)
		}
	}
}

// clientKey identifies the caller by remote IP.
func clientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
