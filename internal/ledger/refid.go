package ledger

import (
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

type Kind string

const (
	KindCheckout Kind = "checkout"
	KindVoid     Kind = "void"
	KindReturn   Kind = "return"
)

var ErrMalformedRef = errors.New("malformed ref id")

// FormatRef renders a reference id as <kind>-<unix millis>.
func FormatRef(kind Kind, at time.Time) string {
	return string(kind) + "-" + strconv.FormatInt(at.UnixMilli(), 10)
}

// ParseRef splits a reference id into its kind and timestamp suffix.
func ParseRef(ref string) (Kind, string, error) {
	prefix, suffix, ok := strings.Cut(ref, "-")
	if !ok || suffix == "" {
		return "", "", ErrMalformedRef
	}
	if _, err := strconv.ParseInt(suffix, 10, 64); err != nil {
		return "", "", ErrMalformedRef
	}
	switch kind := Kind(prefix); kind {
	case KindCheckout, KindVoid, KindReturn:
		return kind, suffix, nil
	default:
		return "", "", ErrMalformedRef
	}
}

// KindOf returns the kind of ref, or "" when ref is malformed.
func KindOf(ref string) Kind {
	kind, _, err := ParseRef(ref)
	if err != nil {
		return ""
	}
	return kind
}

// VoidRefFor returns the void reference id correlated with a checkout.
func VoidRefFor(transactionNo string) (string, error) {
	kind, suffix, err := ParseRef(transactionNo)
	if err != nil {
		return "", err
	}
	if kind != KindCheckout {
		return "", ErrMalformedRef
	}
	return string(KindVoid) + "-" + suffix, nil
}

// CheckoutRefFor maps a void reference id back to the checkout it reverses.
func CheckoutRefFor(voidRef string) (string, error) {
	kind, suffix, err := ParseRef(voidRef)
	if err != nil {
		return "", err
	}
	if kind != KindVoid {
		return "", ErrMalformedRef
	}
	return string(KindCheckout) + "-" + suffix, nil
}

// Clock hands out strictly increasing millisecond timestamps so two events
// never share a reference id.
type Clock struct {
	now  func() time.Time
	last atomic.Int64
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

func (c *Clock) Next() time.Time {
	for {
		prev := c.last.Load()
		ts := c.now().UnixMilli()
		if ts <= prev {
			ts = prev + 1
		}
		if c.last.CompareAndSwap(prev, ts) {
			return time.UnixMilli(ts).UTC()
		}
	}
}
