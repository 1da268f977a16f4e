// Package dedup drops repeated deliveries of the same push message within a
// short window.
package dedup

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/engagepush/backend/internal/kv"
)

const (
	DefaultWindow     = 2 * time.Second
	DefaultBucketSize = 10 * time.Second
	keyPrefix         = "dedup:"
)

// Message is what the filter needs to identify a delivery.
type Message struct {
	ID    string
	Title string
	Body  string
}

// Filter admits each logical message at most once per window.
type Filter struct {
	seen       kv.SeenSet
	window     time.Duration
	bucketSize time.Duration
	now        func() time.Time
}

// Option configures a Filter.
type Option func(*Filter)

func WithWindow(d time.Duration) Option {
	return func(f *Filter) { f.window = d }
}

func WithBucketSize(d time.Duration) Option {
	return func(f *Filter) { f.bucketSize = d }
}

func WithClock(now func() time.Time) Option {
	return func(f *Filter) { f.now = now }
}

func New(seen kv.SeenSet, opts ...Option) *Filter {
	f := &Filter{
		seen:       seen,
		window:     DefaultWindow,
		bucketSize: DefaultBucketSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Key derives the identity of a message: the transport id when present,
// otherwise a hash of title, body and a coarse time bucket.
func (f *Filter) Key(m Message) string {
	return f.keyAt(m, f.bucket(f.now()))
}

func (f *Filter) bucket(t time.Time) int64 {
	return t.UnixNano() / int64(f.bucketSize)
}

func (f *Filter) keyAt(m Message, bucket int64) string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	h := xxhash.New()
	_, _ = h.WriteString(m.Title)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(m.Body)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.FormatInt(bucket, 10))
	return "h:" + strconv.FormatUint(h.Sum64(), 16)
}

// Admit reports whether the message should be processed. A hashed message
// admitted within one window of a bucket boundary also claims the next
// bucket's key, so a repeat just across the boundary is still dropped.
func (f *Filter) Admit(ctx context.Context, m Message) (bool, error) {
	now := f.now()
	b := f.bucket(now)
	first, err := f.seen.MarkSeen(ctx, keyPrefix+f.keyAt(m, b), f.window)
	if err != nil || !first || m.ID != "" {
		return first, err
	}

	boundary := time.Unix(0, (b+1)*int64(f.bucketSize))
	if boundary.Sub(now) < f.window {
		if _, err := f.seen.MarkSeen(ctx, keyPrefix+f.keyAt(m, b+1), f.window); err != nil {
			return true, err
		}
	}
	return true, nil
}
