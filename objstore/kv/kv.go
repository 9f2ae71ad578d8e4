// Package kv implements an object store on a key-value bucket with
// HMAC-signed, expiring URLs served by its own HTTP handler.
package kv

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/collabtee/collabtee/objstore"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/storage/kv"
)

const (
	DefaultTTL = 15 * time.Minute

	opPut = "put"
	opGet = "get"
)

var (
	ErrExpired      = errors.New("url expired")
	ErrBadSignature = errors.New("bad signature")
)

// KV is an object store kept in a key-value bucket.
type KV struct {
	b       kv.Bucket
	baseURL string
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
	logger  log.Logger
	maxSize int64
}

// Option configures a KV.
type Option func(*KV)

// WithTTL sets how long issued URLs stay valid.
func WithTTL(ttl time.Duration) Option {
	return func(s *KV) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(s *KV) {
		s.logger = logger
	}
}

// WithMaxSize limits the size of an uploaded object in bytes.
func WithMaxSize(n int64) Option {
	return func(s *KV) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *KV) {
		s.now = now
	}
}

// New creates a new object store in b. Issued URLs start with baseURL,
// which must route to Handler, and are signed with secret.
func New(b kv.Bucket, baseURL string, secret []byte, opts ...Option) (*KV, error) {
	if b == nil {
		return nil, errors.New("nil bucket")
	}
	if len(secret) < 1 {
		return nil, errors.New("empty signing secret")
	}
	s := &KV{
		b:       b,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  log.NopLogger,
		maxSize: 1 << 30,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// key escapes ref into a single flat bucket key.
func key(ref string) string {
	return url.PathEscape(ref)
}

func (s *KV) sign(op, ref string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%s\n%d", op, ref, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *KV) signedURL(op, ref string) (string, error) {
	if err := objstore.ValidRef(ref); err != nil {
		return "", err
	}
	exp := s.now().Add(s.ttl).Unix()
	v := url.Values{}
	v.Set("op", op)
	v.Set("exp", strconv.FormatInt(exp, 10))
	v.Set("sig", s.sign(op, ref, exp))
	return s.baseURL + "/" + ref + "?" + v.Encode(), nil
}

// verify checks the signature and expiry of a request for ref.
func (s *KV) verify(op, ref string, q url.Values) error {
	if q.Get("op") != op {
		return ErrBadSignature
	}
	exp, err := strconv.ParseInt(q.Get("exp"), 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	sig, err := hex.DecodeString(q.Get("sig"))
	if err != nil {
		return ErrBadSignature
	}
	want, _ := hex.DecodeString(s.sign(op, ref, exp))
	if !hmac.Equal(sig, want) {
		return ErrBadSignature
	}
	if s.now().Unix() > exp {
		return ErrExpired
	}
	return nil
}

// PutURL implements objstore.Store.
func (s *KV) PutURL(_ context.Context, ref string) (string, error) {
	return s.signedURL(opPut, ref)
}

// GetURL implements objstore.Store.
func (s *KV) GetURL(_ context.Context, ref string) (string, error) {
	return s.signedURL(opGet, ref)
}

// Exists implements objstore.Store.
func (s *KV) Exists(ctx context.Context, ref string) (bool, error) {
	if err := objstore.ValidRef(ref); err != nil {
		return false, err
	}
	return s.b.Has(ctx, key(ref))
}

// Put stores an object directly.
func (s *KV) Put(ctx context.Context, ref string, v []byte) error {
	if err := objstore.ValidRef(ref); err != nil {
		return err
	}
	return s.b.Set(ctx, key(ref), v)
}

// Get reads an object directly.
func (s *KV) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := objstore.ValidRef(ref); err != nil {
		return nil, err
	}
	return s.b.Get(ctx, key(ref))
}
