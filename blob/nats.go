package blob

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	terrors "github.com/vinayprograms/taskvault/errors"
)

// NATSStore implements Store on a NATS JetStream KeyValue bucket.
// Versions are KV revisions. Content types are not persisted.
type NATSStore struct {
	conn     *nats.Conn
	ownsConn bool
	kv       jetstream.KeyValue
	config   NATSStoreConfig
	closed   atomic.Bool
}

// NATSStoreConfig holds NATS KV store configuration.
type NATSStoreConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket name.
	Bucket string

	// MaxValueSize is the maximum value size in bytes. Media larger than
	// this cannot be stored.
	// Default: 8MB
	MaxValueSize int32

	// Replicas is the number of bucket replicas.
	// Default: 1
	Replicas int
}

// DefaultNATSStoreConfig returns configuration with sensible defaults.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:       "taskvault",
		MaxValueSize: 8 * 1024 * 1024,
		Replicas:     1,
	}
}

// NATSConnConfig holds connection settings for DialNATS.
type NATSConnConfig struct {
	URL            string
	Name           string
	Token          string
	User           string
	Password       string
	ReconnectWait  time.Duration
	MaxReconnects  int // -1 = unlimited
	ConnectTimeout time.Duration
}

// DefaultNATSConnConfig returns connection settings with sensible defaults.
func DefaultNATSConnConfig() NATSConnConfig {
	return NATSConnConfig{
		URL:            nats.DefaultURL,
		Name:           "taskvault",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// DialNATS connects to a NATS server.
func DialNATS(cfg NATSConnConfig) (*nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConnConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

// NewNATSStore creates a store over a KV bucket, creating the bucket if
// needed. The caller keeps ownership of cfg.Conn.
func NewNATSStore(ctx context.Context, cfg NATSStoreConfig) (*NATSStore, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultNATSStoreConfig().Bucket
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = DefaultNATSStoreConfig().MaxValueSize
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = DefaultNATSStoreConfig().Replicas
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		History:      1,
		MaxValueSize: cfg.MaxValueSize,
		Replicas:     cfg.Replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	return &NATSStore{
		conn:   cfg.Conn,
		kv:     kv,
		config: cfg,
	}, nil
}

// Get retrieves an object.
func (s *NATSStore) Get(ctx context.Context, path string) (*Object, error) {
	if err := s.check(path); err != nil {
		return nil, err
	}

	entry, err := s.kv.Get(ctx, encodeKey(path))
	if err != nil {
		return nil, s.mapError(err, "get", path, "")
	}

	return &Object{
		Path:    path,
		Data:    entry.Value(),
		Version: revisionVersion(entry.Revision()),
	}, nil
}

// Put stores an object. VersionNone uses kv.Create, any other expected
// version uses kv.Update with that revision.
func (s *NATSStore) Put(ctx context.Context, path string, data []byte, opts ...PutOption) (Version, error) {
	if err := s.check(path); err != nil {
		return "", err
	}
	o := ApplyPutOptions(opts...)
	key := encodeKey(path)

	var (
		rev uint64
		err error
	)
	switch o.Expected {
	case "":
		rev, err = s.kv.Put(ctx, key, data)
	case VersionNone:
		rev, err = s.kv.Create(ctx, key, data)
	default:
		expected, perr := strconv.ParseUint(string(o.Expected), 10, 64)
		if perr != nil {
			return "", terrors.InvalidInput(fmt.Sprintf("malformed revision %q", o.Expected))
		}
		rev, err = s.kv.Update(ctx, key, data, expected)
	}
	if err != nil {
		return "", s.mapError(err, "put", path, o.Expected)
	}
	return revisionVersion(rev), nil
}

// Delete removes an object. A missing object is not an error.
func (s *NATSStore) Delete(ctx context.Context, path string) error {
	if err := s.check(path); err != nil {
		return err
	}

	err := s.kv.Delete(ctx, encodeKey(path))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return s.mapError(err, "delete", path, "")
	}
	return nil
}

// List yields decoded keys under prefix. The bucket has no server-side
// prefix filter for arbitrary paths, so keys are filtered client-side.
func (s *NATSStore) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s.closed.Load() {
			yield("", ErrClosed)
			return
		}

		lister, err := s.kv.ListKeys(ctx)
		if err != nil {
			if errors.Is(err, jetstream.ErrNoKeysFound) {
				return
			}
			yield("", s.mapError(err, "list", prefix, ""))
			return
		}
		defer lister.Stop()

		for key := range lister.Keys() {
			path, err := decodeKey(key)
			if err != nil {
				continue
			}
			if !strings.HasPrefix(path, prefix) {
				continue
			}
			if !yield(path, nil) {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			yield("", terrors.Wrap(err, "nats list"))
		}
	}
}

// Stat returns the entry's size and revision.
func (s *NATSStore) Stat(ctx context.Context, path string) (*ObjectInfo, error) {
	if err := s.check(path); err != nil {
		return nil, err
	}

	entry, err := s.kv.Get(ctx, encodeKey(path))
	if err != nil {
		return nil, s.mapError(err, "stat", path, "")
	}
	return &ObjectInfo{
		Path:    path,
		Size:    int64(len(entry.Value())),
		Version: revisionVersion(entry.Revision()),
		Created: entry.Created(),
		Updated: entry.Created(), // KV entries only carry their write time
	}, nil
}

// Close marks the store closed and closes the connection if Open created it.
func (s *NATSStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.ownsConn && s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func (s *NATSStore) check(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *NATSStore) mapError(err error, op, path string, expected Version) error {
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return ErrNotFound
	}
	if isWrongLastSequence(err) {
		return &ConflictError{Path: path, Expected: expected}
	}
	return terrors.Wrap(err, "nats "+op, terrors.WithPath(path), terrors.WithMetadata("bucket", s.config.Bucket))
}

// isWrongLastSequence detects a failed Create or Update precondition.
func isWrongLastSequence(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return false
}

// KV keys allow only [-/_=.A-Za-z0-9] and must not start or end with '.'
// or contain empty tokens. Other bytes, and dots that would violate those
// rules, are written as =XX.
func encodeKey(path string) string {
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '.' && (i == 0 || i == len(path)-1 || path[i-1] == '.'):
			fmt.Fprintf(&b, "=%02X", c)
		case isKeyByte(c):
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}
	return b.String()
}

func decodeKey(key string) (string, error) {
	if !strings.Contains(key, "=") {
		return key, nil
	}
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		if key[i] != '=' {
			b.WriteByte(key[i])
			continue
		}
		if i+2 >= len(key) {
			return "", ErrInvalidPath
		}
		v, err := strconv.ParseUint(key[i+1:i+3], 16, 8)
		if err != nil {
			return "", ErrInvalidPath
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

func isKeyByte(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '-' || c == '/' || c == '_' || c == '.'
}
