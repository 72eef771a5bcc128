// Package uid allocates sequential task identifiers from a single counter
// object, using the blob store's conditional write as the only
// synchronisation between concurrent allocators.
package uid

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vinayprograms/taskvault/blob"
	terrors "github.com/vinayprograms/taskvault/errors"
	"github.com/vinayprograms/taskvault/logging"
)

// Defaults.
const (
	DefaultPrefix      = "SJ"
	DefaultCounterPath = "counters/uid.seq"
	DefaultAttempts    = 5
)

// Allocator hands out identifiers unique across every process sharing the
// counter object.
type Allocator struct {
	store    blob.Store
	path     string
	prefix   string
	attempts int
	logger   *logging.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithPrefix sets the identifier prefix.
func WithPrefix(prefix string) Option {
	return func(a *Allocator) {
		a.prefix = prefix
	}
}

// WithCounterPath sets the counter object path.
func WithCounterPath(path string) Option {
	return func(a *Allocator) {
		a.path = path
	}
}

// WithAttempts bounds the read-increment-write cycles per allocation.
func WithAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.attempts = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.logger = l.WithComponent("uid")
		}
	}
}

// New creates an allocator over store.
func New(store blob.Store, opts ...Option) *Allocator {
	a := &Allocator{
		store:    store,
		path:     DefaultCounterPath,
		prefix:   DefaultPrefix,
		attempts: DefaultAttempts,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns the next identifier. A lost race re-reads the counter
// and starts over; after the configured attempts it fails with EXHAUSTED.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= a.attempts; attempt++ {
		current, version, err := a.read(ctx)
		if err != nil {
			return "", err
		}

		next := current + 1
		_, err = a.store.Put(ctx, a.path, []byte(strconv.FormatUint(next, 10)),
			blob.WithContentType("text/plain"), blob.IfVersion(version))
		if err == nil {
			return Format(a.prefix, next), nil
		}
		if !errors.Is(err, blob.ErrConflict) {
			return "", terrors.Wrap(err, "write counter", terrors.WithPath(a.path))
		}

		a.logger.Warn("counter conflict, retrying", map[string]interface{}{
			"attempt": attempt,
			"next":    next,
		})
	}

	return "", terrors.New(terrors.ErrCodeExhausted,
		fmt.Sprintf("uid allocation failed after %d attempts", a.attempts),
		terrors.WithPath(a.path))
}

// Current returns the last allocated sequence number without allocating.
func (a *Allocator) Current(ctx context.Context) (uint64, error) {
	n, _, err := a.read(ctx)
	return n, err
}

// read loads the counter. An absent counter is 0 at VersionNone.
func (a *Allocator) read(ctx context.Context) (uint64, blob.Version, error) {
	obj, err := a.store.Get(ctx, a.path)
	if errors.Is(err, blob.ErrNotFound) {
		return 0, blob.VersionNone, nil
	}
	if err != nil {
		return 0, "", terrors.Wrap(err, "read counter", terrors.WithPath(a.path))
	}

	text := strings.TrimSpace(string(obj.Data))
	if text == "" {
		return 0, obj.Version, nil
	}
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, "", terrors.WrapWithCode(err, terrors.ErrCodeCorruption, "counter is not a decimal number", terrors.WithPath(a.path))
	}
	return n, obj.Version, nil
}

// Format renders a sequence number: zero-padded to four digits up to 9999,
// plain decimal beyond.
func Format(prefix string, n uint64) string {
	if n <= 9999 {
		return fmt.Sprintf("%s%04d", prefix, n)
	}
	return prefix + strconv.FormatUint(n, 10)
}

// Parse extracts the sequence number from an identifier with the given prefix.
func Parse(prefix, id string) (uint64, error) {
	digits, ok := strings.CutPrefix(id, prefix)
	if !ok || digits == "" {
		return 0, terrors.InvalidInput(fmt.Sprintf("identifier %q lacks prefix %q", id, prefix))
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, terrors.WrapWithCode(err, terrors.ErrCodeInvalidInput, fmt.Sprintf("identifier %q is not numeric", id))
	}
	return n, nil
}
