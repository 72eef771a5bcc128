package blob

import (
	"context"
	"iter"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Op names a store operation for fault injection.
type Op string

const (
	OpGet    Op = "get"
	OpPut    Op = "put"
	OpDelete Op = "delete"
	OpList   Op = "list"
)

// MemoryStore implements Store in process memory.
// Versions are drawn from a single store-wide revision counter.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]*entry
	revision uint64
	faults   []fault
	closed   atomic.Bool
}

type entry struct {
	value       []byte
	contentType string
	revision    uint64
	created     time.Time
	modified    time.Time
}

type fault struct {
	op     Op
	prefix string
	err    error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*entry),
	}
}

// FailOn makes every op on a path with the given prefix return err until
// ClearFaults is called. For OpList the prefix is matched against the
// listing prefix.
func (s *MemoryStore) FailOn(op Op, prefix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{op: op, prefix: prefix, err: err})
}

// ClearFaults removes all injected failures.
func (s *MemoryStore) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// injected returns the first matching fault. Must be called with lock held.
func (s *MemoryStore) injected(op Op, path string) error {
	for _, f := range s.faults {
		if f.op == op && strings.HasPrefix(path, f.prefix) {
			return f.err
		}
	}
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Get retrieves an object.
func (s *MemoryStore) Get(ctx context.Context, path string) (*Object, error) {
	if err := s.check(ctx, path); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.injected(OpGet, path); err != nil {
		return nil, err
	}

	e, ok := s.data[path]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy to prevent mutation
	val := make([]byte, len(e.value))
	copy(val, e.value)

	return &Object{
		Path:        path,
		Data:        val,
		ContentType: e.contentType,
		Version:     revisionVersion(e.revision),
	}, nil
}

// Put stores an object, honouring IfVersion.
func (s *MemoryStore) Put(ctx context.Context, path string, data []byte, opts ...PutOption) (Version, error) {
	if err := s.check(ctx, path); err != nil {
		return "", err
	}
	o := ApplyPutOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return "", ErrClosed
	}
	if err := s.injected(OpPut, path); err != nil {
		return "", err
	}

	existing, exists := s.data[path]
	if o.Expected != "" {
		var current Version
		if exists {
			current = revisionVersion(existing.revision)
		}
		switch {
		case o.Expected == VersionNone && exists:
			return "", &ConflictError{Path: path, Expected: o.Expected, Current: current}
		case o.Expected != VersionNone && (!exists || current != o.Expected):
			if !exists {
				current = VersionNone
			}
			return "", &ConflictError{Path: path, Expected: o.Expected, Current: current}
		}
	}

	now := time.Now()
	s.revision++

	// Copy value to prevent external mutation
	val := make([]byte, len(data))
	copy(val, data)

	created := now
	if exists {
		created = existing.created
	}

	s.data[path] = &entry{
		value:       val,
		contentType: o.ContentType,
		revision:    s.revision,
		created:     created,
		modified:    now,
	}
	return revisionVersion(s.revision), nil
}

// Delete removes an object.
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := s.check(ctx, path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected(OpDelete, path); err != nil {
		return err
	}
	delete(s.data, path)
	return nil
}

// List yields paths under prefix from a snapshot taken when iteration starts.
func (s *MemoryStore) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s.closed.Load() {
			yield("", ErrClosed)
			return
		}

		s.mu.RLock()
		if err := s.injected(OpList, prefix); err != nil {
			s.mu.RUnlock()
			yield("", err)
			return
		}
		var paths []string
		for path := range s.data {
			if strings.HasPrefix(path, prefix) {
				paths = append(paths, path)
			}
		}
		s.mu.RUnlock()

		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(path, nil) {
				return
			}
		}
	}
}

// Stat returns object metadata.
func (s *MemoryStore) Stat(ctx context.Context, path string) (*ObjectInfo, error) {
	if err := s.check(ctx, path); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.injected(OpGet, path); err != nil {
		return nil, err
	}
	e, ok := s.data[path]
	if !ok {
		return nil, ErrNotFound
	}
	return &ObjectInfo{
		Path:        path,
		Size:        int64(len(e.value)),
		ContentType: e.contentType,
		Version:     revisionVersion(e.revision),
		Created:     e.created,
		Updated:     e.modified,
	}, nil
}

// Close shuts down the store and drops its contents.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

func (s *MemoryStore) check(ctx context.Context, path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func revisionVersion(rev uint64) Version {
	return Version(strconv.FormatUint(rev, 10))
}
