package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	terrors "github.com/vinayprograms/taskvault/errors"
)

// Common errors. ErrNotFound and ErrConflict keep their code when wrapped
// by terrors.Wrap.
var (
	ErrNotFound    error = codedError{"blob: object not found", terrors.ErrCodeNotFound}
	ErrConflict    error = codedError{"blob: version conflict", terrors.ErrCodeConflict}
	ErrClosed            = errors.New("blob: store closed")
	ErrInvalidPath       = errors.New("blob: invalid path")
)

type codedError struct {
	msg  string
	code terrors.ErrorCode
}

func (e codedError) Error() string                { return e.msg }
func (e codedError) ErrorCode() terrors.ErrorCode { return e.code }

// ConflictError reports a conditional write whose expected version no
// longer matched the stored object. It matches ErrConflict under errors.Is.
type ConflictError struct {
	Path     string
	Expected Version
	Current  Version // empty when the backend does not report it
}

func (e *ConflictError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("blob: version conflict on %s: expected %s", e.Path, e.Expected)
	}
	return fmt.Sprintf("blob: version conflict on %s: expected %s, current %s", e.Path, e.Expected, e.Current)
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ErrorCode classifies the error for terrors.Wrap.
func (e *ConflictError) ErrorCode() terrors.ErrorCode {
	return terrors.ErrCodeConflict
}

// Version is an opaque, backend-assigned object version token.
type Version string

// VersionNone is the expected version of an object that does not exist.
const VersionNone Version = "none"

// Object is a stored blob with its metadata.
type Object struct {
	Path        string
	Data        []byte
	ContentType string
	Version     Version
}

// ObjectInfo describes a stored object without its payload.
type ObjectInfo struct {
	Path        string
	Size        int64
	ContentType string
	Version     Version
	Created     time.Time
	Updated     time.Time
}

// Store is a flat blob namespace with per-object versions.
type Store interface {
	// Get returns the object at path.
	// Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, path string) (*Object, error)

	// Put writes data at path and returns the new version.
	// With IfVersion, the write fails with ErrConflict when the live
	// version differs from the expected one.
	Put(ctx context.Context, path string, data []byte, opts ...PutOption) (Version, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// List yields every path starting with prefix, in no particular order.
	// Iteration stops at the first error, which is yielded with an empty path.
	List(ctx context.Context, prefix string) iter.Seq2[string, error]

	// Stat returns object metadata.
	// Returns ErrNotFound if it does not exist.
	Stat(ctx context.Context, path string) (*ObjectInfo, error)

	// Close releases backend resources.
	Close() error
}

// PutOption configures a single Put.
type PutOption func(*PutOptions)

// PutOptions holds the resolved options of a Put. Backends read it through
// ApplyPutOptions.
type PutOptions struct {
	ContentType string
	Expected    Version // empty means unconditional
}

// WithContentType sets the stored content type. Empty keeps the default.
func WithContentType(ct string) PutOption {
	return func(o *PutOptions) {
		if ct != "" {
			o.ContentType = ct
		}
	}
}

// IfVersion makes the write conditional on the live version.
func IfVersion(v Version) PutOption {
	return func(o *PutOptions) {
		o.Expected = v
	}
}

// ApplyPutOptions resolves opts. The content type defaults to
// application/octet-stream.
func ApplyPutOptions(opts ...PutOption) PutOptions {
	o := PutOptions{ContentType: "application/octet-stream"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ValidatePath checks that path is a usable object name: non-empty,
// relative, without empty or dot segments, and free of control characters.
func ValidatePath(path string) error {
	if path == "" || len(path) > 1024 {
		return ErrInvalidPath
	}
	if strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return ErrInvalidPath
		}
	}
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return ErrInvalidPath
		}
	}
	return nil
}

// Collect drains a listing into a slice.
func Collect(seq iter.Seq2[string, error]) ([]string, error) {
	var out []string
	for path, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, path)
	}
	return out, nil
}

// PutJSON encodes v as JSON and stores it.
func PutJSON(ctx context.Context, s Store, path string, v any, opts ...PutOption) (Version, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	opts = append([]PutOption{WithContentType("application/json")}, opts...)
	return s.Put(ctx, path, data, opts...)
}

// GetJSON loads path and decodes it into v, returning the object's version.
func GetJSON(ctx context.Context, s Store, path string, v any) (Version, error) {
	obj, err := s.Get(ctx, path)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(obj.Data, v); err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return obj.Version, nil
}

// AppendLine adds line plus a trailing newline to the object at path,
// creating it when absent. The write is conditional on the version read,
// so a concurrent append makes it fail with ErrConflict rather than drop
// the other writer's line.
func AppendLine(ctx context.Context, s Store, path string, line []byte, contentType string) error {
	var buf bytes.Buffer
	expected := VersionNone
	obj, err := s.Get(ctx, path)
	switch {
	case err == nil:
		expected = obj.Version
		buf.Write(obj.Data)
		if buf.Len() > 0 && !bytes.HasSuffix(obj.Data, []byte("\n")) {
			buf.WriteByte('\n')
		}
	case errors.Is(err, ErrNotFound):
	default:
		return err
	}
	buf.Write(line)
	buf.WriteByte('\n')
	_, err = s.Put(ctx, path, buf.Bytes(), WithContentType(contentType), IfVersion(expected))
	return err
}
