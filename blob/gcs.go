package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	terrors "github.com/vinayprograms/taskvault/errors"
)

// GCSStore implements Store on a Google Cloud Storage bucket.
// Versions are object generations.
type GCSStore struct {
	svc    *storage.Service
	bucket string
	closed atomic.Bool
}

// GCSConfig holds Cloud Storage configuration.
type GCSConfig struct {
	// Bucket is the bucket name (required).
	Bucket string

	// CredentialsFile is a service account JSON key. Empty uses
	// application default credentials.
	CredentialsFile string

	// Endpoint overrides the JSON API base URL, e.g. for an emulator.
	Endpoint string

	// Anonymous disables authentication. Only useful with Endpoint.
	Anonymous bool

	// HTTPClient replaces the transport entirely.
	HTTPClient *http.Client
}

// NewGCSStore creates a store bound to one bucket.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage service: %w", err)
	}

	return &GCSStore{svc: svc, bucket: cfg.Bucket}, nil
}

// Get downloads an object.
func (s *GCSStore) Get(ctx context.Context, path string) (*Object, error) {
	if err := s.check(path); err != nil {
		return nil, err
	}

	resp, err := s.svc.Objects.Get(s.bucket, path).Context(ctx).Download()
	if err != nil {
		return nil, s.mapError(err, "get", path, "")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, s.mapError(err, "read", path, "")
	}

	return &Object{
		Path:        path,
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Version:     Version(resp.Header.Get("X-Goog-Generation")),
	}, nil
}

// Put uploads an object. IfVersion maps to ifGenerationMatch, with
// VersionNone sent as generation 0.
func (s *GCSStore) Put(ctx context.Context, path string, data []byte, opts ...PutOption) (Version, error) {
	if err := s.check(path); err != nil {
		return "", err
	}
	o := ApplyPutOptions(opts...)

	call := s.svc.Objects.Insert(s.bucket, &storage.Object{
		Name:        path,
		ContentType: o.ContentType,
	}).Media(bytes.NewReader(data), googleapi.ContentType(o.ContentType)).Context(ctx)

	if o.Expected != "" {
		gen, err := generation(o.Expected)
		if err != nil {
			return "", err
		}
		call = call.IfGenerationMatch(gen)
	}

	obj, err := call.Do()
	if err != nil {
		return "", s.mapError(err, "put", path, o.Expected)
	}
	return Version(strconv.FormatInt(obj.Generation, 10)), nil
}

// Delete removes an object. A missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, path string) error {
	if err := s.check(path); err != nil {
		return err
	}

	err := s.svc.Objects.Delete(s.bucket, path).Context(ctx).Do()
	if err != nil {
		mapped := s.mapError(err, "delete", path, "")
		if errors.Is(mapped, ErrNotFound) {
			return nil
		}
		return mapped
	}
	return nil
}

// List pages through object names under prefix, fetching the next page only
// when the previous one has been consumed.
func (s *GCSStore) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s.closed.Load() {
			yield("", ErrClosed)
			return
		}

		pageToken := ""
		for {
			call := s.svc.Objects.List(s.bucket).Prefix(prefix).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			page, err := call.Do()
			if err != nil {
				yield("", s.mapError(err, "list", prefix, ""))
				return
			}
			for _, item := range page.Items {
				if !yield(item.Name, nil) {
					return
				}
			}
			if page.NextPageToken == "" {
				return
			}
			pageToken = page.NextPageToken
		}
	}
}

// Stat returns object metadata without downloading it.
func (s *GCSStore) Stat(ctx context.Context, path string) (*ObjectInfo, error) {
	if err := s.check(path); err != nil {
		return nil, err
	}

	obj, err := s.svc.Objects.Get(s.bucket, path).Context(ctx).Do()
	if err != nil {
		return nil, s.mapError(err, "stat", path, "")
	}

	info := &ObjectInfo{
		Path:        obj.Name,
		Size:        int64(obj.Size),
		ContentType: obj.ContentType,
		Version:     Version(strconv.FormatInt(obj.Generation, 10)),
	}
	if t, err := time.Parse(time.RFC3339, obj.TimeCreated); err == nil {
		info.Created = t
	}
	if t, err := time.Parse(time.RFC3339, obj.Updated); err == nil {
		info.Updated = t
	}
	return info, nil
}

// Close marks the store closed. The underlying HTTP client is shared and
// stays open.
func (s *GCSStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *GCSStore) check(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// mapError translates API errors into the package sentinels. 404 becomes
// ErrNotFound, 412 a ConflictError; anything else is an UNAVAILABLE error
// carrying the path.
func (s *GCSStore) mapError(err error, op, path string, expected Version) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusPreconditionFailed:
			return &ConflictError{Path: path, Expected: expected}
		}
	}
	return terrors.Wrap(err, "gcs "+op, terrors.WithPath(path), terrors.WithMetadata("bucket", s.bucket))
}

func generation(v Version) (int64, error) {
	if v == VersionNone {
		return 0, nil
	}
	gen, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, terrors.InvalidInput(fmt.Sprintf("malformed generation %q", v))
	}
	return gen, nil
}
