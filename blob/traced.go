package blob

import (
	"context"
	"iter"

	"github.com/vinayprograms/taskvault/telemetry"
)

// Traced wraps a store so each call emits a client span. A listing span
// covers the whole iteration.
func Traced(s Store, backend string, tracer *telemetry.Tracer) Store {
	if tracer == nil {
		tracer = telemetry.GetTracer()
	}
	return &tracedStore{next: s, backend: backend, tracer: tracer}
}

type tracedStore struct {
	next    Store
	backend string
	tracer  *telemetry.Tracer
}

func (t *tracedStore) Get(ctx context.Context, path string) (*Object, error) {
	ctx, span := t.tracer.StartBlobSpan(ctx, t.backend, "get", path)
	obj, err := t.next.Get(ctx, path)
	size := 0
	if obj != nil {
		size = len(obj.Data)
	}
	t.tracer.EndBlobSpan(span, size, err)
	return obj, err
}

func (t *tracedStore) Put(ctx context.Context, path string, data []byte, opts ...PutOption) (Version, error) {
	ctx, span := t.tracer.StartBlobSpan(ctx, t.backend, "put", path)
	v, err := t.next.Put(ctx, path, data, opts...)
	t.tracer.EndBlobSpan(span, len(data), err)
	return v, err
}

func (t *tracedStore) Delete(ctx context.Context, path string) error {
	ctx, span := t.tracer.StartBlobSpan(ctx, t.backend, "delete", path)
	err := t.next.Delete(ctx, path)
	t.tracer.EndBlobSpan(span, 0, err)
	return err
}

func (t *tracedStore) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := t.tracer.StartBlobSpan(ctx, t.backend, "list", prefix)
		var listErr error
		defer func() { t.tracer.EndBlobSpan(span, 0, listErr) }()

		for path, err := range t.next.List(ctx, prefix) {
			if err != nil {
				listErr = err
			}
			if !yield(path, err) {
				return
			}
		}
	}
}

func (t *tracedStore) Stat(ctx context.Context, path string) (*ObjectInfo, error) {
	ctx, span := t.tracer.StartBlobSpan(ctx, t.backend, "stat", path)
	info, err := t.next.Stat(ctx, path)
	t.tracer.EndBlobSpan(span, 0, err)
	return info, err
}

func (t *tracedStore) Close() error {
	return t.next.Close()
}
