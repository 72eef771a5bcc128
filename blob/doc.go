// Package blob adapts flat object storage to the operations the task store
// needs: get, put with an optional compare-and-swap precondition, delete,
// and lazy listing by prefix.
//
// Every object carries a backend-assigned Version. A Put made with
// IfVersion succeeds only while the live version still matches; otherwise it
// fails with an error matching ErrConflict. VersionNone means "the object
// must not exist yet".
//
// # Backends
//
//   - MemoryStore: in-process, for tests and local runs.
//   - GCSStore: Google Cloud Storage; versions are object generations.
//   - NATSStore: NATS JetStream KeyValue; versions are KV revisions.
//
// # Usage
//
//	store := blob.NewMemoryStore()
//	v, _ := store.Put(ctx, "counters/uid.seq", []byte("1"), blob.IfVersion(blob.VersionNone))
//	_, err := store.Put(ctx, "counters/uid.seq", []byte("2"), blob.IfVersion(blob.VersionNone))
//	errors.Is(err, blob.ErrConflict) // true
//
//	for path, err := range store.List(ctx, "tasks/") {
//	    ...
//	}
//
// No backend offers cross-object transactions.
package blob
