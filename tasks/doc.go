// Package tasks stores task documents on a blob backend and keeps the
// status and assignee indexes in step with them.
//
// Each task lives at tasks/<uid>.json. Identifiers come from the uid
// allocator; index markers are published through the index maintainer after
// the document write succeeds.
//
// # Consistency
//
// Document writes are unconditional read-modify-write: two callers changing
// the same task concurrently race, and the last write wins. Index markers
// follow the document, so a crash or backend failure between the two leaves
// the index stale until the task is written again or RebuildIndexes runs.
// When a marker update fails after the document was written, the operation
// returns the updated task together with an error matching ErrIndexStale.
//
// # Basic Usage
//
//	store := tasks.New(blob.NewMemoryStore())
//
//	task, err := store.Create(ctx, "Fix leak", "Kitchen sink drips", creator)
//	task, err = store.ChangeStatus(ctx, task.UID, tasks.StatusInProgress, admin, "")
//	ids, err := store.ListByStatus(ctx, tasks.StatusInProgress, 50)
//
// Entering StatusDone schedules every media item for deletion after the
// media retention period (seven days by default); DeleteExpiredMedia
// removes the blobs once that time has passed.
package tasks
