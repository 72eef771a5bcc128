package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/taskvault/blob"
	terrors "github.com/vinayprograms/taskvault/errors"
	"github.com/vinayprograms/taskvault/index"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	admin  = UserRef{TelegramID: 100, Name: "Admin", Username: "boss"}
	worker = UserRef{TelegramID: 200, Name: "Worker"}
)

func newTestStore(t *testing.T) (*Store, *blob.MemoryStore, *fakeClock) {
	t.Helper()
	mem := blob.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	n := 0
	s := New(mem,
		WithClock(clock.Now),
		WithNoteIDGenerator(func() string { n++; return fmt.Sprintf("note-%d", n) }),
	)
	return s, mem, clock
}

func exists(t *testing.T, mem *blob.MemoryStore, path string) bool {
	t.Helper()
	_, err := mem.Stat(context.Background(), path)
	if err != nil && !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("Stat(%s) failed: %v", path, err)
	}
	return err == nil
}

func version(t *testing.T, mem *blob.MemoryStore, path string) blob.Version {
	t.Helper()
	info, err := mem.Stat(context.Background(), path)
	if err != nil {
		t.Fatalf("Stat(%s) failed: %v", path, err)
	}
	return info.Version
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ====================================================================
// Create / Get
// ====================================================================

func TestCreate(t *testing.T) {
	s, mem, clock := newTestStore(t)
	ctx := context.Background()

	task, err := s.Create(ctx, "Fix leak", "Kitchen sink", admin, MediaFile{
		Type:        MediaPhoto,
		Filename:    "sink.jpg",
		ContentType: "image/jpeg",
		Data:        []byte("jpeg"),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if task.UID != "SJ0001" || task.Status != StatusNew || task.Priority != PriorityMedium {
		t.Errorf("unexpected task %+v", task)
	}
	if !task.Timestamps.CreatedAt.Equal(clock.Now()) || !task.Timestamps.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("unexpected timestamps %+v", task.Timestamps)
	}
	if len(task.Media) != 1 || task.Media[0].Path != "media/SJ0001/sink.jpg" || task.Media[0].Metadata.Size != 4 {
		t.Fatalf("unexpected media %+v", task.Media)
	}
	if task.Media[0].DeleteAfter != nil {
		t.Error("new media should not be scheduled for deletion")
	}

	obj, err := mem.Get(ctx, "media/SJ0001/sink.jpg")
	if err != nil || string(obj.Data) != "jpeg" || obj.ContentType != "image/jpeg" {
		t.Errorf("media blob = %+v, %v", obj, err)
	}
	if !exists(t, mem, "by-status/new/SJ0001") {
		t.Error("expected status marker")
	}

	got, err := s.Get(ctx, "SJ0001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Title != "Fix leak" || got.CreatedBy == nil || *got.CreatedBy != admin {
		t.Errorf("unexpected stored task %+v", got)
	}

	second, err := s.Create(ctx, "Paint wall", "", admin)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if second.UID != "SJ0002" {
		t.Errorf("expected SJ0002, got %s", second.UID)
	}
}

func TestCreate_InvalidInput(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		title string
		media []MediaFile
	}{
		{"empty title", "  ", nil},
		{"bad media type", "t", []MediaFile{{Type: "gif", Filename: "a"}}},
		{"slash in filename", "t", []MediaFile{{Type: MediaPhoto, Filename: "a/b"}}},
		{"empty filename", "t", []MediaFile{{Type: MediaPhoto}}},
		{"duplicate filename", "t", []MediaFile{{Type: MediaPhoto, Filename: "a"}, {Type: MediaVideo, Filename: "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Create(ctx, tt.title, "", admin, tt.media...); !terrors.Is(err, terrors.ErrCodeInvalidInput) {
				t.Errorf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
	if mem.Len() != 0 {
		t.Errorf("rejected creates should write nothing, found %d objects", mem.Len())
	}
}

func TestCreate_MediaUploadFailure(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	mem.FailOn(blob.OpPut, "media/SJ0001/b", errors.New("quota exceeded"))

	_, err := s.Create(ctx, "Fix leak", "", admin,
		MediaFile{Type: MediaPhoto, Filename: "a.jpg", Data: []byte("a")},
		MediaFile{Type: MediaPhoto, Filename: "b.jpg", Data: []byte("b")},
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if !terrors.Is(err, terrors.ErrCodeUnavailable) {
		t.Errorf("expected UNAVAILABLE, got %v", err)
	}

	if exists(t, mem, "tasks/SJ0001.json") {
		t.Error("document must not be written when media upload fails")
	}
	if exists(t, mem, "media/SJ0001/a.jpg") {
		t.Error("uploaded media should be cleaned up")
	}
	if exists(t, mem, "by-status/new/SJ0001") {
		t.Error("marker must not be published")
	}
}

func TestCreate_IndexFailure(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	mem.FailOn(blob.OpPut, "by-status/", errors.New("throttled"))

	task, err := s.Create(ctx, "Fix leak", "", admin)
	if !errors.Is(err, ErrIndexStale) {
		t.Fatalf("expected ErrIndexStale, got %v", err)
	}
	var ie *IndexError
	if !errors.As(err, &ie) || ie.TaskID != "SJ0001" {
		t.Errorf("expected IndexError for SJ0001, got %v", err)
	}
	if task == nil || task.UID != "SJ0001" {
		t.Fatalf("task should be returned alongside index error, got %+v", task)
	}
	if !exists(t, mem, "tasks/SJ0001.json") {
		t.Error("document should be written")
	}

	mem.ClearFaults()
	rep, err := s.RebuildIndexes(ctx)
	if err != nil {
		t.Fatalf("RebuildIndexes failed: %v", err)
	}
	if rep.Published != 1 || !exists(t, mem, "by-status/new/SJ0001") {
		t.Errorf("rebuild should repair marker, report %+v", rep)
	}
}

func TestGet_NotFoundAndCorrupt(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "SJ9999"); !IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
	if _, err := s.Get(ctx, "../x"); !terrors.Is(err, terrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}

	mem.Put(ctx, "tasks/SJ0005.json", []byte("{not json"))
	if _, err := s.Get(ctx, "SJ0005"); !terrors.Is(err, terrors.ErrCodeCorruption) {
		t.Errorf("expected CORRUPTION, got %v", err)
	}
}

func TestGet_UIDMismatchIsCorrupt(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin)

	obj, _ := mem.Get(ctx, "tasks/SJ0001.json")
	mem.Put(ctx, "tasks/SJ0005.json", obj.Data)
	before := version(t, mem, "tasks/SJ0001.json")

	if _, err := s.ChangeStatus(ctx, "SJ0005", StatusDone, admin, ""); !terrors.Is(err, terrors.ErrCodeCorruption) {
		t.Fatalf("expected CORRUPTION, got %v", err)
	}
	if version(t, mem, "tasks/SJ0001.json") != before {
		t.Error("SJ0001 must not be written through another task's path")
	}
	task, _ := s.Get(ctx, "SJ0001")
	if task.Status != StatusNew {
		t.Errorf("expected SJ0001 to stay new, got %s", task.Status)
	}
}

func TestGetMany(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "one", "", admin)
	s.Create(ctx, "two", "", admin)

	got, err := s.GetMany(ctx, []string{"SJ0002", "SJ0404", "SJ0001"})
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if len(got) != 2 || got[0].UID != "SJ0002" || got[1].UID != "SJ0001" {
		t.Errorf("unexpected result %+v", got)
	}
}

// ====================================================================
// Update / status / assignment
// ====================================================================

func TestUpdate(t *testing.T) {
	s, mem, clock := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin)

	v := version(t, mem, "tasks/SJ0001.json")
	if _, err := s.Update(ctx, "SJ0001", WithTitle("Fix leak")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if version(t, mem, "tasks/SJ0001.json") != v {
		t.Error("unchanged update should not write")
	}

	clock.Advance(time.Hour)
	task, err := s.Update(ctx, "SJ0001", WithTitle("Fix big leak"), WithPriority(PriorityUrgent), WithDescription("now"))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if task.Title != "Fix big leak" || task.Priority != PriorityUrgent || task.Description != "now" {
		t.Errorf("unexpected task %+v", task)
	}
	if !task.Timestamps.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("updatedAt not bumped: %v", task.Timestamps.UpdatedAt)
	}

	if _, err := s.Update(ctx, "SJ0001", WithTitle("")); !terrors.Is(err, terrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
	if _, err := s.Update(ctx, "SJ0001", WithPriority("extreme")); !terrors.Is(err, terrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestChangeStatus_SelfTransitionWritesNothing(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin)
	s.ChangeStatus(ctx, "SJ0001", StatusInProgress, worker, "")

	before := version(t, mem, "tasks/SJ0001.json")
	objects := mem.Len()

	task, err := s.ChangeStatus(ctx, "SJ0001", StatusInProgress, worker, "again")
	if err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}
	if len(task.StatusHistory) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(task.StatusHistory))
	}
	if after := version(t, mem, "tasks/SJ0001.json"); after != before {
		t.Errorf("document rewritten: version %s -> %s", before, after)
	}
	if mem.Len() != objects {
		t.Errorf("object count changed %d -> %d", objects, mem.Len())
	}
}

func TestChangeStatus_Done(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin, MediaFile{Type: MediaPhoto, Filename: "a.jpg", Data: []byte("a")})
	s.AddNote(ctx, "SJ0001", "done soon", worker, &MediaFile{Type: MediaVoice, Filename: "v.ogg", Data: []byte("v")})

	clock.Advance(2 * time.Hour)
	doneAt := clock.Now()
	task, err := s.ChangeStatus(ctx, "SJ0001", StatusDone, admin, "")
	if err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}

	want := doneAt.Add(7 * 24 * time.Hour)
	if d := task.Media[0].DeleteAfter; d == nil || !d.Equal(want) {
		t.Errorf("expected deleteAfter %v, got %v", want, d)
	}
	if task.Notes[0].Media.DeleteAfter != nil {
		t.Error("note media should not be scheduled")
	}

	h := task.StatusHistory[len(task.StatusHistory)-1]
	if h.FromStatus != StatusNew || h.ToStatus != StatusDone || h.ChangedBy != admin || !h.ChangedAt.Equal(doneAt) {
		t.Errorf("unexpected history entry %+v", h)
	}

	stored, _ := s.Get(ctx, "SJ0001")
	if d := stored.Media[0].DeleteAfter; d == nil || !d.Equal(want) {
		t.Errorf("stored deleteAfter = %v", d)
	}
}

func TestChangeStatus_Invalid(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin)

	if _, err := s.ChangeStatus(ctx, "SJ0001", "archived", admin, ""); !terrors.Is(err, terrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
	if _, err := s.ChangeStatus(ctx, "SJ0404", StatusDone, admin, ""); !IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestListByStatus_FollowsTransitions(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Create(ctx, fmt.Sprintf("task %d", i), "", admin); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	steps := []struct {
		uid string
		to  Status
	}{
		{"SJ0001", StatusInProgress},
		{"SJ0002", StatusOnHold},
		{"SJ0001", StatusDonePendingReview},
		{"SJ0002", StatusInProgress},
		{"SJ0001", StatusDone},
		{"SJ0003", StatusCanceled},
	}
	for _, st := range steps {
		if _, err := s.ChangeStatus(ctx, st.uid, st.to, admin, ""); err != nil {
			t.Fatalf("ChangeStatus(%s, %s) failed: %v", st.uid, st.to, err)
		}
	}

	want := map[Status][]string{
		StatusNew:               nil,
		StatusInProgress:        {"SJ0002"},
		StatusOnHold:            nil,
		StatusDonePendingReview: nil,
		StatusDone:              {"SJ0001"},
		StatusCanceled:          {"SJ0003"},
	}
	for status, ids := range want {
		got, err := s.ListByStatus(ctx, status, 0)
		if err != nil {
			t.Fatalf("ListByStatus(%s) failed: %v", status, err)
		}
		if !equal(sorted(got), ids) {
			t.Errorf("ListByStatus(%s) = %v, want %v", status, got, ids)
		}
	}

	if _, err := s.ListByStatus(ctx, "bogus", 0); !terrors.Is(err, terrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestListByStatus_Limit(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Create(ctx, "t", "", admin)
	}
	got, err := s.ListByStatus(ctx, StatusNew, 2)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 ids, got %v", got)
	}
}

func TestAssign_Idempotent(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin)

	if _, err := s.Assign(ctx, "SJ0001", worker); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	v := version(t, mem, "tasks/SJ0001.json")

	task, err := s.Assign(ctx, "SJ0001", worker)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if len(task.Assignees) != 1 {
		t.Errorf("expected 1 assignee, got %d", len(task.Assignees))
	}
	if version(t, mem, "tasks/SJ0001.json") != v {
		t.Error("repeat assign should not rewrite the document")
	}

	markers, err := blob.Collect(mem.List(ctx, "by-assignee/"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if !equal(markers, []string{"by-assignee/200/SJ0001"}) {
		t.Errorf("expected exactly one marker, got %v", markers)
	}

	ids, _ := s.ListByAssignee(ctx, worker.TelegramID, 0)
	if !equal(ids, []string{"SJ0001"}) {
		t.Errorf("ListByAssignee = %v", ids)
	}
}

func TestUnassign(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin)
	s.Assign(ctx, "SJ0001", worker)
	s.Assign(ctx, "SJ0001", admin)

	task, err := s.Unassign(ctx, "SJ0001", worker.TelegramID)
	if err != nil {
		t.Fatalf("Unassign failed: %v", err)
	}
	if task.HasAssignee(worker.TelegramID) || !task.HasAssignee(admin.TelegramID) {
		t.Errorf("unexpected assignees %+v", task.Assignees)
	}
	if exists(t, mem, "by-assignee/200/SJ0001") {
		t.Error("marker should be retracted")
	}
	if !exists(t, mem, "by-assignee/100/SJ0001") {
		t.Error("remaining assignee marker should stay")
	}
}

// ====================================================================
// Notes
// ====================================================================

func TestAddNote(t *testing.T) {
	s, mem, clock := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin)

	clock.Advance(time.Minute)
	note, err := s.AddNote(ctx, "SJ0001", "bought parts", worker, &MediaFile{
		Type:        MediaDocument,
		Filename:    "receipt.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF"),
	})
	if err != nil {
		t.Fatalf("AddNote failed: %v", err)
	}
	if note.ID != "note-1" || note.Author != worker || !note.CreatedAt.Equal(clock.Now()) {
		t.Errorf("unexpected note %+v", note)
	}
	if note.Media == nil || note.Media.Path != "media/SJ0001/notes/receipt.pdf" {
		t.Fatalf("unexpected note media %+v", note.Media)
	}
	if !exists(t, mem, "media/SJ0001/notes/receipt.pdf") {
		t.Error("note media not uploaded")
	}

	task, _ := s.Get(ctx, "SJ0001")
	if len(task.Notes) != 1 || task.Notes[0].Content != "bought parts" {
		t.Errorf("unexpected notes %+v", task.Notes)
	}
	if !task.Timestamps.UpdatedAt.Equal(clock.Now()) {
		t.Error("updatedAt not bumped")
	}

	if _, err := s.AddNote(ctx, "SJ0001", " ", worker, nil); !terrors.Is(err, terrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

// ====================================================================
// Search
// ====================================================================

func TestSearch(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "Kitchen sink", admin)
	s.Create(ctx, "Paint wall", "Living room", admin)
	s.Create(ctx, "Kitchen lights", "", admin)
	mem.Put(ctx, "tasks/SJ0099.json", []byte("garbage"))

	tests := []struct {
		query string
		limit int
		want  int
	}{
		{"kitchen", 0, 2},
		{"KITCHEN", 1, 1},
		{"sj0002", 0, 1},
		{"roof", 0, 0},
	}
	for _, tt := range tests {
		got, err := s.Search(ctx, tt.query, tt.limit)
		if err != nil {
			t.Fatalf("Search(%q) failed: %v", tt.query, err)
		}
		if len(got) != tt.want {
			t.Errorf("Search(%q, %d) = %v, want %d results", tt.query, tt.limit, got, tt.want)
		}
	}
}

func TestSearch_ListFailure(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin)
	mem.FailOn(blob.OpList, "tasks/", errors.New("listing broke"))

	if _, err := s.Search(ctx, "leak", 0); !terrors.Is(err, terrors.ErrCodeUnavailable) {
		t.Errorf("expected UNAVAILABLE, got %v", err)
	}
}

// ====================================================================
// Media retention
// ====================================================================

func TestDeleteExpiredMedia_FixLeak(t *testing.T) {
	s, mem, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "Fix leak", "Kitchen", admin,
		MediaFile{Type: MediaPhoto, Filename: "before.jpg", Data: []byte("1")},
		MediaFile{Type: MediaVideo, Filename: "drip.mp4", Data: []byte("2")},
	)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	s.Create(ctx, "Untouched", "", admin, MediaFile{Type: MediaPhoto, Filename: "keep.jpg", Data: []byte("3")})

	if _, err := s.ChangeStatus(ctx, "SJ0001", StatusDone, admin, ""); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}

	res, err := s.DeleteExpiredMedia(ctx)
	if err != nil {
		t.Fatalf("DeleteExpiredMedia failed: %v", err)
	}
	if res.Deleted != 0 || res.Scanned != 2 {
		t.Errorf("sweep before expiry = %+v", res)
	}

	clock.Advance(8 * 24 * time.Hour)
	before, _ := s.Get(ctx, "SJ0001")

	res, err = s.DeleteExpiredMedia(ctx)
	if err != nil {
		t.Fatalf("DeleteExpiredMedia failed: %v", err)
	}
	if res.Deleted != 2 || res.Scanned != 2 {
		t.Errorf("expected 2 deleted of 2 scanned, got %+v", res)
	}
	for _, p := range []string{"media/SJ0001/before.jpg", "media/SJ0001/drip.mp4"} {
		if exists(t, mem, p) {
			t.Errorf("%s should be deleted", p)
		}
	}
	if !exists(t, mem, "media/SJ0002/keep.jpg") {
		t.Error("media of an open task must survive")
	}

	after, _ := s.Get(ctx, "SJ0001")
	if len(after.Media) != 0 {
		t.Errorf("expected no media left, got %+v", after.Media)
	}
	if !after.Timestamps.UpdatedAt.Equal(before.Timestamps.UpdatedAt) {
		t.Error("sweep should not bump updatedAt")
	}

	res, err = s.DeleteExpiredMedia(ctx)
	if err != nil {
		t.Fatalf("second DeleteExpiredMedia failed: %v", err)
	}
	if res.Deleted != 0 {
		t.Errorf("second sweep deleted %d", res.Deleted)
	}
}

func TestDeleteExpiredMedia_PartialFailure(t *testing.T) {
	s, mem, clock := newTestStore(t)
	ctx := context.Background()

	s.Create(ctx, "Fix leak", "", admin,
		MediaFile{Type: MediaPhoto, Filename: "a.jpg", Data: []byte("a")},
		MediaFile{Type: MediaPhoto, Filename: "b.jpg", Data: []byte("b")},
	)
	s.ChangeStatus(ctx, "SJ0001", StatusDone, admin, "")
	clock.Advance(8 * 24 * time.Hour)

	mem.FailOn(blob.OpDelete, "media/SJ0001/b.jpg", errors.New("denied"))
	res, err := s.DeleteExpiredMedia(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Deleted != 1 {
		t.Errorf("expected 1 deleted, got %+v", res)
	}

	task, _ := s.Get(ctx, "SJ0001")
	if len(task.Media) != 1 || task.Media[0].Metadata.Filename != "b.jpg" {
		t.Fatalf("failed item should remain, got %+v", task.Media)
	}

	mem.ClearFaults()
	res, err = s.DeleteExpiredMedia(ctx)
	if err != nil || res.Deleted != 1 {
		t.Errorf("retry sweep = %+v, %v", res, err)
	}
}

// ====================================================================
// Delete / rebuild
// ====================================================================

func TestDelete(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin)
	s.Assign(ctx, "SJ0001", worker)

	if err := s.Delete(ctx, "SJ0001"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	for _, p := range []string{"tasks/SJ0001.json", "by-status/new/SJ0001", "by-assignee/200/SJ0001"} {
		if exists(t, mem, p) {
			t.Errorf("%s should be gone", p)
		}
	}
	if err := s.Delete(ctx, "SJ0001"); !IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestDelete_RetractsStaleMarkers(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin)
	s.Create(ctx, "Other", "", admin)
	s.Assign(ctx, "SJ0002", worker)

	// Left behind by lost updates.
	mem.Put(ctx, "by-status/in_progress/SJ0001", nil)
	mem.Put(ctx, "by-assignee/300/SJ0001", nil)

	if err := s.Delete(ctx, "SJ0001"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ids, err := s.ListByStatus(ctx, StatusInProgress, 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("deleted task still indexed: %v", ids)
	}
	if exists(t, mem, "by-assignee/300/SJ0001") {
		t.Error("stale assignee marker should be gone")
	}
	if !exists(t, mem, "by-assignee/200/SJ0002") || !exists(t, mem, "by-status/new/SJ0002") {
		t.Error("other task's markers must survive")
	}
}

func TestDelete_AssigneeWalkFailureKeepsDocument(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin)

	mem.FailOn(blob.OpList, "by-assignee/", errors.New("listing broke"))
	if err := s.Delete(ctx, "SJ0001"); err == nil {
		t.Fatal("expected error")
	}
	if !exists(t, mem, "tasks/SJ0001.json") || !exists(t, mem, "by-status/new/SJ0001") {
		t.Error("nothing should be removed when markers cannot be enumerated")
	}
}

func TestDelete_MarkerFailureKeepsDocument(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin)

	mem.FailOn(blob.OpDelete, "by-status/", errors.New("denied"))
	if err := s.Delete(ctx, "SJ0001"); err == nil {
		t.Fatal("expected error")
	}
	if !exists(t, mem, "tasks/SJ0001.json") {
		t.Error("document should remain while markers survive")
	}
}

func TestRebuildIndexes(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "one", "", admin)
	s.Create(ctx, "two", "", admin)
	s.Assign(ctx, "SJ0002", worker)

	// Stale markers and a missing one.
	mem.Put(ctx, "by-status/done/SJ0001", nil)
	mem.Put(ctx, "by-assignee/999/SJ0002", nil)
	mem.Put(ctx, "by-status/new/SJ0404", nil)
	mem.Delete(ctx, "by-assignee/200/SJ0002")

	// Undecodable document keeps its markers.
	mem.Put(ctx, "tasks/SJ0050.json", []byte("{"))
	mem.Put(ctx, "by-status/new/SJ0050", nil)

	rep, err := s.RebuildIndexes(ctx)
	if err != nil {
		t.Fatalf("RebuildIndexes failed: %v", err)
	}
	if rep.Scanned != 2 || rep.Published != 3 || rep.Retracted != 3 {
		t.Errorf("unexpected report %+v", rep)
	}

	var markers []string
	for _, dim := range index.Dimensions {
		paths, err := blob.Collect(mem.List(ctx, string(dim)+"/"))
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		markers = append(markers, paths...)
	}
	want := []string{
		"by-assignee/200/SJ0002",
		"by-status/new/SJ0001",
		"by-status/new/SJ0002",
		"by-status/new/SJ0050",
	}
	if !equal(sorted(markers), want) {
		t.Errorf("markers = %v, want %v", sorted(markers), want)
	}
}

func TestRebuildIndexes_ScanFailureRetractsNothing(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	mem.Put(ctx, "by-status/new/SJ0404", nil)
	mem.FailOn(blob.OpList, "tasks/", errors.New("listing broke"))

	if _, err := s.RebuildIndexes(ctx); err == nil {
		t.Fatal("expected error")
	}
	if !exists(t, mem, "by-status/new/SJ0404") {
		t.Error("markers must not be retracted after a failed scan")
	}
}

// ====================================================================
// Media download / concurrency
// ====================================================================

func TestDownloadMedia(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin, MediaFile{Type: MediaPhoto, Filename: "a.jpg", ContentType: "image/jpeg", Data: []byte("img")})

	obj, err := s.DownloadMedia(ctx, "media/SJ0001/a.jpg")
	if err != nil {
		t.Fatalf("DownloadMedia failed: %v", err)
	}
	if string(obj.Data) != "img" {
		t.Errorf("unexpected data %q", obj.Data)
	}
	if _, err := s.DownloadMedia(ctx, "tasks/SJ0001.json"); !terrors.Is(err, terrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
	if _, err := s.DownloadMedia(ctx, "media/SJ0001/missing.jpg"); !terrors.Is(err, terrors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestDeleteMedia(t *testing.T) {
	s, mem, clock := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin,
		MediaFile{Type: MediaPhoto, Filename: "a.jpg", Data: []byte("a")},
		MediaFile{Type: MediaPhoto, Filename: "b.jpg", Data: []byte("b")},
	)
	s.AddNote(ctx, "SJ0001", "see photo", worker, &MediaFile{Type: MediaPhoto, Filename: "c.jpg", Data: []byte("c")})
	s.ChangeStatus(ctx, "SJ0001", StatusDone, admin, "")
	clock.Advance(time.Hour)

	task, err := s.DeleteMedia(ctx, "SJ0001", "a.jpg")
	if err != nil {
		t.Fatalf("DeleteMedia failed: %v", err)
	}
	if len(task.Media) != 1 || task.Media[0].Metadata.Filename != "b.jpg" {
		t.Errorf("unexpected media %+v", task.Media)
	}
	if !task.Timestamps.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("updatedAt = %v, want %v", task.Timestamps.UpdatedAt, clock.Now())
	}
	if exists(t, mem, "media/SJ0001/a.jpg") {
		t.Error("blob should be deleted")
	}

	task, err = s.DeleteMedia(ctx, "SJ0001", "notes/c.jpg")
	if err != nil {
		t.Fatalf("DeleteMedia failed: %v", err)
	}
	if task.Notes[0].Media != nil || task.Notes[0].Content != "see photo" {
		t.Errorf("note media should be dropped, note kept: %+v", task.Notes[0])
	}
	if exists(t, mem, "media/SJ0001/notes/c.jpg") {
		t.Error("note blob should be deleted")
	}

	stored, _ := s.Get(ctx, "SJ0001")
	if len(stored.Media) != 1 || stored.Notes[0].Media != nil {
		t.Errorf("document not persisted: %+v", stored)
	}

	tests := []struct {
		name     string
		uid      string
		filename string
		code     terrors.ErrorCode
	}{
		{"missing file", "SJ0001", "a.jpg", terrors.ErrCodeNotFound},
		{"missing task", "SJ0404", "a.jpg", terrors.ErrCodeNotFound},
		{"empty filename", "SJ0001", "", terrors.ErrCodeInvalidInput},
		{"escaping filename", "SJ0001", "../SJ0002/x.jpg", terrors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.DeleteMedia(ctx, tt.uid, tt.filename); !terrors.Is(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestDeleteMedia_UnreferencedBlob(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()
	s.Create(ctx, "Fix leak", "", admin)
	mem.Put(ctx, "media/SJ0001/stray.jpg", []byte("x"))
	before := version(t, mem, "tasks/SJ0001.json")

	if _, err := s.DeleteMedia(ctx, "SJ0001", "stray.jpg"); err != nil {
		t.Fatalf("DeleteMedia failed: %v", err)
	}
	if exists(t, mem, "media/SJ0001/stray.jpg") {
		t.Error("stray blob should be deleted")
	}
	if version(t, mem, "tasks/SJ0001.json") != before {
		t.Error("document should not be rewritten")
	}
}

func TestConcurrentCreateUniqueIDs(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	ids := make(chan string, workers*4)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 4; j++ {
				task, err := s.Create(ctx, "t", "", admin)
				if err != nil && !terrors.Is(err, terrors.ErrCodeExhausted) {
					t.Errorf("Create failed: %v", err)
					return
				}
				if task != nil {
					ids <- task.UID
				}
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
