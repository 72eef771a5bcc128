package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/taskvault/blob"
	terrors "github.com/vinayprograms/taskvault/errors"
	"github.com/vinayprograms/taskvault/index"
	"github.com/vinayprograms/taskvault/logging"
	"github.com/vinayprograms/taskvault/telemetry"
	"github.com/vinayprograms/taskvault/uid"
)

// DefaultMediaRetention is how long media survives after a task is done.
const DefaultMediaRetention = 7 * 24 * time.Hour

// markerAttempts bounds marker retraction rounds in Delete.
const markerAttempts = 3

// Store implements task persistence over a blob store.
type Store struct {
	blobs     blob.Store
	alloc     *uid.Allocator
	index     *index.Maintainer
	logger    *logging.Logger
	tracer    *telemetry.Tracer
	clock     func() time.Time
	retention time.Duration
	noteID    func() string
	uidOpts   []uid.Option
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Store) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMediaRetention sets how long media is kept once a task is done.
func WithMediaRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithUIDPrefix sets the identifier prefix.
func WithUIDPrefix(prefix string) Option {
	return func(s *Store) {
		s.uidOpts = append(s.uidOpts, uid.WithPrefix(prefix))
	}
}

// WithAllocatorAttempts bounds identifier allocation retries.
func WithAllocatorAttempts(n int) Option {
	return func(s *Store) {
		s.uidOpts = append(s.uidOpts, uid.WithAttempts(n))
	}
}

// WithNoteIDGenerator sets the note id generator.
func WithNoteIDGenerator(gen func() string) Option {
	return func(s *Store) {
		s.noteID = gen
	}
}

// New creates a task store over blobs.
func New(blobs blob.Store, opts ...Option) *Store {
	s := &Store{
		blobs:     blobs,
		logger:    logging.Discard(),
		tracer:    telemetry.GetTracer(),
		clock:     time.Now,
		retention: DefaultMediaRetention,
		noteID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("tasks")
	s.alloc = uid.New(blobs, append([]uid.Option{uid.WithLogger(s.logger)}, s.uidOpts...)...)
	s.index = index.New(blobs, index.WithLogger(s.logger))
	return s
}

// MediaFile is an attachment supplied by the caller.
type MediaFile struct {
	Type        MediaType
	Filename    string
	ContentType string
	Data        []byte
}

func (f MediaFile) validate() error {
	if !f.Type.Valid() {
		return terrors.InvalidInput(fmt.Sprintf("unknown media type %q", f.Type))
	}
	if f.Filename == "" || strings.ContainsAny(f.Filename, "/\\") || f.Filename == "." || f.Filename == ".." {
		return terrors.InvalidInput(fmt.Sprintf("invalid media filename %q", f.Filename))
	}
	return nil
}

// Create allocates an identifier, uploads the media, writes the NEW
// document and publishes its status marker. A failed upload aborts the
// creation before any document is written.
func (s *Store) Create(ctx context.Context, title, description string, creator UserRef, media ...MediaFile) (task *Task, err error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "create", "")
	defer func() {
		s.tracer.EndStoreSpan(span, telemetry.StoreSpanOptions{Status: string(StatusNew), Detail: title}, err)
	}()

	if strings.TrimSpace(title) == "" {
		return nil, terrors.InvalidInput("title is required")
	}
	seen := make(map[string]bool, len(media))
	for _, f := range media {
		if err := f.validate(); err != nil {
			return nil, err
		}
		if seen[f.Filename] {
			return nil, terrors.InvalidInput(fmt.Sprintf("duplicate media filename %q", f.Filename))
		}
		seen[f.Filename] = true
	}

	id, err := s.alloc.Allocate(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	creatorRef := creator
	t := &Task{
		UID:         id,
		Title:       title,
		Description: description,
		Status:      StatusNew,
		Priority:    PriorityMedium,
		CreatedBy:   &creatorRef,
		Timestamps:  Timestamps{CreatedAt: now, UpdatedAt: now},
	}
	normalize(t)

	var uploaded []string
	for _, f := range media {
		item, err := s.upload(ctx, id, mediaPath(id, f.Filename), f)
		if err != nil {
			s.discard(ctx, uploaded)
			return nil, err
		}
		uploaded = append(uploaded, item.Path)
		t.Media = append(t.Media, item)
	}

	if err := s.write(ctx, t); err != nil {
		s.discard(ctx, uploaded)
		return nil, err
	}
	s.logger.TaskCreated(id, len(t.Media))

	return t, s.syncIndex(ctx, t, nil)
}

// Get loads a task. A missing task is a NOT_FOUND error.
func (s *Store) Get(ctx context.Context, uid string) (task *Task, err error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "get", uid)
	defer func() { s.tracer.EndStoreSpan(span, telemetry.StoreSpanOptions{}, err) }()

	return s.load(ctx, uid)
}

// GetMany loads the given tasks in order, skipping any that no longer exist.
func (s *Store) GetMany(ctx context.Context, uids []string) ([]*Task, error) {
	out := make([]*Task, 0, len(uids))
	for _, id := range uids {
		t, err := s.load(ctx, id)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, t)
	}
	return out, nil
}

// UpdateOption edits a task field in Update.
type UpdateOption func(*Task) error

// WithTitle replaces the title.
func WithTitle(title string) UpdateOption {
	return func(t *Task) error {
		if strings.TrimSpace(title) == "" {
			return terrors.InvalidInput("title is required")
		}
		t.Title = title
		return nil
	}
}

// WithDescription replaces the description.
func WithDescription(description string) UpdateOption {
	return func(t *Task) error {
		t.Description = description
		return nil
	}
}

// WithPriority replaces the priority.
func WithPriority(p Priority) UpdateOption {
	return func(t *Task) error {
		if _, err := ParsePriority(string(p)); err != nil {
			return err
		}
		t.Priority = p
		return nil
	}
}

// Update applies administrative edits. Nothing is written when the edits
// leave the task unchanged.
func (s *Store) Update(ctx context.Context, uid string, opts ...UpdateOption) (task *Task, err error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "update", uid)
	defer func() { s.tracer.EndStoreSpan(span, telemetry.StoreSpanOptions{}, err) }()

	t, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}

	before := [3]string{t.Title, t.Description, string(t.Priority)}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	if before == [3]string{t.Title, t.Description, string(t.Priority)} {
		return t, nil
	}

	t.Timestamps.UpdatedAt = s.now()
	if err := s.write(ctx, t); err != nil {
		return nil, err
	}
	return t, s.syncIndex(ctx, t, nil)
}

// ChangeStatus moves a task to a new status. Setting the current status
// again writes nothing and succeeds.
func (s *Store) ChangeStatus(ctx context.Context, uid string, to Status, by UserRef, reason string) (task *Task, err error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "change_status", uid)
	defer func() {
		s.tracer.EndStoreSpan(span, telemetry.StoreSpanOptions{Status: string(to)}, err)
	}()

	if !to.Valid() {
		return nil, terrors.InvalidInput(fmt.Sprintf("unknown status %q", to), terrors.WithTaskID(uid))
	}

	t, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}

	from := t.Status
	if !t.transition(to, by, reason, s.now(), s.retention) {
		return t, nil
	}
	if err := s.write(ctx, t); err != nil {
		return nil, err
	}
	s.logger.StatusChanged(uid, string(from), string(to), strconv.FormatInt(by.TelegramID, 10))

	return t, s.syncIndex(ctx, t, []index.Marker{{Dimension: index.ByStatus, Value: string(from), TaskID: uid}})
}

// Assign adds a user to the task. Assigning an existing assignee only
// republishes the markers.
func (s *Store) Assign(ctx context.Context, uid string, user UserRef) (task *Task, err error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "assign", uid)
	defer func() { s.tracer.EndStoreSpan(span, telemetry.StoreSpanOptions{}, err) }()

	t, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	if t.addAssignee(user, s.now()) {
		if err := s.write(ctx, t); err != nil {
			return nil, err
		}
	}
	return t, s.syncIndex(ctx, t, nil)
}

// Unassign removes a user from the task and retracts their marker.
func (s *Store) Unassign(ctx context.Context, uid string, telegramID int64) (task *Task, err error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "unassign", uid)
	defer func() { s.tracer.EndStoreSpan(span, telemetry.StoreSpanOptions{}, err) }()

	t, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}
	if t.removeAssignee(telegramID, s.now()) {
		if err := s.write(ctx, t); err != nil {
			return nil, err
		}
	}
	stale := []index.Marker{{Dimension: index.ByAssignee, Value: strconv.FormatInt(telegramID, 10), TaskID: uid}}
	return t, s.syncIndex(ctx, t, stale)
}

// AddNote appends a note, uploading its attachment first when present.
func (s *Store) AddNote(ctx context.Context, uid, content string, author UserRef, media *MediaFile) (note *Note, err error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "add_note", uid)
	defer func() { s.tracer.EndStoreSpan(span, telemetry.StoreSpanOptions{Detail: content}, err) }()

	if strings.TrimSpace(content) == "" && media == nil {
		return nil, terrors.InvalidInput("note needs content or media", terrors.WithTaskID(uid))
	}
	if media != nil {
		if err := media.validate(); err != nil {
			return nil, err
		}
	}

	t, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}

	now := s.now()
	n := Note{
		ID:        s.noteID(),
		Content:   content,
		Author:    author,
		CreatedAt: now,
	}
	if media != nil {
		item, err := s.upload(ctx, uid, noteMediaPath(uid, media.Filename), *media)
		if err != nil {
			return nil, err
		}
		n.Media = &item
	}

	t.Notes = append(t.Notes, n)
	t.Timestamps.UpdatedAt = now
	if err := s.write(ctx, t); err != nil {
		return nil, err
	}
	return &n, s.syncIndex(ctx, t, nil)
}

// ListByStatus returns up to limit task ids currently indexed under status.
func (s *Store) ListByStatus(ctx context.Context, status Status, limit int) ([]string, error) {
	if !status.Valid() {
		return nil, terrors.InvalidInput(fmt.Sprintf("unknown status %q", status))
	}
	return s.index.List(ctx, index.ByStatus, string(status), limit)
}

// ListByAssignee returns up to limit task ids assigned to the user.
func (s *Store) ListByAssignee(ctx context.Context, telegramID int64, limit int) ([]string, error) {
	return s.index.List(ctx, index.ByAssignee, strconv.FormatInt(telegramID, 10), limit)
}

// Search scans every task document for a case-insensitive substring match
// on uid, title or description. It reads all documents in the worst case.
func (s *Store) Search(ctx context.Context, query string, limit int) (ids []string, err error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "search", "")
	scanned := 0
	defer func() {
		s.tracer.EndStoreSpan(span, telemetry.StoreSpanOptions{Scanned: scanned, Detail: query}, err)
	}()

	scanned, _, err = s.each(ctx, func(t *Task) error {
		if !t.Matches(query) {
			return nil
		}
		ids = append(ids, t.UID)
		if limit > 0 && len(ids) >= limit {
			return errStopScan
		}
		return nil
	})
	return ids, err
}

// SweepResult counts the work done by DeleteExpiredMedia.
type SweepResult struct {
	Deleted int `json:"deleted_files"`
	Scanned int `json:"checked_tasks"`
}

// DeleteExpiredMedia deletes every media blob whose deletion time has
// passed and drops it from its task. Items whose blob could not be
// deleted stay on the task for the next run. Running it again right away
// deletes nothing.
func (s *Store) DeleteExpiredMedia(ctx context.Context) (res SweepResult, err error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "delete_expired_media", "")
	defer func() {
		s.tracer.EndStoreSpan(span, telemetry.StoreSpanOptions{Scanned: res.Scanned, Changed: res.Deleted}, err)
	}()

	now := s.now()
	var failures []error

	res.Scanned, _, err = s.each(ctx, func(t *Task) error {
		removed := t.dropExpiredMedia(now, func(m MediaItem) bool {
			if err := s.blobs.Delete(ctx, m.Path); err != nil {
				s.logger.Warn("media delete failed", map[string]interface{}{
					"uid":   t.UID,
					"path":  m.Path,
					"error": err,
				})
				failures = append(failures, terrors.Wrap(err, "delete media", terrors.WithPath(m.Path), terrors.WithTaskID(t.UID)))
				return false
			}
			return true
		})
		if removed == 0 {
			return nil
		}
		if err := s.write(ctx, t); err != nil {
			failures = append(failures, err)
			return nil
		}
		res.Deleted += removed
		return nil
	})
	if err != nil {
		return res, err
	}
	if len(failures) > 0 {
		return res, terrors.Wrap(errors.Join(failures...), fmt.Sprintf("%d media cleanups failed", len(failures)))
	}
	return res, nil
}

// Delete retracts every marker of the task and then deletes its document.
// Marker retraction is retried; the document is left in place if any
// marker survives.
func (s *Store) Delete(ctx context.Context, uid string) (err error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "delete", uid)
	defer func() { s.tracer.EndStoreSpan(span, telemetry.StoreSpanOptions{}, err) }()

	t, err := s.load(ctx, uid)
	if err != nil {
		return err
	}

	pending, err := s.referencing(ctx, t)
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < markerAttempts && len(pending) > 0; attempt++ {
		if err := ctx.Err(); err != nil {
			return terrors.Wrap(err, "delete task", terrors.WithTaskID(uid))
		}
		var failed []index.Marker
		for _, m := range pending {
			if err := s.index.Retract(ctx, m.Dimension, m.Value, m.TaskID); err != nil {
				failed = append(failed, m)
				lastErr = err
			}
		}
		pending = failed
	}
	if len(pending) > 0 {
		return terrors.Wrap(lastErr, fmt.Sprintf("%d index markers could not be retracted", len(pending)), terrors.WithTaskID(uid))
	}

	if err := s.blobs.Delete(ctx, taskPath(uid)); err != nil {
		return terrors.Wrap(err, "delete task document", terrors.WithTaskID(uid), terrors.WithPath(taskPath(uid)))
	}
	s.logger.Info("task_deleted", map[string]interface{}{"uid": uid})
	return nil
}

// RebuildReport counts the work done by RebuildIndexes.
type RebuildReport struct {
	Scanned   int `json:"scanned"`
	Published int `json:"published"`
	Retracted int `json:"retracted"`
}

// RebuildIndexes regenerates every marker from the task documents and
// retracts markers no document supports. Markers of undecodable documents
// are left alone. If the document scan fails nothing is retracted.
func (s *Store) RebuildIndexes(ctx context.Context) (rep RebuildReport, err error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "rebuild_indexes", "")
	defer func() {
		s.tracer.EndStoreSpan(span, telemetry.StoreSpanOptions{
			Scanned: rep.Scanned,
			Changed: rep.Published + rep.Retracted,
		}, err)
	}()

	want := make(map[index.Marker]bool)
	var failures []error
	scanned, corrupt, err := s.each(ctx, func(t *Task) error {
		for _, m := range markersOf(t) {
			want[m] = true
			if err := s.index.Publish(ctx, m.Dimension, m.Value, m.TaskID); err != nil {
				failures = append(failures, err)
				continue
			}
			rep.Published++
		}
		return nil
	})
	rep.Scanned = scanned
	if err != nil {
		return rep, err
	}

	keep := make(map[string]bool, len(corrupt))
	for _, id := range corrupt {
		keep[id] = true
	}

	for _, dim := range index.Dimensions {
		var stale []index.Marker
		for m, err := range s.index.Walk(ctx, dim) {
			if err != nil {
				return rep, err
			}
			if !want[m] && !keep[m.TaskID] {
				stale = append(stale, m)
			}
		}
		for _, m := range stale {
			if err := s.index.Retract(ctx, m.Dimension, m.Value, m.TaskID); err != nil {
				failures = append(failures, err)
				continue
			}
			rep.Retracted++
		}
	}

	s.logger.Info("indexes_rebuilt", map[string]interface{}{
		"scanned":   rep.Scanned,
		"published": rep.Published,
		"retracted": rep.Retracted,
	})
	if len(failures) > 0 {
		return rep, terrors.Wrap(errors.Join(failures...), fmt.Sprintf("%d marker updates failed", len(failures)))
	}
	return rep, nil
}

// DownloadMedia returns a stored attachment.
func (s *Store) DownloadMedia(ctx context.Context, path string) (*blob.Object, error) {
	if !strings.HasPrefix(path, mediaPrefix) {
		return nil, terrors.InvalidInput(fmt.Sprintf("%q is not a media path", path))
	}
	obj, err := s.blobs.Get(ctx, path)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, terrors.NotFound("media not found", terrors.WithPath(path))
	}
	if err != nil {
		return nil, terrors.Wrap(err, "download media", terrors.WithPath(path))
	}
	return obj, nil
}

// DeleteMedia removes one attachment of a task. filename is relative to the
// task's media folder, so note attachments are addressed as notes/<name>.
// Every reference to the file is dropped from the document.
func (s *Store) DeleteMedia(ctx context.Context, uid, filename string) (task *Task, err error) {
	ctx, span := s.tracer.StartStoreSpan(ctx, "delete_media", uid)
	defer func() { s.tracer.EndStoreSpan(span, telemetry.StoreSpanOptions{Detail: filename}, err) }()

	path := mediaPath(uid, filename)
	if filename == "" || blob.ValidatePath(path) != nil {
		return nil, terrors.InvalidInput(fmt.Sprintf("invalid media filename %q", filename), terrors.WithTaskID(uid))
	}

	t, err := s.load(ctx, uid)
	if err != nil {
		return nil, err
	}

	removed := t.dropMedia(path)
	if removed == 0 {
		_, err := s.blobs.Stat(ctx, path)
		if errors.Is(err, blob.ErrNotFound) {
			return nil, terrors.NotFound("media not found", terrors.WithTaskID(uid), terrors.WithPath(path))
		}
		if err != nil {
			return nil, terrors.Wrap(err, "stat media", terrors.WithTaskID(uid), terrors.WithPath(path))
		}
	}
	if err := s.blobs.Delete(ctx, path); err != nil {
		return nil, terrors.Wrap(err, "delete media", terrors.WithTaskID(uid), terrors.WithPath(path))
	}
	s.logger.Info("media_deleted", map[string]interface{}{"uid": uid, "path": path})
	if removed == 0 {
		return t, nil
	}

	t.Timestamps.UpdatedAt = s.now()
	if err := s.write(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// --- internals ---

var errStopScan = errors.New("stop scan")

func (s *Store) now() time.Time {
	return s.clock().UTC().Round(0)
}

func validateUID(id string) error {
	if id == "" || strings.ContainsAny(id, "/ \t\n") {
		return terrors.InvalidInput(fmt.Sprintf("invalid task id %q", id))
	}
	return nil
}

func (s *Store) load(ctx context.Context, id string) (*Task, error) {
	if err := validateUID(id); err != nil {
		return nil, err
	}
	obj, err := s.blobs.Get(ctx, taskPath(id))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, terrors.NotFound("task not found", terrors.WithTaskID(id))
	}
	if err != nil {
		return nil, terrors.Wrap(err, "read task", terrors.WithTaskID(id), terrors.WithPath(taskPath(id)))
	}
	t, err := Decode(obj.Data)
	if err != nil {
		return nil, terrors.Wrap(err, "read task", terrors.WithTaskID(id), terrors.WithPath(taskPath(id)))
	}
	if t.UID != id {
		return nil, terrors.New(terrors.ErrCodeCorruption,
			fmt.Sprintf("task document at %s has uid %q", taskPath(id), t.UID),
			terrors.WithTaskID(id), terrors.WithPath(taskPath(id)))
	}
	return t, nil
}

func (s *Store) write(ctx context.Context, t *Task) error {
	data, err := Encode(t)
	if err != nil {
		return terrors.WrapWithCode(err, terrors.ErrCodeInternal, "encode task", terrors.WithTaskID(t.UID))
	}
	if _, err := s.blobs.Put(ctx, taskPath(t.UID), data, blob.WithContentType("application/json")); err != nil {
		return terrors.Wrap(err, "write task", terrors.WithTaskID(t.UID), terrors.WithPath(taskPath(t.UID)))
	}
	return nil
}

func (s *Store) upload(ctx context.Context, id, path string, f MediaFile) (MediaItem, error) {
	if _, err := s.blobs.Put(ctx, path, f.Data, blob.WithContentType(f.ContentType)); err != nil {
		return MediaItem{}, terrors.Wrap(err, "upload media", terrors.WithTaskID(id), terrors.WithPath(path))
	}
	return MediaItem{
		Type: f.Type,
		Path: path,
		Metadata: MediaMetadata{
			Filename:    f.Filename,
			Size:        int64(len(f.Data)),
			ContentType: f.ContentType,
		},
	}, nil
}

// discard removes media uploaded by a creation that did not complete.
func (s *Store) discard(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := s.blobs.Delete(ctx, p); err != nil {
			s.logger.Warn("orphaned media", map[string]interface{}{"path": p, "error": err})
		}
	}
}

// markersOf lists the markers a task should have.
func markersOf(t *Task) []index.Marker {
	ms := make([]index.Marker, 0, 1+len(t.Assignees))
	ms = append(ms, index.Marker{Dimension: index.ByStatus, Value: string(t.Status), TaskID: t.UID})
	for _, a := range t.Assignees {
		ms = append(ms, index.Marker{Dimension: index.ByAssignee, Value: strconv.FormatInt(a.TelegramID, 10), TaskID: t.UID})
	}
	return ms
}

// referencing lists every marker that may point at the task: its current
// markers, every status marker, and any assignee marker left behind by a
// lost update.
func (s *Store) referencing(ctx context.Context, t *Task) ([]index.Marker, error) {
	seen := make(map[index.Marker]bool)
	var ms []index.Marker
	add := func(m index.Marker) {
		if !seen[m] {
			seen[m] = true
			ms = append(ms, m)
		}
	}
	for _, m := range markersOf(t) {
		add(m)
	}
	for _, st := range Statuses {
		add(index.Marker{Dimension: index.ByStatus, Value: string(st), TaskID: t.UID})
	}
	for m, err := range s.index.Walk(ctx, index.ByAssignee) {
		if err != nil {
			return nil, terrors.Wrap(err, "find assignee markers", terrors.WithTaskID(t.UID))
		}
		if m.TaskID == t.UID {
			add(m)
		}
	}
	return ms, nil
}

// syncIndex publishes every marker the task should have, then retracts the
// stale ones. Each marker operation is retried once on a transient error.
func (s *Store) syncIndex(ctx context.Context, t *Task, stale []index.Marker) error {
	var errs []error
	for _, m := range markersOf(t) {
		if err := s.retryOnce(ctx, func() error { return s.index.Publish(ctx, m.Dimension, m.Value, m.TaskID) }); err != nil {
			errs = append(errs, err)
		}
	}
	for _, m := range stale {
		if err := s.retryOnce(ctx, func() error { return s.index.Retract(ctx, m.Dimension, m.Value, m.TaskID) }); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &IndexError{TaskID: t.UID, Err: errors.Join(errs...)}
	}
	return nil
}

func (s *Store) retryOnce(ctx context.Context, op func() error) error {
	err := op()
	if err != nil && terrors.IsRetryable(err) && ctx.Err() == nil {
		err = op()
	}
	return err
}

// each decodes every task document and calls fn with it. Documents that
// vanish mid-scan are skipped; undecodable ones are logged, skipped and
// their uids returned. fn may return errStopScan to end early.
func (s *Store) each(ctx context.Context, fn func(*Task) error) (scanned int, corrupt []string, err error) {
	for path, err := range s.blobs.List(ctx, taskPrefix) {
		if err != nil {
			return scanned, corrupt, terrors.Wrap(err, "list tasks", terrors.WithPath(taskPrefix))
		}
		id, ok := uidFromPath(path)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return scanned, corrupt, terrors.Wrap(err, "scan tasks")
		}

		t, err := s.load(ctx, id)
		switch {
		case IsNotFound(err):
			continue
		case terrors.Is(err, terrors.ErrCodeCorruption):
			s.logger.Warn("skipping undecodable task", map[string]interface{}{"uid": id, "error": err})
			corrupt = append(corrupt, id)
			continue
		case err != nil:
			return scanned, corrupt, err
		}

		scanned++
		if err := fn(t); err != nil {
			if errors.Is(err, errStopScan) {
				return scanned, corrupt, nil
			}
			return scanned, corrupt, err
		}
	}
	return scanned, corrupt, nil
}
