package tasks

import (
	"fmt"
	"strings"
	"time"

	terrors "github.com/vinayprograms/taskvault/errors"
)

// Status is a task's lifecycle state. The wire form is lowercase.
type Status string

const (
	StatusNew               Status = "new"
	StatusInProgress        Status = "in_progress"
	StatusOnHold            Status = "on_hold"
	StatusCanceled          Status = "canceled"
	StatusDonePendingReview Status = "done_pending_review"
	StatusDone              Status = "done"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusNew,
	StatusInProgress,
	StatusOnHold,
	StatusCanceled,
	StatusDonePendingReview,
	StatusDone,
}

// String returns the wire form.
func (s Status) String() string {
	return string(s)
}

// Name returns the upper-case display name, e.g. IN_PROGRESS.
func (s Status) Name() string {
	return strings.ToUpper(string(s))
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus accepts the wire form ("in_progress") or the display name
// ("IN_PROGRESS").
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", terrors.InvalidInput(fmt.Sprintf("unknown status %q", s))
	}
	return st, nil
}

// Priority is informational only.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority parses a priority name. Empty means medium.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, nil
	}
	return "", terrors.InvalidInput(fmt.Sprintf("unknown priority %q", s))
}

// MediaType tags an attachment.
type MediaType string

const (
	MediaPhoto    MediaType = "photo"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
	MediaVoice    MediaType = "voice"
)

// Valid reports whether t is a known media type.
func (t MediaType) Valid() bool {
	switch t {
	case MediaPhoto, MediaVideo, MediaAudio, MediaDocument, MediaVoice:
		return true
	}
	return false
}

// UserRef identifies a chat user inside a task document.
type UserRef struct {
	TelegramID int64  `json:"telegramId"`
	Name       string `json:"name"`
	Username   string `json:"username,omitempty"`
}

// MediaMetadata describes an uploaded file.
type MediaMetadata struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// MediaItem references a stored attachment.
type MediaItem struct {
	Type        MediaType     `json:"type"`
	Path        string        `json:"path"`
	Metadata    MediaMetadata `json:"metadata"`
	DeleteAfter *time.Time    `json:"deleteAfter,omitempty"`
}

// Expired reports whether the item is scheduled for deletion at or before now.
func (m MediaItem) Expired(now time.Time) bool {
	return m.DeleteAfter != nil && !now.Before(*m.DeleteAfter)
}

// Note is a comment on a task.
type Note struct {
	ID        string     `json:"id"`
	Content   string     `json:"content"`
	Author    UserRef    `json:"author"`
	CreatedAt time.Time  `json:"createdAt"`
	Media     *MediaItem `json:"media,omitempty"`
}

// HistoryEntry records one status transition.
type HistoryEntry struct {
	FromStatus Status    `json:"fromStatus,omitempty"`
	ToStatus   Status    `json:"toStatus"`
	ChangedBy  UserRef   `json:"changedBy"`
	ChangedAt  time.Time `json:"changedAt"`
	Reason     string    `json:"reason,omitempty"`
}

// Timestamps holds creation and last-update times.
type Timestamps struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Task is the stored task document.
type Task struct {
	UID           string         `json:"uid"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Status        Status         `json:"status"`
	Priority      Priority       `json:"priority"`
	CreatedBy     *UserRef       `json:"createdBy,omitempty"`
	Assignees     []UserRef      `json:"assignees"`
	Notes         []Note         `json:"notes"`
	Media         []MediaItem    `json:"media"`
	StatusHistory []HistoryEntry `json:"statusHistory"`
	OnHoldReason  string         `json:"onHoldReason,omitempty"`
	Timestamps    Timestamps     `json:"timestamps"`
}

// HasAssignee reports whether the user is assigned.
func (t *Task) HasAssignee(telegramID int64) bool {
	for _, a := range t.Assignees {
		if a.TelegramID == telegramID {
			return true
		}
	}
	return false
}

// Matches reports whether query occurs, case-insensitively, in the uid,
// title or description.
func (t *Task) Matches(query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(t.UID), q) ||
		strings.Contains(strings.ToLower(t.Title), q) ||
		strings.Contains(strings.ToLower(t.Description), q)
}

// transition applies a status change in memory. It reports false and
// leaves the task untouched when the status is unchanged.
func (t *Task) transition(to Status, by UserRef, reason string, now time.Time, retention time.Duration) bool {
	if to == t.Status {
		return false
	}

	t.StatusHistory = append(t.StatusHistory, HistoryEntry{
		FromStatus: t.Status,
		ToStatus:   to,
		ChangedBy:  by,
		ChangedAt:  now,
		Reason:     reason,
	})
	t.Status = to
	t.Timestamps.UpdatedAt = now

	if to == StatusOnHold {
		t.OnHoldReason = reason
	} else {
		t.OnHoldReason = ""
	}

	if to == StatusDone {
		deleteAfter := now.Add(retention)
		for i := range t.Media {
			d := deleteAfter
			t.Media[i].DeleteAfter = &d
		}
	}
	return true
}

// addAssignee appends the user unless already present.
func (t *Task) addAssignee(u UserRef, now time.Time) bool {
	if t.HasAssignee(u.TelegramID) {
		return false
	}
	t.Assignees = append(t.Assignees, u)
	t.Timestamps.UpdatedAt = now
	return true
}

// removeAssignee drops the user if present.
func (t *Task) removeAssignee(telegramID int64, now time.Time) bool {
	kept := t.Assignees[:0]
	removed := false
	for _, a := range t.Assignees {
		if a.TelegramID == telegramID {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	t.Assignees = kept
	if removed {
		t.Timestamps.UpdatedAt = now
	}
	return removed
}

// dropExpiredMedia removes items whose deletion succeeded, as reported by
// del, and returns how many were removed.
func (t *Task) dropExpiredMedia(now time.Time, del func(MediaItem) bool) int {
	kept := t.Media[:0]
	removed := 0
	for _, m := range t.Media {
		if m.Expired(now) && del(m) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	t.Media = kept
	return removed
}

// dropMedia removes every reference to the media path from the task and its
// notes, and returns how many were removed.
func (t *Task) dropMedia(path string) int {
	kept := t.Media[:0]
	removed := 0
	for _, m := range t.Media {
		if m.Path == path {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	t.Media = kept
	for i := range t.Notes {
		if t.Notes[i].Media != nil && t.Notes[i].Media.Path == path {
			t.Notes[i].Media = nil
			removed++
		}
	}
	return removed
}
