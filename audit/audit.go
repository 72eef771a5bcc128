// Package audit appends admin actions to per-second JSON-lines objects
// under audit/<yyyy>/<mm>/<dd>/. Lines are never rewritten or read back.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/taskvault/blob"
	terrors "github.com/vinayprograms/taskvault/errors"
	"github.com/vinayprograms/taskvault/logging"
)

const contentType = "application/x-ndjson"

// appendAttempts bounds retries when two writers append to the same object.
const appendAttempts = 3

// Entry is one audit line.
type Entry struct {
	Timestamp       time.Time      `json:"timestamp"`
	AdminTelegramID int64          `json:"adminTelegramId"`
	Action          string         `json:"action"`
	Target          string         `json:"target"`
	Details         map[string]any `json:"details"`
}

// Path returns the object the entry is appended to.
func (e Entry) Path() string {
	return fmt.Sprintf("audit/%s_%d.log", e.Timestamp.UTC().Format("2006/01/02/150405"), e.AdminTelegramID)
}

// Log records admin actions.
type Log struct {
	blobs  blob.Store
	logger *logging.Logger
	clock  func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Log) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(a *Log) {
		a.clock = clock
	}
}

// New creates an audit log over blobs.
func New(blobs blob.Store, opts ...Option) *Log {
	a := &Log{
		blobs:  blobs,
		logger: logging.Discard(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithComponent("audit")
	return a
}

// Record appends an entry. The action it describes has already happened,
// so a failure is logged and returned for information only; callers are
// free to ignore it.
func (a *Log) Record(ctx context.Context, adminID int64, action, target string, details map[string]any) (Entry, error) {
	if details == nil {
		details = map[string]any{}
	}
	e := Entry{
		Timestamp:       a.clock().UTC().Round(0),
		AdminTelegramID: adminID,
		Action:          action,
		Target:          target,
		Details:         details,
	}

	if err := a.append(ctx, e); err != nil {
		a.logger.AuditDropped(adminID, action, err)
		return e, err
	}
	a.logger.Debug("admin action recorded", map[string]interface{}{
		"admin_id": adminID,
		"action":   action,
		"target":   target,
	})
	return e, nil
}

func (a *Log) append(ctx context.Context, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return terrors.WrapWithCode(err, terrors.ErrCodeInvalidInput, "encode audit entry")
	}

	path := e.Path()
	for attempt := 0; attempt < appendAttempts; attempt++ {
		err = blob.AppendLine(ctx, a.blobs, path, line, contentType)
		if !errors.Is(err, blob.ErrConflict) {
			break
		}
	}
	if err != nil {
		return terrors.Wrap(err, "append audit entry", terrors.WithPath(path))
	}
	return nil
}
