// Package index maintains secondary indexes as zero-byte marker objects
// whose paths encode (dimension, value, task id). Only a marker's existence
// carries meaning.
//
// Markers are a projection of the task documents and are written after the
// document, without any cross-object transaction. Two writers racing on the
// same task can therefore leave a marker that no longer matches the
// document; such staleness lasts until the next write to that task or a
// full rebuild from the documents.
package index

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/vinayprograms/taskvault/blob"
	terrors "github.com/vinayprograms/taskvault/errors"
	"github.com/vinayprograms/taskvault/logging"
)

// Dimension names an index.
type Dimension string

const (
	ByStatus   Dimension = "by-status"
	ByAssignee Dimension = "by-assignee"
)

// Dimensions lists every maintained index.
var Dimensions = []Dimension{ByStatus, ByAssignee}

// Marker identifies one index entry.
type Marker struct {
	Dimension Dimension
	Value     string
	TaskID    string
}

// Path returns the marker's object path.
func (m Marker) Path() string {
	return string(m.Dimension) + "/" + m.Value + "/" + m.TaskID
}

// ParseMarker splits a marker path. It reports false for anything that is
// not exactly dimension/value/id under a known dimension.
func ParseMarker(path string) (Marker, bool) {
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return Marker{}, false
	}
	dim := Dimension(parts[0])
	if dim != ByStatus && dim != ByAssignee {
		return Marker{}, false
	}
	return Marker{Dimension: dim, Value: parts[1], TaskID: parts[2]}, true
}

// Maintainer publishes, retracts and lists markers.
type Maintainer struct {
	store  blob.Store
	logger *logging.Logger
}

// Option configures a Maintainer.
type Option func(*Maintainer)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Maintainer) {
		if l != nil {
			m.logger = l.WithComponent("index")
		}
	}
}

// New creates a maintainer over store.
func New(store blob.Store, opts ...Option) *Maintainer {
	m := &Maintainer{
		store:  store,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish creates the marker. Publishing an existing marker is a no-op
// success.
func (m *Maintainer) Publish(ctx context.Context, dim Dimension, value, taskID string) error {
	mk, err := marker(dim, value, taskID)
	if err != nil {
		return err
	}
	if _, err := m.store.Put(ctx, mk.Path(), nil, blob.WithContentType("text/plain")); err != nil {
		m.logger.IndexFailure("publish", mk.Path(), err)
		return terrors.Wrap(err, "publish marker", terrors.WithPath(mk.Path()), terrors.WithTaskID(taskID))
	}
	return nil
}

// Retract removes the marker. Retracting a missing marker is a no-op
// success.
func (m *Maintainer) Retract(ctx context.Context, dim Dimension, value, taskID string) error {
	mk, err := marker(dim, value, taskID)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, mk.Path()); err != nil {
		m.logger.IndexFailure("retract", mk.Path(), err)
		return terrors.Wrap(err, "retract marker", terrors.WithPath(mk.Path()), terrors.WithTaskID(taskID))
	}
	return nil
}

// List returns up to limit task ids indexed under (dim, value), in no
// particular order. A limit of zero or less means no cap.
func (m *Maintainer) List(ctx context.Context, dim Dimension, value string, limit int) ([]string, error) {
	if err := checkSegment("value", value); err != nil {
		return nil, err
	}
	prefix := string(dim) + "/" + value + "/"

	var ids []string
	for path, err := range m.store.List(ctx, prefix) {
		if err != nil {
			return nil, terrors.Wrap(err, "list markers", terrors.WithPath(prefix))
		}
		id := path[strings.LastIndex(path, "/")+1:]
		if id == "" || strings.Count(path, "/") != 2 {
			continue
		}
		ids = append(ids, id)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

// Walk yields every well-formed marker in a dimension.
func (m *Maintainer) Walk(ctx context.Context, dim Dimension) iter.Seq2[Marker, error] {
	return func(yield func(Marker, error) bool) {
		for path, err := range m.store.List(ctx, string(dim)+"/") {
			if err != nil {
				yield(Marker{}, terrors.Wrap(err, "walk markers", terrors.WithPath(string(dim))))
				return
			}
			mk, ok := ParseMarker(path)
			if !ok {
				continue
			}
			if !yield(mk, nil) {
				return
			}
		}
	}
}

func marker(dim Dimension, value, taskID string) (Marker, error) {
	if dim != ByStatus && dim != ByAssignee {
		return Marker{}, terrors.InvalidInput(fmt.Sprintf("unknown index dimension %q", dim))
	}
	if err := checkSegment("value", value); err != nil {
		return Marker{}, err
	}
	if err := checkSegment("task id", taskID); err != nil {
		return Marker{}, err
	}
	return Marker{Dimension: dim, Value: value, TaskID: taskID}, nil
}

func checkSegment(what, s string) error {
	if s == "" || strings.Contains(s, "/") {
		return terrors.InvalidInput(fmt.Sprintf("invalid index %s %q", what, s))
	}
	return nil
}
