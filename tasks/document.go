package tasks

import (
	"encoding/json"
	"fmt"
	"strings"

	terrors "github.com/vinayprograms/taskvault/errors"
)

const (
	taskPrefix  = "tasks/"
	mediaPrefix = "media/"
)

func taskPath(uid string) string {
	return taskPrefix + uid + ".json"
}

// uidFromPath returns the uid of a tasks/<uid>.json path.
func uidFromPath(path string) (string, bool) {
	name, ok := strings.CutPrefix(path, taskPrefix)
	if !ok || strings.Contains(name, "/") {
		return "", false
	}
	uid, ok := strings.CutSuffix(name, ".json")
	return uid, ok && uid != ""
}

func mediaPath(uid, filename string) string {
	return mediaPrefix + uid + "/" + filename
}

func noteMediaPath(uid, filename string) string {
	return mediaPrefix + uid + "/notes/" + filename
}

// Encode renders a task as its stored JSON document.
func Encode(t *Task) ([]byte, error) {
	c := *t
	normalize(&c)
	return json.Marshal(&c)
}

// Decode parses a stored document. Missing lists decode as empty lists and
// a missing priority as medium, so a decoded task re-encodes identically.
func Decode(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, terrors.WrapWithCode(err, terrors.ErrCodeCorruption, "decode task document")
	}
	if t.UID == "" {
		return nil, terrors.New(terrors.ErrCodeCorruption, "task document has no uid")
	}
	if !t.Status.Valid() {
		return nil, terrors.New(terrors.ErrCodeCorruption,
			fmt.Sprintf("task document has unknown status %q", t.Status), terrors.WithTaskID(t.UID))
	}
	for _, h := range t.StatusHistory {
		if !h.ToStatus.Valid() || (h.FromStatus != "" && !h.FromStatus.Valid()) {
			return nil, terrors.New(terrors.ErrCodeCorruption,
				"task history has unknown status", terrors.WithTaskID(t.UID))
		}
	}
	normalize(&t)
	return &t, nil
}

// normalize fills in defaults so empty and absent lists are the same value.
func normalize(t *Task) {
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Assignees == nil {
		t.Assignees = []UserRef{}
	}
	if t.Notes == nil {
		t.Notes = []Note{}
	}
	if t.Media == nil {
		t.Media = []MediaItem{}
	}
	if t.StatusHistory == nil {
		t.StatusHistory = []HistoryEntry{}
	}
}
