// Package users stores chat users as users/<telegramId>.json documents.
// Users are created on first contact and never deleted; deactivation is
// the only way to revoke access.
package users

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/taskvault/blob"
	terrors "github.com/vinayprograms/taskvault/errors"
	"github.com/vinayprograms/taskvault/logging"
)

const prefix = "users/"

// Role controls access to admin operations.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole parses a role name. Empty means user.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RoleUser, nil
	case RoleUser, RoleAdmin:
		return r, nil
	}
	return "", terrors.InvalidInput(fmt.Sprintf("unknown role %q", s))
}

// User is the stored user document.
type User struct {
	TelegramID int64      `json:"telegramId"`
	Name       string     `json:"name"`
	Username   string     `json:"username,omitempty"`
	Role       Role       `json:"role"`
	Active     bool       `json:"active"`
	LastSeenAt *time.Time `json:"lastSeenAt"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// IsAdmin reports whether the user is an active admin.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin && u.Active
}

// Store reads and writes user documents.
type Store struct {
	blobs  blob.Store
	logger *logging.Logger
	clock  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// New creates a user store over blobs.
func New(blobs blob.Store, opts ...Option) *Store {
	s := &Store{
		blobs:  blobs,
		logger: logging.Discard(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("users")
	return s
}

func path(id int64) string {
	return prefix + strconv.FormatInt(id, 10) + ".json"
}

func (s *Store) now() time.Time {
	return s.clock().UTC().Round(0)
}

// Get loads a user. A missing user is a NOT_FOUND error.
func (s *Store) Get(ctx context.Context, telegramID int64) (*User, error) {
	obj, err := s.blobs.Get(ctx, path(telegramID))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, terrors.NotFound(fmt.Sprintf("user %d not found", telegramID), terrors.WithPath(path(telegramID)))
	}
	if err != nil {
		return nil, terrors.Wrap(err, "read user", terrors.WithPath(path(telegramID)))
	}
	return decode(obj)
}

func decode(obj *blob.Object) (*User, error) {
	u := User{Active: true}
	if err := json.Unmarshal(obj.Data, &u); err != nil {
		return nil, terrors.WrapWithCode(err, terrors.ErrCodeCorruption, "decode user", terrors.WithPath(obj.Path))
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return &u, nil
}

// Create stores a new active user. An existing user is a CONFLICT error.
func (s *Store) Create(ctx context.Context, telegramID int64, name, username string, role Role) (*User, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	if role == "" {
		role = RoleUser
	}

	now := s.now()
	u := &User{
		TelegramID: telegramID,
		Name:       name,
		Username:   username,
		Role:       role,
		Active:     true,
		LastSeenAt: &now,
		CreatedAt:  now,
	}
	_, err := blob.PutJSON(ctx, s.blobs, path(telegramID), u, blob.IfVersion(blob.VersionNone))
	if errors.Is(err, blob.ErrConflict) {
		return nil, terrors.Conflict(fmt.Sprintf("user %d already exists", telegramID), terrors.WithPath(path(telegramID)))
	}
	if err != nil {
		return nil, terrors.Wrap(err, "create user", terrors.WithPath(path(telegramID)))
	}
	s.logger.Info("user_created", map[string]interface{}{"telegram_id": telegramID, "role": string(role)})
	return u, nil
}

// Update overwrites the stored user.
func (s *Store) Update(ctx context.Context, u *User) error {
	if _, err := blob.PutJSON(ctx, s.blobs, path(u.TelegramID), u); err != nil {
		return terrors.Wrap(err, "update user", terrors.WithPath(path(u.TelegramID)))
	}
	return nil
}

// GetOrCreate records contact from a user: it refreshes the last-seen time
// and display names of a known user, or creates a new one.
func (s *Store) GetOrCreate(ctx context.Context, telegramID int64, name, username string) (*User, error) {
	for attempt := 0; attempt < 2; attempt++ {
		u, err := s.Get(ctx, telegramID)
		if err == nil {
			now := s.now()
			u.LastSeenAt = &now
			u.Name = name
			u.Username = username
			if err := s.Update(ctx, u); err != nil {
				return nil, err
			}
			return u, nil
		}
		if !terrors.Is(err, terrors.ErrCodeNotFound) {
			return nil, err
		}

		u, err = s.Create(ctx, telegramID, name, username, RoleUser)
		if terrors.Is(err, terrors.ErrCodeConflict) {
			// Created concurrently; touch the winner's document.
			continue
		}
		return u, err
	}
	return nil, terrors.New(terrors.ErrCodeExhausted, fmt.Sprintf("user %d kept changing", telegramID))
}

func (s *Store) modify(ctx context.Context, telegramID int64, fn func(*User)) (*User, error) {
	u, err := s.Get(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	fn(u)
	if err := s.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetRole changes a user's role.
func (s *Store) SetRole(ctx context.Context, telegramID int64, role Role) (*User, error) {
	if _, err := ParseRole(string(role)); err != nil || role == "" {
		return nil, terrors.InvalidInput(fmt.Sprintf("unknown role %q", role))
	}
	return s.modify(ctx, telegramID, func(u *User) { u.Role = role })
}

// Activate re-enables a user.
func (s *Store) Activate(ctx context.Context, telegramID int64) (*User, error) {
	return s.modify(ctx, telegramID, func(u *User) { u.Active = true })
}

// Deactivate disables a user without deleting them.
func (s *Store) Deactivate(ctx context.Context, telegramID int64) (*User, error) {
	return s.modify(ctx, telegramID, func(u *User) { u.Active = false })
}

// List returns every user, most recently seen first. Users never seen
// sort last. Undecodable documents are logged and skipped.
func (s *Store) List(ctx context.Context) ([]*User, error) {
	var out []*User
	for p, err := range s.blobs.List(ctx, prefix) {
		if err != nil {
			return nil, terrors.Wrap(err, "list users", terrors.WithPath(prefix))
		}
		name, ok := strings.CutSuffix(strings.TrimPrefix(p, prefix), ".json")
		if !ok || strings.Contains(name, "/") {
			continue
		}

		obj, err := s.blobs.Get(ctx, p)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, terrors.Wrap(err, "read user", terrors.WithPath(p))
		}
		u, err := decode(obj)
		if err != nil {
			s.logger.Warn("skipping undecodable user", map[string]interface{}{"path": p, "error": err})
			continue
		}
		out = append(out, u)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastSeenAt, out[j].LastSeenAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	return out, nil
}

func (s *Store) filter(ctx context.Context, keep func(*User) bool) ([]*User, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, u := range all {
		if keep(u) {
			out = append(out, u)
		}
	}
	return out, nil
}

// ListActive returns active users, most recently seen first.
func (s *Store) ListActive(ctx context.Context) ([]*User, error) {
	return s.filter(ctx, func(u *User) bool { return u.Active })
}

// ListAdmins returns active admins, most recently seen first.
func (s *Store) ListAdmins(ctx context.Context) ([]*User, error) {
	return s.filter(ctx, (*User).IsAdmin)
}

// IsAdmin reports whether the user exists and is an active admin.
func (s *Store) IsAdmin(ctx context.Context, telegramID int64) (bool, error) {
	u, err := s.Get(ctx, telegramID)
	if terrors.Is(err, terrors.ErrCodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.IsAdmin(), nil
}

// ExportCSV writes every user as CSV in List order.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) error {
	all, err := s.List(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	cw.Write([]string{"telegramId", "name", "username", "role", "active", "lastSeenAt", "createdAt"})
	for _, u := range all {
		lastSeen := ""
		if u.LastSeenAt != nil {
			lastSeen = u.LastSeenAt.Format(time.RFC3339Nano)
		}
		cw.Write([]string{
			strconv.FormatInt(u.TelegramID, 10),
			u.Name,
			u.Username,
			string(u.Role),
			strconv.FormatBool(u.Active),
			lastSeen,
			u.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	cw.Flush()
	return cw.Error()
}
