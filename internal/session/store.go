// Package session implements the persisted sessions store (spec §6): a
// single JSON file under the state directory, written atomically via a
// temp file + rename. The teacher's own config.SaveToFile writes
// directly with os.WriteFile; this corrects that to the atomic-rename
// idiom spec §6 requires while keeping encoding/json for the format.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tributary-ai/agent-gateway/internal/types"
)

// IdleAfter is the inactivity window after which an active session is
// reported as idle (spec §9 Open Question: N=15 minutes, evaluated
// lazily on read).
const IdleAfter = 15 * time.Minute

type fileContents struct {
	Sessions []types.Session `json:"sessions"`
}

// Store guards an in-memory session map and persists it to path on every
// mutation.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
	byID map[string]*types.Session
}

func New(path string) *Store {
	return &Store{path: path, now: time.Now, byID: make(map[string]*types.Session)}
}

// Load reads the sessions file if present; a missing file is not an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: reading store: %w", err)
	}

	var fc fileContents
	if err := json.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("session: parsing store: %w", err)
	}
	for i := range fc.Sessions {
		sess := fc.Sessions[i]
		s.byID[sess.ID] = &sess
	}
	return nil
}

// Create registers a new active session and persists the store.
func (s *Store) Create(id, user, channel string) (types.Session, error) {
	s.mu.Lock()
	now := s.now()
	sess := types.Session{ID: id, CreatedAt: now, LastActivity: now, User: user, Channel: channel, Status: "active"}
	s.byID[id] = &sess
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return types.Session{}, err
	}
	return sess, nil
}

// Touch bumps last-activity and message count for id.
func (s *Store) Touch(id string) error {
	s.mu.Lock()
	sess, ok := s.byID[id]
	if ok {
		sess.LastActivity = s.now()
		sess.MessageCount++
		sess.Status = "active"
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: unknown id %q", id)
	}
	return s.persist()
}

// Terminate marks a session terminated. Terminated entries persist until
// a 24 h cleanup sweep (spec §8 round-trip law); this store does not run
// that sweep itself, it only exposes a Prune method for callers to invoke
// on a timer.
func (s *Store) Terminate(id string) (bool, error) {
	s.mu.Lock()
	sess, ok := s.byID[id]
	if ok {
		sess.Status = "terminated"
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, s.persist()
}

// Get returns the session with derived idle status applied lazily.
func (s *Store) Get(id string) (types.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return types.Session{}, false
	}
	return s.withDerivedStatus(*sess), true
}

// List returns all sessions with derived idle status applied.
func (s *Store) List() []types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Session, 0, len(s.byID))
	for _, sess := range s.byID {
		out = append(out, s.withDerivedStatus(*sess))
	}
	return out
}

func (s *Store) withDerivedStatus(sess types.Session) types.Session {
	if sess.Status == "active" && s.now().Sub(sess.LastActivity) > IdleAfter {
		sess.Status = "idle"
	}
	return sess
}

// Prune removes terminated sessions older than 24 h.
func (s *Store) Prune() error {
	s.mu.Lock()
	now := s.now()
	for id, sess := range s.byID {
		if sess.Status == "terminated" && now.Sub(sess.LastActivity) > 24*time.Hour {
			delete(s.byID, id)
		}
	}
	s.mu.Unlock()
	return s.persist()
}

// persist writes the store to disk via temp-file-then-rename (spec §6:
// "an atomic write (temp file + rename) is required").
func (s *Store) persist() error {
	s.mu.Lock()
	fc := fileContents{Sessions: make([]types.Session, 0, len(s.byID))}
	for _, sess := range s.byID {
		fc.Sessions = append(fc.Sessions, *sess)
	}
	s.mu.Unlock()

	encoded, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("session: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session: renaming temp file: %w", err)
	}
	return nil
}
