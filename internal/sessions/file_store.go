package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/bashmyhed/agentcore/pkg/models"
)

// ErrCorrupt is returned by Load when a session file exists but cannot be
// parsed, or carries a message whose schema_version exceeds what this
// build understands.
var ErrCorrupt = errors.New("sessions: corrupt session file")

// ErrSessionNotFound is returned by Get when no session has ID id.
var ErrSessionNotFound = errors.New("sessions: session not found")

// FileStore persists one JSON file per session under <dataDir>/sessions/
// <session_key>.json, written atomically via a sibling tempfile and
// rename. The rename is the commit point: a concurrent or post-crash
// reader never observes a partially written file.
//
// FileStore itself does not serialize concurrent writers to the same key;
// callers must hold that key's LockManager permit across a load-mutate-save
// cycle, per the package's lock discipline.
type FileStore struct {
	mu  sync.Mutex
	dir string

	// byID lets Get/Update/Delete resolve a session by its ID rather than
	// its key, by keeping an in-memory key index populated as sessions are
	// touched. The persisted file itself is always addressed by key.
	byID map[string]string
}

// NewFileStore creates a FileStore rooted at <dataDir>/sessions.
func NewFileStore(dataDir string) *FileStore {
	return &FileStore{
		dir:  filepath.Join(dataDir, "sessions"),
		byID: make(map[string]string),
	}
}

func (s *FileStore) pathForKey(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+".json")
}

// sanitizeKey replaces path separators in a session key so it can be used
// safely as a filename component; keys are typically "<agent>:<channel>:
// <channelID>" or a supervisor-scoped "<base>::sup::<id>" variant.
func sanitizeKey(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch r {
		case '/', '\\', '\x00':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

func (s *FileStore) load(key string) (*models.Session, error) {
	path := s.pathForKey(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessions: read %s: %w", path, err)
	}
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	for _, msg := range session.Messages {
		if msg.SchemaVersion > models.CurrentSchemaVersion {
			return nil, fmt.Errorf("%w: %s: message schema_version %d exceeds %d", ErrCorrupt, path, msg.SchemaVersion, models.CurrentSchemaVersion)
		}
	}
	return &session, nil
}

func (s *FileStore) persist(session *models.Session) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("sessions: mkdir %s: %w", s.dir, err)
	}
	encoded, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("sessions: marshal %s: %w", session.Key, err)
	}
	path := s.pathForKey(session.Key)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("sessions: open %s: %w", tmp, err)
	}
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sessions: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sessions: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sessions: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sessions: rename %s: %w", path, err)
	}
	return nil
}

// Create writes a brand-new session. The key must not already be present
// on disk.
func (s *FileStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	s.byID[session.ID] = session.Key
	return s.persist(session)
}

// Get returns the session with the given ID, resolving it via the
// in-memory key index populated by prior Create/GetOrCreate/GetByKey
// calls in this process.
func (s *FileStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	key, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.GetByKey(ctx, key)
}

// Update overwrites the session's persisted file in place.
func (s *FileStore) Update(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[session.ID] = session.Key
	return s.persist(session)
}

// Delete removes a session's file. A missing session is not an error.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	key, ok := s.byID[id]
	delete(s.byID, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.Remove(s.pathForKey(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sessions: delete %s: %w", key, err)
	}
	return nil
}

// GetByKey loads the session addressed by key, or nil if none exists yet.
func (s *FileStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(key)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	s.byID[session.ID] = session.Key
	return session, nil
}

// GetOrCreate returns the session for key, creating and persisting an
// empty one (with zero messages) if none exists. Per §3, a session's
// on-disk file is created lazily on first save.
func (s *FileStore) GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.byID[existing.ID] = existing.Key
		return existing, nil
	}

	session := &models.Session{
		Key:       key,
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Channel:   channel,
		ChannelID: channelID,
		Messages:  []*models.Message{},
	}
	if err := s.persist(session); err != nil {
		return nil, err
	}
	s.byID[session.ID] = session.Key
	return session, nil
}

// List returns every session on disk belonging to agentID, optionally
// filtered by channel. Offset/Limit paginate the result; a non-positive
// Limit returns everything past Offset.
func (s *FileStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessions: readdir %s: %w", s.dir, err)
	}

	var matched []*models.Session
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var session models.Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		if session.AgentID != agentID {
			continue
		}
		if opts.Channel != "" && session.Channel != opts.Channel {
			continue
		}
		matched = append(matched, &session)
	}

	if opts.Offset > 0 && opts.Offset < len(matched) {
		matched = matched[opts.Offset:]
	} else if opts.Offset >= len(matched) {
		matched = nil
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// AppendMessage loads the session by ID, appends msg, and persists it.
// Callers performing a read-modify-write turn (the Agent Loop) should
// prefer Get+Update under a held session lock instead; AppendMessage is a
// convenience for collaborators that only need to tack on a single
// message (e.g. a channel adapter logging an inbound message).
func (s *FileStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	s.mu.Lock()
	key, ok := s.byID[sessionID]
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(key)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if msg.SchemaVersion == 0 {
		msg.SchemaVersion = models.CurrentSchemaVersion
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	session.Messages = append(session.Messages, msg)
	return s.persist(session)
}

// GetHistory returns the most recent limit messages for sessionID (all of
// them if limit <= 0).
func (s *FileStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if limit <= 0 || limit >= len(session.Messages) {
		return session.Messages, nil
	}
	return session.Messages[len(session.Messages)-limit:], nil
}

// ListSessionKeys returns every session key with a file on disk, per §4.2's
// list_sessions contract.
func (s *FileStore) ListSessionKeys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessions: readdir %s: %w", s.dir, err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		keys = append(keys, entry.Name()[:len(entry.Name())-len(".json")])
	}
	return keys, nil
}

var _ Store = (*FileStore)(nil)
