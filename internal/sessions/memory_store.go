package sessions

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/bashmyhed/agentcore/pkg/models"
)

// MemoryStore is an in-process Store with no durability across restarts.
// Useful for tests and for ephemeral agents that never need their session
// log to survive a crash.
type MemoryStore struct {
	mu       sync.Mutex
	byID     map[string]*models.Session
	byKey    map[string]string // key -> id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*models.Session),
		byKey: make(map[string]string),
	}
}

func cloneSession(s *models.Session) *models.Session {
	out := *s
	out.Messages = make([]*models.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return &out
}

func (s *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	s.byID[session.ID] = cloneSession(session)
	s.byKey[session.Key] = session.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *MemoryStore) Update(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[session.ID]; !ok {
		return ErrSessionNotFound
	}
	s.byID[session.ID] = cloneSession(session)
	s.byKey[session.Key] = session.ID
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	delete(s.byKey, session.Key)
	return nil
}

func (s *MemoryStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	return cloneSession(s.byID[id]), nil
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key]; ok {
		return cloneSession(s.byID[id]), nil
	}
	session := &models.Session{
		Key:       key,
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Channel:   channel,
		ChannelID: channelID,
		Messages:  []*models.Message{},
	}
	s.byID[session.ID] = cloneSession(session)
	s.byKey[key] = session.ID
	return cloneSession(session), nil
}

func (s *MemoryStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Session
	for _, session := range s.byID {
		if session.AgentID != agentID {
			continue
		}
		if opts.Channel != "" && session.Channel != opts.Channel {
			continue
		}
		out = append(out, cloneSession(session))
	}
	if opts.Offset > 0 && opts.Offset < len(out) {
		out = out[opts.Offset:]
	} else if opts.Offset >= len(out) {
		out = nil
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byID[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if msg.SchemaVersion == 0 {
		msg.SchemaVersion = models.CurrentSchemaVersion
	}
	session.Messages = append(session.Messages, msg)
	return nil
}

func (s *MemoryStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byID[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	msgs := session.Messages
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
