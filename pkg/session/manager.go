// Package session keeps per-conversation message history. It backs both
// the assistant's context window and the search_history action.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harborchat/valet/pkg/logger"
)

// Message is one turn of a conversation.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Sender    string    `json:"sender,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	Key       string    `json:"key"`
	Principal string    `json:"principal,omitempty"`
	Messages  []Message `json:"messages"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
}

// Manager holds sessions in memory and mirrors them to JSON files when a
// storage directory is configured.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	storage  string
}

func NewManager(storage string) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		storage:  storage,
	}
	if storage != "" {
		os.MkdirAll(storage, 0755)
		m.loadSessions()
	}
	return m
}

func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[key]
	if ok {
		return session
	}
	session = &Session{
		Key:      key,
		Messages: []Message{},
		Created:  time.Now(),
		Updated:  time.Now(),
	}
	m.sessions[key] = session
	return session
}

// AddMessage appends a turn to the conversation owned by principalID. The
// owning principal is fixed on first write; search never crosses owners.
func (m *Manager) AddMessage(key, principalID, role, sender, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[key]
	if !ok {
		session = &Session{Key: key, Principal: principalID, Created: time.Now()}
		m.sessions[key] = session
	}
	if session.Principal == "" {
		session.Principal = principalID
	}
	session.Messages = append(session.Messages, Message{
		Role:      role,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now(),
	})
	session.Updated = time.Now()
	m.persist(session)
}

// History returns a copy of the session's messages.
func (m *Manager) History(key string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[key]
	if !ok {
		return []Message{}
	}
	out := make([]Message, len(session.Messages))
	copy(out, session.Messages)
	return out
}

// SearchHit is one match across session history.
type SearchHit struct {
	SessionKey string    `json:"session_key"`
	Role       string    `json:"role"`
	Sender     string    `json:"sender,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// Search scans the principal's sessions for messages containing query,
// case-insensitive, newest first, capped at limit. Sessions owned by other
// principals are never visible.
func (m *Manager) Search(principalID, query string, limit int) []SearchHit {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []SearchHit
	for key, session := range m.sessions {
		if session.Principal != principalID {
			continue
		}
		for _, msg := range session.Messages {
			if strings.Contains(strings.ToLower(msg.Content), query) {
				hits = append(hits, SearchHit{
					SessionKey: key,
					Role:       msg.Role,
					Sender:     msg.Sender,
					Content:    msg.Content,
					Timestamp:  msg.Timestamp,
				})
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Timestamp.After(hits[j].Timestamp) })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// ListKeys returns all known session keys in stable order.
func (m *Manager) ListKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *Manager) persist(session *Session) {
	if m.storage == "" {
		return
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		logger.WarnCF("session", "Session encode failed", map[string]interface{}{
			"key":   session.Key,
			"error": err.Error(),
		})
		return
	}
	path := filepath.Join(m.storage, sanitizeKey(session.Key)+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		logger.WarnCF("session", "Session write failed", map[string]interface{}{
			"key":   session.Key,
			"error": err.Error(),
		})
	}
}

func (m *Manager) loadSessions() {
	entries, err := os.ReadDir(m.storage)
	if err != nil {
		logger.WarnCF("session", "Session preload skipped", map[string]interface{}{
			"storage": m.storage,
			"error":   err.Error(),
		})
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.storage, entry.Name()))
		if err != nil {
			continue
		}
		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		if session.Key != "" {
			m.sessions[session.Key] = &session
		}
	}
}

func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}
