// Package conversation tracks per-conversation turn history and classifies
// follow-up queries.
package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Turn is a single query/response exchange in a conversation
type Turn struct {
	TurnID    string                 `json:"turn_id"`
	Query     string                 `json:"query"`
	Response  string                 `json:"response"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Context holds the append-only turn log for one conversation
type Context struct {
	ConversationID string    `json:"conversation_id"`
	Turns          []Turn    `json:"turns"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// followupCues are substring-matched against the lower-cased query
var followupCues = []string{
	"also", "additionally", "furthermore", "moreover",
	"what about", "how about", "tell me more", "can you",
	"what else", "another", "other", "different",
}

// pronouns are matched as whole words only
var pronouns = map[string]bool{
	"it": true, "that": true, "this": true,
	"these": true, "those": true, "they": true, "them": true,
}

const shortQueryWords = 5
const responseSummaryLimit = 200

// Manager owns all conversation state. Operations on the same conversation
// are serialized; different conversations proceed independently.
type Manager struct {
	mu            sync.Mutex
	conversations map[string]*Context
	locks         map[string]*sync.Mutex
}

// NewManager creates an empty conversation manager
func NewManager() *Manager {
	return &Manager{
		conversations: make(map[string]*Context),
		locks:         make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-conversation mutex, creating it on first use.
// Callers must hold it across the read-decide-append window of one request
// so concurrent requests against the same conversation cannot build
// follow-up enhancements from stale context.
func (m *Manager) Lock(conversationID string) *sync.Mutex {
	m.mu.Lock()
	lock, ok := m.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[conversationID] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	return lock
}

// GetOrCreate returns the conversation for the given ID, creating it if
// needed. An empty ID gets a fresh UUID.
func (m *Manager) GetOrCreate(conversationID string) *Context {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[conversationID]; ok {
		return c
	}
	now := time.Now()
	c := &Context{
		ConversationID: conversationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.conversations[conversationID] = c
	return c
}

// Get returns the conversation for the given ID, or nil if it doesn't exist
func (m *Manager) Get(conversationID string) *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversations[conversationID]
}

// AddTurn appends a query/response turn to the conversation
func (m *Manager) AddTurn(conversationID, query, response string, metadata map[string]interface{}) {
	c := m.GetOrCreate(conversationID)
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Turns = append(c.Turns, Turn{
		TurnID:    uuid.NewString(),
		Query:     query,
		Response:  response,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})
	c.UpdatedAt = time.Now()
}

// RecentTurns returns the last n turns in chronological order, or fewer if
// the history is shorter
func (m *Manager) RecentTurns(conversationID string, n int) []Turn {
	c := m.Get(conversationID)
	if c == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(c.Turns) <= n {
		return append([]Turn(nil), c.Turns...)
	}
	return append([]Turn(nil), c.Turns[len(c.Turns)-n:]...)
}

// RecentQueries returns the queries of the last n turns, oldest first
func (m *Manager) RecentQueries(conversationID string, n int) []string {
	turns := m.RecentTurns(conversationID, n)
	queries := make([]string, 0, len(turns))
	for _, t := range turns {
		queries = append(queries, t.Query)
	}
	return queries
}

// ContextSummary formats the last 3 turns as alternating Q:/A: lines, with
// each answer truncated to 200 characters. Empty string when there is no
// history.
func (m *Manager) ContextSummary(conversationID string) string {
	turns := m.RecentTurns(conversationID, 3)
	if len(turns) == 0 {
		return ""
	}
	var parts []string
	for _, t := range turns {
		parts = append(parts, fmt.Sprintf("Q: %s", t.Query))
		response := t.Response
		if len(response) > responseSummaryLimit {
			cut := responseSummaryLimit
			for cut > 0 && !utf8.RuneStart(response[cut]) {
				cut--
			}
			response = response[:cut]
		}
		parts = append(parts, fmt.Sprintf("A: %s...", response))
	}
	return strings.Join(parts, "\n")
}

// IsFollowup reports whether a query appears to be a follow-up to earlier
// turns in the conversation. Always false with no prior turns. Otherwise
// true when the query contains a follow-up cue phrase, a bare pronoun as a
// whole word, or fewer than 5 words. This is a heuristic: short standalone
// queries are routinely misclassified as follow-ups, and that is accepted.
func (m *Manager) IsFollowup(query, conversationID string) bool {
	c := m.Get(conversationID)
	if c == nil {
		return false
	}
	m.mu.Lock()
	empty := len(c.Turns) == 0
	m.mu.Unlock()
	if empty {
		return false
	}

	lower := strings.ToLower(query)
	for _, cue := range followupCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}

	words := strings.Fields(lower)
	for _, w := range words {
		if pronouns[strings.Trim(w, ".,!?;:")] {
			return true
		}
	}

	return len(strings.Fields(query)) < shortQueryWords
}

// NumTurns returns the number of recorded turns for a conversation
func (m *Manager) NumTurns(conversationID string) int {
	c := m.Get(conversationID)
	if c == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(c.Turns)
}

// Clear removes a conversation and its history
func (m *Manager) Clear(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, conversationID)
	delete(m.locks, conversationID)
}

// Count returns the number of active conversations
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}
