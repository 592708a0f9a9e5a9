package intake

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// PersisterFactory returns the persister that saves profiles for userID.
type PersisterFactory func(userID string) Persister

type registryEntry struct {
	conv     *Conversation
	owner    string
	userID   string
	lastSeen time.Time
}

// Registry owns the live conversations, one per session owner.
type Registry struct {
	mu         sync.Mutex
	catalog    *Catalog
	validator  Validator
	persisters PersisterFactory
	opts       []Option
	entries    map[string]*registryEntry
	byOwner    map[string]string
	now        func() time.Time
}

// NewRegistry creates a registry that builds conversations over catalog.
func NewRegistry(catalog *Catalog, validator Validator, persisters PersisterFactory, opts ...Option) *Registry {
	return &Registry{
		catalog:    catalog,
		validator:  validator,
		persisters: persisters,
		opts:       opts,
		entries:    make(map[string]*registryEntry),
		byOwner:    make(map[string]string),
		now:        time.Now,
	}
}

// Start creates a fresh conversation for owner, replacing any previous one.
func (r *Registry) Start(owner, userID string) *Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prevID, ok := r.byOwner[owner]; ok {
		r.dropLocked(prevID)
	}

	id := ulid.Make().String()
	conv := NewConversation(id, r.catalog, r.validator, r.persisters(userID), r.opts...)
	r.entries[id] = &registryEntry{conv: conv, owner: owner, userID: userID, lastSeen: r.now()}
	r.byOwner[owner] = id
	slog.Info("Registry.Start: conversation started", "conversationID", id, "userID", userID)
	return conv
}

// Get returns the conversation with id if owner owns it.
func (r *Registry) Get(owner, id string) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok || entry.owner != owner {
		return nil, ErrConversationNotFound
	}
	entry.lastSeen = r.now()
	return entry.conv, nil
}

// Drop closes and forgets a conversation.
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(id)
}

func (r *Registry) dropLocked(id string) {
	entry, ok := r.entries[id]
	if !ok {
		return
	}
	entry.conv.Close()
	delete(r.entries, id)
	if r.byOwner[entry.owner] == id {
		delete(r.byOwner, entry.owner)
	}
	slog.Debug("Registry.Drop: conversation dropped", "conversationID", id)
}

// Sweep drops conversations idle for longer than maxIdle and returns how many
// were dropped. Conversations with a call in flight are kept.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	dropped := 0
	for id, entry := range r.entries {
		if entry.lastSeen.After(cutoff) {
			continue
		}
		phase := entry.conv.Snapshot().Phase
		if phase == PhaseValidating || phase == PhaseSaving {
			continue
		}
		r.dropLocked(id)
		dropped++
	}
	if dropped > 0 {
		slog.Info("Registry.Sweep: dropped idle conversations", "count", dropped, "remaining", len(r.entries))
	}
	return dropped
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
