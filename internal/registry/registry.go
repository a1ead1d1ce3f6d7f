package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/XavierBriggs/Delphi/pkg/contracts"
)

// Entry is a registered source and its priority (lower polls and reports first)
type Entry struct {
	Source   contracts.QuoteSource
	Priority int
}

// SourceRegistry manages registered upstream sources
type SourceRegistry struct {
	sources map[string]Entry
	mu      sync.RWMutex
}

// NewSourceRegistry creates a new source registry
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{
		sources: make(map[string]Entry),
	}
}

// Register adds a source to the registry
func (r *SourceRegistry) Register(source contracts.QuoteSource, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := source.SourceID()
	if id == "" {
		return fmt.Errorf("source id cannot be empty")
	}
	if _, exists := r.sources[id]; exists {
		return fmt.Errorf("source %s is already registered", id)
	}

	r.sources[id] = Entry{Source: source, Priority: priority}
	return nil
}

// Get retrieves a source by ID
func (r *SourceRegistry) Get(sourceID string) (contracts.QuoteSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.sources[sourceID]
	return entry.Source, exists
}

// Entries returns all registrations ordered by priority, then ID
func (r *SourceRegistry) Entries() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.sources))
	for _, e := range r.sources {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority < entries[j].Priority
		}
		return entries[i].Source.SourceID() < entries[j].Source.SourceID()
	})
	return entries
}

// GetAll returns all registered sources ordered by priority, then ID
func (r *SourceRegistry) GetAll() []contracts.QuoteSource {
	entries := r.Entries()
	sources := make([]contracts.QuoteSource, len(entries))
	for i, e := range entries {
		sources[i] = e.Source
	}
	return sources
}

// Count returns the number of registered sources
func (r *SourceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sources)
}
