package notify

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sinalbot/signals/shared"
)

// SentEntry is a signal identity held by the sent store.
type SentEntry struct {
	Key       string    `json:"key"`
	EntryTime time.Time `json:"entryTime"`
	MG1Time   time.Time `json:"mg1Time"`
}

// SentStore is the set of signal identities already notified.
type SentStore struct {
	mtx     sync.RWMutex
	entries map[string]SentEntry
}

// NewSentStore initializes an empty sent store.
func NewSentStore() *SentStore {
	return &SentStore{
		entries: make(map[string]SentEntry),
	}
}

// Add records the identity of the provided signal. It returns false if the
// identity was already recorded.
func (s *SentStore) Add(signal *shared.Signal) bool {
	key := signal.Key()

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.entries[key]; ok {
		return false
	}

	s.entries[key] = SentEntry{
		Key:       key,
		EntryTime: signal.EntryTime,
		MG1Time:   signal.MG1Time,
	}

	return true
}

// Contains checks whether the identity of the provided signal is recorded.
func (s *SentStore) Contains(signal *shared.Signal) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	_, ok := s.entries[signal.Key()]
	return ok
}

// Prune drops identities whose martingale retry time is before the provided
// time and returns the number dropped.
func (s *SentStore) Prune(now time.Time) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var pruned int
	for key, entry := range s.entries {
		if entry.MG1Time.Before(now) {
			delete(s.entries, key)
			pruned++
		}
	}

	return pruned
}

// Len returns the number of recorded identities.
func (s *SentStore) Len() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return len(s.entries)
}

// Snapshot returns the recorded identities ordered by entry time.
func (s *SentStore) Snapshot() []SentEntry {
	s.mtx.RLock()
	entries := make([]SentEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	s.mtx.RUnlock()

	slices.SortFunc(entries, func(a, b SentEntry) int {
		if c := a.EntryTime.Compare(b.EntryTime); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})

	return entries
}
