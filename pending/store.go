package pending

import (
	"time"

	"github.com/alanbriolat/media-fetch"
	"github.com/alanbriolat/media-fetch/internal/sync_"
)

// Store holds pending selections by token. Implementations must make Take atomic: of any number of concurrent Take
// calls for one token, at most one observes the entry. Sweep and Take for the same token must likewise never both
// observe it.
type Store interface {
	Put(selection mediafetch.PendingSelection) error
	// Take removes and returns the entry for token, if present.
	Take(token string) (mediafetch.PendingSelection, bool, error)
	Delete(token string) error
	// Sweep removes every entry created before cutoff, returning how many were removed.
	Sweep(cutoff time.Time) (int, error)
	Len() (int, error)
	Close() error
}

type entries = map[string]mediafetch.PendingSelection

// MemoryStore keeps selections in process memory.
type MemoryStore struct {
	entries *sync_.Mutexed[entries]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: sync_.NewMutexed(make(entries))}
}

func (s *MemoryStore) Put(selection mediafetch.PendingSelection) error {
	return s.entries.Locked(func(e entries) error {
		e[selection.Token] = selection
		return nil
	})
}

func (s *MemoryStore) Take(token string) (selection mediafetch.PendingSelection, found bool, err error) {
	err = s.entries.Locked(func(e entries) error {
		if selection, found = e[token]; found {
			delete(e, token)
		}
		return nil
	})
	return selection, found, err
}

func (s *MemoryStore) Delete(token string) error {
	return s.entries.Locked(func(e entries) error {
		delete(e, token)
		return nil
	})
}

func (s *MemoryStore) Sweep(cutoff time.Time) (removed int, err error) {
	err = s.entries.Locked(func(e entries) error {
		for token, selection := range e {
			if selection.CreatedAt.Before(cutoff) {
				delete(e, token)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

func (s *MemoryStore) Len() (n int, err error) {
	err = s.entries.Locked(func(e entries) error {
		n = len(e)
		return nil
	})
	return n, err
}

func (s *MemoryStore) Close() error {
	s.entries.Swap(make(entries))
	return nil
}
