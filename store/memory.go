package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is a fully in-process Store used by tests and local
// development. A single mutex serializes Update transactions, which gives
// the same exactly-one-winner guarantee the SQL and Redis stores provide.
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]map[string]*memDoc // collection → id → doc
	seq      uint64
	watchers map[string][]*memWatcher // collection/id → subscribers
}

type memDoc struct {
	raw []byte
	seq uint64 // insertion order, keeps query results deterministic
}

type memWatcher struct {
	ch   chan []byte
	done chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]map[string]*memDoc),
		watchers: make(map[string][]*memWatcher),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]*memDoc)
		s.docs[collection] = coll
	}
	if _, taken := coll[id]; taken {
		return ErrExists
	}
	s.seq++
	coll[id] = &memDoc{raw: raw, seq: s.seq}
	s.notifyLocked(collection, id, raw)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string, out any) error {
	s.mu.Lock()
	doc, ok := s.docs[collection][id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(doc.raw, out)
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.docs[collection], id)
	s.closeWatchersLocked(collection, id)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, filters []Filter, out any) error {
	s.mu.Lock()
	docs := make([]*memDoc, 0, len(s.docs[collection]))
	for _, d := range s.docs[collection] {
		docs = append(docs, d)
	}
	s.mu.Unlock()

	// Oldest first — not a contract, just determinism for tests.
	for i := 1; i < len(docs); i++ {
		for j := i; j > 0 && docs[j].seq < docs[j-1].seq; j-- {
			docs[j], docs[j-1] = docs[j-1], docs[j]
		}
	}

	var raws []json.RawMessage
	for _, d := range docs {
		ok, err := MatchesFilters(d.raw, filters)
		if err != nil {
			return err
		}
		if ok {
			raws = append(raws, json.RawMessage(d.raw))
		}
	}
	return UnmarshalDocs(raws, out)
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, apply func(raw []byte) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return ErrNotFound
	}
	updated, err := apply(doc.raw)
	if err != nil {
		return err
	}
	doc.raw = updated
	s.notifyLocked(collection, id, updated)
	return nil
}

func (s *MemoryStore) Watch(ctx context.Context, collection, id string) (<-chan []byte, error) {
	w := &memWatcher{ch: make(chan []byte, 16), done: make(chan struct{})}
	key := collection + "/" + id

	s.mu.Lock()
	s.watchers[key] = append(s.watchers[key], w)
	if doc, ok := s.docs[collection][id]; ok {
		w.ch <- doc.raw
	}
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.removeWatcherLocked(key, w)
			s.mu.Unlock()
		case <-w.done:
		}
	}()

	return w.ch, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) notifyLocked(collection, id string, raw []byte) {
	for _, w := range s.watchers[collection+"/"+id] {
		select {
		case w.ch <- raw:
		default: // slow subscriber, drop — next change will catch it up
		}
	}
}

func (s *MemoryStore) closeWatchersLocked(collection, id string) {
	key := collection + "/" + id
	for _, w := range s.watchers[key] {
		close(w.done)
		close(w.ch)
	}
	delete(s.watchers, key)
}

func (s *MemoryStore) removeWatcherLocked(key string, target *memWatcher) {
	ws := s.watchers[key]
	for i, w := range ws {
		if w == target {
			s.watchers[key] = append(ws[:i], ws[i+1:]...)
			close(w.done)
			close(w.ch)
			return
		}
	}
}
