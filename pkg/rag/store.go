// Package rag retrieves knowledge snippets for a question and wraps them
// around the question as a context block.
package rag

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/bytedance/sonic"
)

var (
	// ErrDuplicateID indicates two knowledge items share an id.
	ErrDuplicateID = errors.New("rag: duplicate knowledge id")

	// ErrMissingID indicates a knowledge item without an id.
	ErrMissingID = errors.New("rag: knowledge item has no id")
)

// Item is one knowledge snippet with its precomputed embedding.
type Item struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding,omitempty"`
}

// Hit is a scored search result.
type Hit struct {
	Item  *Item
	Score float64
}

// Store is the in-memory knowledge corpus. It is read-only after
// construction and shared by every connection.
type Store struct {
	items []*Item
	byID  map[string]*Item
}

// NewStore indexes items by id.
func NewStore(items []Item) (*Store, error) {
	s := &Store{
		items: make([]*Item, 0, len(items)),
		byID:  make(map[string]*Item, len(items)),
	}
	for i := range items {
		it := items[i]
		if it.ID == "" {
			return nil, fmt.Errorf("%w (index %d)", ErrMissingID, i)
		}
		if _, ok := s.byID[it.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, it.ID)
		}
		s.items = append(s.items, &it)
		s.byID[it.ID] = &it
	}
	return s, nil
}

// LoadFile reads a JSON array of items. An empty path or a missing file
// yields an empty store.
func LoadFile(path string) (*Store, error) {
	if path == "" {
		return NewStore(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStore(nil)
		}
		return nil, fmt.Errorf("rag: read knowledge: %w", err)
	}

	var items []Item
	if err := sonic.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("rag: decode knowledge: %w", err)
	}
	return NewStore(items)
}

// Len returns the number of items. A nil store is empty.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Get looks an item up by id.
func (s *Store) Get(id string) (*Item, bool) {
	if s == nil {
		return nil, false
	}
	it, ok := s.byID[id]
	return it, ok
}

// Search scores every item against vec, keeps those in scope (when scope is
// non-empty) scoring above minScore, and returns up to limit hits by
// descending score. limit <= 0 means no limit.
func (s *Store) Search(vec []float64, scope string, limit int, minScore float64) []Hit {
	if s.Len() == 0 {
		return nil
	}
	hits := make([]Hit, 0, len(s.items))
	for _, it := range s.items {
		if scope != "" && it.Scope != scope {
			continue
		}
		score := Cosine(vec, it.Embedding)
		if score <= minScore {
			continue
		}
		hits = append(hits, Hit{Item: it, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Cosine returns dot(a,b) / (|a| * |b|). It returns 0 for empty,
// zero-magnitude or length-mismatched vectors.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
