// Package rag retrieves prior correspondence for the classifier: the mail
// thread itself plus semantically similar messages from a per-user vector
// index, trimmed to a token budget.
package rag

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// SearchResult is one nearest neighbour from the index.
type SearchResult struct {
	ID    string
	Score float64 // cosine similarity, higher is better
}

// VectorIndex is the nearest-neighbour store for one tenant's messages.
// Implementations must never return another user's documents.
type VectorIndex interface {
	Add(userID, id string, vector []float64, text string) error
	Search(userID string, query []float64, k int) ([]SearchResult, error)
	Text(userID, id string) (string, bool)
	Size(userID string) int
}

type indexEntry struct {
	id     string
	vector []float64
	norm   float64
	text   string
}

// FlatIndex is an exact in-memory index with brute-force cosine search,
// partitioned by user. Corpus sizes here are a few thousand messages per
// user, well inside flat-search territory.
type FlatIndex struct {
	mu     sync.RWMutex
	byUser map[string][]indexEntry
	texts  map[string]map[string]string
}

// NewFlatIndex creates an empty index.
func NewFlatIndex() *FlatIndex {
	return &FlatIndex{
		byUser: make(map[string][]indexEntry),
		texts:  make(map[string]map[string]string),
	}
}

// Add inserts or replaces a document vector for the user.
func (f *FlatIndex) Add(userID, id string, vector []float64, text string) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for document %s", id)
	}
	norm := vectorNorm(vector)
	if norm == 0 {
		return fmt.Errorf("zero-norm vector for document %s", id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries := f.byUser[userID]
	for i := range entries {
		if entries[i].id == id {
			entries[i] = indexEntry{id: id, vector: vector, norm: norm, text: text}
			f.setText(userID, id, text)
			return nil
		}
	}
	f.byUser[userID] = append(entries, indexEntry{id: id, vector: vector, norm: norm, text: text})
	f.setText(userID, id, text)
	return nil
}

func (f *FlatIndex) setText(userID, id, text string) {
	if f.texts[userID] == nil {
		f.texts[userID] = make(map[string]string)
	}
	f.texts[userID][id] = text
}

// Search returns up to k neighbours for the user's partition, best first.
func (f *FlatIndex) Search(userID string, query []float64, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	qnorm := vectorNorm(query)
	if qnorm == 0 {
		return nil, fmt.Errorf("zero-norm query vector")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	entries := f.byUser[userID]
	results := make([]SearchResult, 0, len(entries))
	for _, e := range entries {
		if len(e.vector) != len(query) {
			continue
		}
		results = append(results, SearchResult{ID: e.id, Score: dot(query, e.vector) / (qnorm * e.norm)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Text returns the stored text for a document id.
func (f *FlatIndex) Text(userID, id string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	text, ok := f.texts[userID][id]
	return text, ok
}

// Size reports the number of documents in the user's partition.
func (f *FlatIndex) Size(userID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.byUser[userID])
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func vectorNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
