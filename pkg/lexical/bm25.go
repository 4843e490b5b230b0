// Package lexical implements the lexical index: a BM25
// inverted index plus a small boolean/phrase/prefix/fuzzy query
// language.
package lexical

import (
	"math"
	"strings"
	"sync"
	"unicode"
)

// BM25 parameters.
const (
	K1 = 1.2
	B  = 0.75
)

// Result is a single scored match. Scores are raw BM25, surfaced
// unchanged to the fusion layer.
type Result struct {
	ID    string
	Score float64
}

// Index is a thread-safe BM25 inverted index over a single logical text
// field per document id. pkg/search concatenates the searchable field
// list (content, text, title, name, description, path, workerRole,
// requirements, plus file-chunk text) into one string per node before
// indexing, keeping this package field-agnostic.
type Index struct {
	mu sync.RWMutex

	documents     map[string]string
	invertedIndex map[string]map[string]int // term -> docID -> freq
	docLengths    map[string]int
	avgDocLength  float64
	docCount      int
}

func NewIndex() *Index {
	return &Index{
		documents:     make(map[string]string),
		invertedIndex: make(map[string]map[string]int),
		docLengths:    make(map[string]int),
	}
}

// Upsert indexes or re-indexes id with text. Callers invoke this
// inline with a graph write, never asynchronously, so post-write reads
// are self-consistent.
func (idx *Index) Upsert(id, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return
	}
	idx.documents[id] = text
	idx.docLengths[id] = len(tokens)
	idx.docCount++

	freq := make(map[string]int)
	for _, t := range tokens {
		freq[t]++
	}
	for term, f := range freq {
		if idx.invertedIndex[term] == nil {
			idx.invertedIndex[term] = make(map[string]int)
		}
		idx.invertedIndex[term][id] = f
	}
	idx.updateAvgDocLength()
}

// Remove deletes id from the index. A no-op if id was never indexed.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *Index) removeLocked(id string) {
	text, exists := idx.documents[id]
	if !exists {
		return
	}
	freq := make(map[string]int)
	for _, t := range Tokenize(text) {
		freq[t]++
	}
	for term := range freq {
		if docs, ok := idx.invertedIndex[term]; ok {
			delete(docs, id)
			if len(docs) == 0 {
				delete(idx.invertedIndex, term)
			}
		}
	}
	delete(idx.documents, id)
	delete(idx.docLengths, id)
	idx.docCount--
	idx.updateAvgDocLength()
}

func (idx *Index) updateAvgDocLength() {
	if idx.docCount <= 0 {
		idx.avgDocLength = 0
		return
	}
	total := 0
	for _, l := range idx.docLengths {
		total += l
	}
	idx.avgDocLength = float64(total) / float64(idx.docCount)
}

// scoreTerm returns this index's BM25 contribution of term across every
// document that contains it, exact-match only (no prefix/fuzzy
// expansion; that lives in query.go, which calls scoreTermLocked).
func (idx *Index) scoreTerm(term string) map[string]float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.scoreTermLocked(term)
}

func (idx *Index) scoreTermLocked(term string) map[string]float64 {
	docs, ok := idx.invertedIndex[term]
	if !ok || idx.docCount == 0 {
		return nil
	}
	idf := idx.idfLocked(term)
	out := make(map[string]float64, len(docs))
	for docID, tf := range docs {
		docLen := float64(idx.docLengths[docID])
		num := float64(tf) * (K1 + 1)
		den := float64(tf) + K1*(1-B+B*(docLen/idx.avgDocLength))
		out[docID] = idf * (num / den)
	}
	return out
}

func (idx *Index) idfLocked(term string) float64 {
	df := float64(len(idx.invertedIndex[term]))
	n := float64(idx.docCount)
	idf := math.Log(1 + (n-df+0.5)/(df+0.5))
	if idf < 0 {
		return 0
	}
	return idf
}

// Count returns the number of indexed documents.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.docCount
}

// Tokenize lowercases and splits on non-alphanumeric boundaries,
// dropping stop words and single-character tokens.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(c rune) bool {
		return !unicode.IsLetter(c) && !unicode.IsDigit(c)
	})
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 || stopWords[w] {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "he": true, "in": true, "is": true,
	"it": true, "its": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "to": true, "was": true, "were": true,
	"with": true, "this": true, "but": true, "they": true,
	"we": true, "you": true, "your": true, "my": true, "their": true,
	"been": true, "do": true, "does": true, "did": true,
}
