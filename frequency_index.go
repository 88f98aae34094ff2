// Package linkknn implements the frequency index that pre-filters candidate
// documents for each link.
//
// WHAT IS THE FREQUENCY INDEX?
// For every distinct link string w of a dataset, the index stores one entry
// per document d: (count of w in d, d, own row of w). The entries are kept in
// the order given by a CandidatePolicy, so that "the first T entries" is the
// T-document candidate set of any query whose link is w.
//
// The own row of w is the ground truth: the dataset's row i has document i as
// its target, so the document a link resolves to is the row it came from.
// When a link appears on several rows, the last row wins.
//
// HOW COUNTS ARE COMPUTED:
//   - CountSubstring (default): non-overlapping substring occurrences, the
//     semantics of strings.Count. Every document is scanned once with an
//     Aho-Corasick automaton over all links; exact counts are only computed
//     for links the automaton reports.
//   - CountTokens: NFKC-normalized, lowercased UAX#29 word sequences. A
//     roaring posting list per token narrows the documents to count in.
//
// TIME COMPLEXITY:
//   - Build: O(U*D) entries (U distinct links, D documents) plus the scan
//   - Candidates: O(T)
//
// MEMORY REQUIREMENTS:
// U*D entries of three ints. This quadratic cost is what bounds the dataset
// size in practice.
package linkknn

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring"
	aho "github.com/anknown/ahocorasick"
)

// ErrLinkNotIndexed is returned when a query link was never seen while the
// index was built. It aborts an evaluation.
var ErrLinkNotIndexed = errors.New("link not in frequency index")

// ErrUnknownPolicy is returned for an unrecognized CandidatePolicy or CountMode.
var ErrUnknownPolicy = errors.New("unknown policy")

// CandidatePolicy decides the order in which a link's entries are consumed.
type CandidatePolicy string

const (
	// DescendingCount puts the documents mentioning the link most often first,
	// ties by ascending document index. This is the intended "top-T most
	// frequent" filter.
	DescendingCount CandidatePolicy = "descending"

	// AscendingCount puts the least frequent documents first.
	AscendingCount CandidatePolicy = "ascending"

	// InsertionOrder keeps document order.
	InsertionOrder CandidatePolicy = "insertion"

	// HeapOrder keeps the array layout of a binary min-heap on
	// (count, doc, row) fed in document order, i.e. what slicing the raw heap
	// yields. Kept to reproduce historic numbers.
	HeapOrder CandidatePolicy = "heap"
)

// ParseCandidatePolicy converts a configuration string into a policy.
// The empty string selects DescendingCount.
func ParseCandidatePolicy(s string) (CandidatePolicy, error) {
	switch p := CandidatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DescendingCount, nil
	case DescendingCount, AscendingCount, InsertionOrder, HeapOrder:
		return p, nil
	default:
		return "", fmt.Errorf("%w: candidate policy %q", ErrUnknownPolicy, s)
	}
}

// CountMode decides how occurrences of a link in a document are counted.
type CountMode string

const (
	// CountSubstring counts raw non-overlapping substring occurrences.
	CountSubstring CountMode = "substring"

	// CountTokens counts normalized word-sequence occurrences.
	CountTokens CountMode = "token"
)

// ParseCountMode converts a configuration string into a count mode.
// The empty string selects CountSubstring.
func ParseCountMode(s string) (CountMode, error) {
	switch m := CountMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return CountSubstring, nil
	case CountSubstring, CountTokens:
		return m, nil
	default:
		return "", fmt.Errorf("%w: count mode %q", ErrUnknownPolicy, s)
	}
}

// FrequencyEntry is the occurrence count of a link in one document.
type FrequencyEntry struct {
	Count     int
	DocIndex  int
	LinkIndex int // row the link was indexed from
}

// IndexOption configures NewFrequencyIndex.
type IndexOption func(*indexConfig)

type indexConfig struct {
	policy    CandidatePolicy
	countMode CountMode
	progress  ProgressFunc
}

// WithCandidatePolicy sets the candidate order. Default DescendingCount.
func WithCandidatePolicy(p CandidatePolicy) IndexOption {
	return func(c *indexConfig) { c.policy = p }
}

// WithCountMode sets how occurrences are counted. Default CountSubstring.
func WithCountMode(m CountMode) IndexOption {
	return func(c *indexConfig) { c.countMode = m }
}

// WithBuildProgress reports build progress once per document scanned.
func WithBuildProgress(fn ProgressFunc) IndexOption {
	return func(c *indexConfig) { c.progress = fn }
}

// linkEntry is everything the index knows about one link string.
type linkEntry struct {
	truth      int
	entries    []FrequencyEntry
	containing *roaring.Bitmap // documents with a non-zero count
}

// FrequencyIndex maps every link of a dataset to its ranked candidate list.
// It is immutable after NewFrequencyIndex returns and safe for concurrent use.
type FrequencyIndex struct {
	links      map[string]*linkEntry
	numDocs    int
	numRows    int
	duplicates int
	policy     CandidatePolicy
	countMode  CountMode

	mu sync.RWMutex
}

// IndexStats summarizes a built index.
type IndexStats struct {
	Rows           int
	Documents      int
	Links          int     // distinct link strings
	DuplicateLinks int     // rows whose link was already seen on an earlier row
	Coverage       float64 // fraction of links whose truth document contains them
	MeanContaining float64 // mean number of documents containing a link
}

// NewFrequencyIndex builds the index for rows. Row i's Target is document i.
//
// Example:
//
//	idx, err := NewFrequencyIndex(rows, WithCandidatePolicy(DescendingCount))
//	if err != nil { return err }
//	docs, err := idx.Candidates("apple", 50)
func NewFrequencyIndex(rows []Row, opts ...IndexOption) (*FrequencyIndex, error) {
	cfg := indexConfig{policy: DescendingCount, countMode: CountSubstring}
	for _, opt := range opts {
		opt(&cfg)
	}
	policy, err := ParseCandidatePolicy(string(cfg.policy))
	if err != nil {
		return nil, err
	}
	countMode, err := ParseCountMode(string(cfg.countMode))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows to index", ErrInvalidParameters)
	}

	idx := &FrequencyIndex{
		links:     make(map[string]*linkEntry),
		numDocs:   len(rows),
		numRows:   len(rows),
		policy:    policy,
		countMode: countMode,
	}

	// Later rows overwrite earlier ones.
	for i, r := range rows {
		if e, ok := idx.links[r.Link]; ok {
			e.truth = i
			idx.duplicates++
			continue
		}
		idx.links[r.Link] = &linkEntry{truth: i, containing: roaring.New()}
	}

	var counts map[string]map[int]int
	switch countMode {
	case CountTokens:
		counts = countTokens(rows, idx.links, cfg.progress)
	default:
		counts, err = countSubstrings(rows, idx.links, cfg.progress)
		if err != nil {
			return nil, err
		}
	}

	for link, e := range idx.links {
		perDoc := counts[link]
		entries := make([]FrequencyEntry, idx.numDocs)
		for d := range entries {
			c := perDoc[d]
			entries[d] = FrequencyEntry{Count: c, DocIndex: d, LinkIndex: e.truth}
			if c > 0 {
				e.containing.Add(uint32(d))
			}
		}
		e.entries = orderEntries(entries, policy)
	}

	return idx, nil
}

// countSubstrings returns link -> doc -> count for every non-zero count.
func countSubstrings(rows []Row, links map[string]*linkEntry, progress ProgressFunc) (map[string]map[int]int, error) {
	counts := make(map[string]map[int]int, len(links))

	keys := make([]string, 0, len(links))
	var raw []string // not valid UTF-8, so invisible to the rune automaton
	hasEmpty := false
	for link := range links {
		switch {
		case link == "":
			hasEmpty = true
		case !utf8.ValidString(link):
			raw = append(raw, link)
		default:
			keys = append(keys, link)
		}
	}
	sort.Strings(keys)
	sort.Strings(raw)

	var machine *aho.Machine
	if len(keys) > 0 {
		runes := make([][]rune, len(keys))
		for i, k := range keys {
			runes[i] = []rune(k)
		}
		machine = new(aho.Machine)
		if err := machine.Build(runes); err != nil {
			return nil, fmt.Errorf("build link automaton: %w", err)
		}
	}

	for d, r := range rows {
		doc := r.Target
		if hasEmpty {
			// strings.Count matches the empty string between every rune.
			addCount(counts, "", d, utf8.RuneCountInString(doc)+1)
		}
		if machine != nil && doc != "" {
			seen := make(map[string]struct{})
			for _, term := range machine.MultiPatternSearch([]rune(doc), false) {
				word := string(term.Word)
				if _, ok := seen[word]; ok {
					continue
				}
				seen[word] = struct{}{}
				addCount(counts, word, d, strings.Count(doc, word))
			}
		}
		for _, link := range raw {
			addCount(counts, link, d, strings.Count(doc, link))
		}
		if progress != nil {
			progress(d+1, len(rows))
		}
	}
	return counts, nil
}

// countTokens returns link -> doc -> count using normalized token sequences.
func countTokens(rows []Row, links map[string]*linkEntry, progress ProgressFunc) map[string]map[int]int {
	counts := make(map[string]map[int]int, len(links))

	docTokens := make([][]string, len(rows))
	postings := make(map[string]*roaring.Bitmap)
	for d, r := range rows {
		toks := tokenize(normalize(r.Target))
		docTokens[d] = toks
		for _, t := range toks {
			if postings[t] == nil {
				postings[t] = roaring.New()
			}
			postings[t].Add(uint32(d))
		}
	}

	done := 0
	for link := range links {
		needle := tokenize(normalize(link))
		if len(needle) > 0 {
			if docs := postings[needle[0]]; docs != nil {
				it := docs.Iterator()
				for it.HasNext() {
					d := int(it.Next())
					if c := countTokenSequence(docTokens[d], needle); c > 0 {
						addCount(counts, link, d, c)
					}
				}
			}
		}
		done++
		if progress != nil {
			progress(done, len(links))
		}
	}
	return counts
}

func addCount(counts map[string]map[int]int, link string, doc, c int) {
	if c == 0 {
		return
	}
	m := counts[link]
	if m == nil {
		m = make(map[int]int)
		counts[link] = m
	}
	m[doc] = c
}

// orderEntries arranges entries (given in document order) by policy.
func orderEntries(entries []FrequencyEntry, policy CandidatePolicy) []FrequencyEntry {
	switch policy {
	case DescendingCount:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Count > entries[j].Count
		})
	case AscendingCount:
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Count < entries[j].Count
		})
	case HeapOrder:
		h := make(entryHeap, 0, len(entries))
		for _, e := range entries {
			heap.Push(&h, e)
		}
		return h
	}
	return entries
}

// entryHeap is a min-heap on (Count, DocIndex, LinkIndex).
type entryHeap []FrequencyEntry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].Count != h[j].Count {
		return h[i].Count < h[j].Count
	}
	if h[i].DocIndex != h[j].DocIndex {
		return h[i].DocIndex < h[j].DocIndex
	}
	return h[i].LinkIndex < h[j].LinkIndex
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(FrequencyEntry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (idx *FrequencyIndex) lookup(link string) (*linkEntry, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.links[link]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLinkNotIndexed, link)
	}
	return e, nil
}

// Truth returns the document a link resolves to.
func (idx *FrequencyIndex) Truth(link string) (int, error) {
	e, err := idx.lookup(link)
	if err != nil {
		return 0, err
	}
	return e.truth, nil
}

// Entries returns a copy of the link's full list in policy order.
func (idx *FrequencyIndex) Entries(link string) ([]FrequencyEntry, error) {
	e, err := idx.lookup(link)
	if err != nil {
		return nil, err
	}
	return append([]FrequencyEntry(nil), e.entries...), nil
}

// Candidates returns the document indexes of the first t entries of the
// link's list. A list shorter than t is returned whole.
func (idx *FrequencyIndex) Candidates(link string, t int) ([]uint32, error) {
	e, err := idx.lookup(link)
	if err != nil {
		return nil, err
	}
	if t > len(e.entries) {
		t = len(e.entries)
	}
	if t < 0 {
		t = 0
	}
	out := make([]uint32, t)
	for i := 0; i < t; i++ {
		out[i] = uint32(e.entries[i].DocIndex)
	}
	return out, nil
}

// Containing returns the documents whose text contains the link.
// The bitmap is a copy and may be modified by the caller.
func (idx *FrequencyIndex) Containing(link string) (*roaring.Bitmap, error) {
	e, err := idx.lookup(link)
	if err != nil {
		return nil, err
	}
	return e.containing.Clone(), nil
}

// Has reports whether link was indexed.
func (idx *FrequencyIndex) Has(link string) bool {
	_, err := idx.lookup(link)
	return err == nil
}

// Links returns the distinct indexed links, sorted.
func (idx *FrequencyIndex) Links() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.links))
	for l := range idx.links {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Documents returns the number of documents.
func (idx *FrequencyIndex) Documents() int { return idx.numDocs }

// Policy returns the candidate order the index was built with.
func (idx *FrequencyIndex) Policy() CandidatePolicy { return idx.policy }

// CountMode returns how occurrences were counted.
func (idx *FrequencyIndex) CountMode() CountMode { return idx.countMode }

// Stats summarizes the index.
func (idx *FrequencyIndex) Stats() IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	s := IndexStats{
		Rows:           idx.numRows,
		Documents:      idx.numDocs,
		Links:          len(idx.links),
		DuplicateLinks: idx.duplicates,
	}
	if len(idx.links) == 0 {
		return s
	}
	covered := 0
	var containing uint64
	for _, e := range idx.links {
		if e.containing.Contains(uint32(e.truth)) {
			covered++
		}
		containing += e.containing.GetCardinality()
	}
	s.Coverage = float64(covered) / float64(len(idx.links))
	s.MeanContaining = float64(containing) / float64(len(idx.links))
	return s
}
