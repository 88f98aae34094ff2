package linkknn

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// DocumentFilter restricts a document-index search to a candidate set.
// It is backed by a roaring bitmap, which is both the membership test and
// the iteration order (ascending document index) of a filtered search.
type DocumentFilter struct {
	bitmap *roaring.Bitmap
}

// documentFilterPool recycles filters; the evaluator builds one per query.
var documentFilterPool = sync.Pool{
	New: func() interface{} {
		return &DocumentFilter{
			bitmap: roaring.New(),
		}
	},
}

// NewDocumentFilter creates a filter from a list of document indexes.
// An empty list returns nil, which means "no filtering".
// Return the filter with ReturnDocumentFilter when done.
func NewDocumentFilter(documentIDs []uint32) *DocumentFilter {
	if len(documentIDs) == 0 {
		return nil
	}

	filter := documentFilterPool.Get().(*DocumentFilter)
	filter.bitmap.Clear()
	filter.bitmap.AddMany(documentIDs)

	return filter
}

// ReturnDocumentFilter puts a filter back into the pool.
// Do not use the filter after calling this.
func ReturnDocumentFilter(filter *DocumentFilter) {
	if filter != nil {
		documentFilterPool.Put(filter)
	}
}

// IsEligible reports whether docID may appear in results.
// A nil filter admits every document.
func (f *DocumentFilter) IsEligible(docID uint32) bool {
	if f == nil {
		return true
	}
	return f.bitmap.Contains(docID)
}

// ShouldSkip is the negation of IsEligible, for use with continue.
func (f *DocumentFilter) ShouldSkip(docID uint32) bool {
	return !f.IsEligible(docID)
}

// Count returns the number of eligible documents, 0 for a nil filter.
func (f *DocumentFilter) Count() uint64 {
	if f == nil {
		return 0
	}
	return f.bitmap.GetCardinality()
}

// IsEmpty reports whether no document is eligible.
// A nil filter is never empty.
func (f *DocumentFilter) IsEmpty() bool {
	if f == nil {
		return false
	}
	return f.bitmap.IsEmpty()
}

// ForEach calls fn for each eligible document in ascending order and stops
// early when fn returns false. It does nothing for a nil filter.
func (f *DocumentFilter) ForEach(fn func(docID uint32) bool) {
	if f == nil {
		return
	}
	it := f.bitmap.Iterator()
	for it.HasNext() {
		if !fn(it.Next()) {
			return
		}
	}
}
