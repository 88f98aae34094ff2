package linkknn

import (
	"errors"
	"reflect"
	"testing"
)

// exampleRows is the three-document dataset used throughout the tests.
// Row i's target is document i.
func exampleRows() []Row {
	return []Row{
		{Link: "apple", Context: "bake an apple", Target: "apple pie"},
		{Link: "banana", Context: "split it", Target: "banana split"},
		{Link: "tart", Context: "a small tart", Target: "apple tart"},
	}
}

func countsByDoc(entries []FrequencyEntry) map[int]int {
	out := make(map[int]int, len(entries))
	for _, e := range entries {
		out[e.DocIndex] = e.Count
	}
	return out
}

func TestFrequencyIndex_Example(t *testing.T) {
	idx, err := NewFrequencyIndex(exampleRows())
	if err != nil {
		t.Fatalf("NewFrequencyIndex() error = %v", err)
	}

	entries, err := idx.Entries("apple")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want one per document", len(entries))
	}
	want := map[int]int{0: 1, 1: 0, 2: 1}
	if got := countsByDoc(entries); !reflect.DeepEqual(got, want) {
		t.Errorf("counts = %v, want %v", got, want)
	}
	for _, e := range entries {
		if e.LinkIndex != 0 {
			t.Errorf("entry %+v has LinkIndex %d, want 0", e, e.LinkIndex)
		}
	}

	truth, err := idx.Truth("apple")
	if err != nil || truth != 0 {
		t.Errorf("Truth(apple) = %d, %v; want 0", truth, err)
	}
	if idx.Documents() != 3 {
		t.Errorf("Documents() = %d, want 3", idx.Documents())
	}
	if got := idx.Links(); !reflect.DeepEqual(got, []string{"apple", "banana", "tart"}) {
		t.Errorf("Links() = %v", got)
	}
}

func TestFrequencyIndex_SubstringSemantics(t *testing.T) {
	rows := []Row{
		{Link: "aa", Target: "aaaa"},      // non-overlapping: 2
		{Link: "ab", Target: "xabyabzab"}, // 3
		{Link: "", Target: "héllo"},       // empty link: runes + 1
		{Link: "Apple", Target: "apple"},  // case sensitive: 0
	}
	idx, err := NewFrequencyIndex(rows)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		link string
		doc  int
		want int
	}{
		{"aa", 0, 2},
		{"ab", 1, 3},
		{"", 2, 6},
		{"", 3, 6},
		{"Apple", 3, 0},
		{"aa", 1, 0},
	}
	for _, tt := range tests {
		entries, err := idx.Entries(tt.link)
		if err != nil {
			t.Fatal(err)
		}
		if got := countsByDoc(entries)[tt.doc]; got != tt.want {
			t.Errorf("count(%q in doc %d) = %d, want %d", tt.link, tt.doc, got, tt.want)
		}
	}
}

func TestFrequencyIndex_InvalidUTF8Link(t *testing.T) {
	rows := []Row{
		{Link: "\xe2\x82", Target: "price: €5"}, // first two bytes of "€"
		{Link: "€", Target: "€€ and \xe2\x82"},
		{Link: "5", Target: "no digits"},
	}
	idx, err := NewFrequencyIndex(rows)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		link string
		want map[int]int
	}{
		{"\xe2\x82", map[int]int{0: 1, 1: 3, 2: 0}},
		{"€", map[int]int{0: 1, 1: 2, 2: 0}},
		{"5", map[int]int{0: 1, 1: 0, 2: 0}},
	}
	for _, tt := range tests {
		entries, err := idx.Entries(tt.link)
		if err != nil {
			t.Fatal(err)
		}
		if got := countsByDoc(entries); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("counts(%q) = %v, want %v", tt.link, got, tt.want)
		}
	}
}

func TestFrequencyIndex_DuplicateLinksLastRowWins(t *testing.T) {
	rows := []Row{
		{Link: "apple", Target: "apple pie"},
		{Link: "pear", Target: "pear cake"},
		{Link: "apple", Target: "apple crumble with apple"},
	}
	idx, err := NewFrequencyIndex(rows)
	if err != nil {
		t.Fatal(err)
	}
	truth, _ := idx.Truth("apple")
	if truth != 2 {
		t.Errorf("Truth(apple) = %d, want 2 (last row)", truth)
	}
	entries, _ := idx.Entries("apple")
	for _, e := range entries {
		if e.LinkIndex != 2 {
			t.Errorf("entry %+v: LinkIndex = %d, want 2", e, e.LinkIndex)
		}
	}
	if len(entries) != 3 {
		t.Errorf("len(entries) = %d, want 3", len(entries))
	}
	s := idx.Stats()
	if s.Links != 2 || s.DuplicateLinks != 1 || s.Rows != 3 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestFrequencyIndex_Policies(t *testing.T) {
	// Counts of "a" per document: [1, 3, 0, 2, 3].
	rows := []Row{
		{Link: "a", Target: "a"},
		{Link: "b", Target: "aaa"},
		{Link: "c", Target: "xyz"},
		{Link: "d", Target: "aa"},
		{Link: "e", Target: "aaa"},
	}

	tests := []struct {
		policy CandidatePolicy
		want   []uint32
	}{
		{DescendingCount, []uint32{1, 4, 3, 0, 2}},
		{AscendingCount, []uint32{2, 0, 3, 1, 4}},
		{InsertionOrder, []uint32{0, 1, 2, 3, 4}},
		// Min-heap on (count, doc) fed in doc order:
		// push (1,0): [0]
		// push (3,1): [0 1]
		// push (0,2): sift up over 0 -> [2 1 0]
		// push (2,3): parent 1 (count 3) -> [2 3 0 1]
		// push (3,4): parent 3 (count 2) stays -> [2 3 0 1 4]
		{HeapOrder, []uint32{2, 3, 0, 1, 4}},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			idx, err := NewFrequencyIndex(rows, WithCandidatePolicy(tt.policy))
			if err != nil {
				t.Fatal(err)
			}
			if idx.Policy() != tt.policy {
				t.Errorf("Policy() = %s", idx.Policy())
			}
			got, err := idx.Candidates("a", 10)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Candidates(a, 10) = %v, want %v", got, tt.want)
			}
			top2, _ := idx.Candidates("a", 2)
			if !reflect.DeepEqual(top2, tt.want[:2]) {
				t.Errorf("Candidates(a, 2) = %v, want %v", top2, tt.want[:2])
			}
		})
	}
}

func TestFrequencyIndex_TokenMode(t *testing.T) {
	rows := []Row{
		{Link: "New York", Target: "new york, NEW YORK and Newark"},
		{Link: "york", Target: "Yorkshire pudding"},
		{Link: "ｃａｆé", Target: "the café"},
	}
	idx, err := NewFrequencyIndex(rows, WithCountMode(CountTokens))
	if err != nil {
		t.Fatal(err)
	}
	if idx.CountMode() != CountTokens {
		t.Errorf("CountMode() = %s", idx.CountMode())
	}

	tests := []struct {
		link string
		doc  int
		want int
	}{
		{"New York", 0, 2},
		{"york", 0, 2},
		{"york", 1, 0}, // whole words only
		{"ｃａｆé", 2, 1}, // NFKC folds full-width letters
	}
	for _, tt := range tests {
		entries, err := idx.Entries(tt.link)
		if err != nil {
			t.Fatal(err)
		}
		if got := countsByDoc(entries)[tt.doc]; got != tt.want {
			t.Errorf("count(%q in doc %d) = %d, want %d", tt.link, tt.doc, got, tt.want)
		}
	}
}

func TestFrequencyIndex_MissingLink(t *testing.T) {
	idx, err := NewFrequencyIndex(exampleRows())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Truth("cherry"); !errors.Is(err, ErrLinkNotIndexed) {
		t.Errorf("Truth(cherry) error = %v, want ErrLinkNotIndexed", err)
	}
	if _, err := idx.Candidates("cherry", 1); !errors.Is(err, ErrLinkNotIndexed) {
		t.Errorf("Candidates(cherry) error = %v, want ErrLinkNotIndexed", err)
	}
	if idx.Has("cherry") || !idx.Has("apple") {
		t.Error("Has() disagrees with the indexed links")
	}
}

func TestFrequencyIndex_Containing(t *testing.T) {
	idx, err := NewFrequencyIndex(exampleRows())
	if err != nil {
		t.Fatal(err)
	}
	bm, err := idx.Containing("apple")
	if err != nil {
		t.Fatal(err)
	}
	if got := bm.ToArray(); !reflect.DeepEqual(got, []uint32{0, 2}) {
		t.Errorf("Containing(apple) = %v, want [0 2]", got)
	}
	// The returned bitmap is a copy.
	bm.Add(1)
	again, _ := idx.Containing("apple")
	if again.Contains(1) {
		t.Error("mutating the returned bitmap changed the index")
	}

	s := idx.Stats()
	if s.Coverage != 1 {
		t.Errorf("Coverage = %v, want 1", s.Coverage)
	}
	// apple: {0,2}, banana: {1}, tart: {2}
	if want := 4.0 / 3.0; s.MeanContaining != want {
		t.Errorf("MeanContaining = %v, want %v", s.MeanContaining, want)
	}
}

func TestFrequencyIndex_CandidatesShorterThanT(t *testing.T) {
	idx, err := NewFrequencyIndex(exampleRows())
	if err != nil {
		t.Fatal(err)
	}
	got, err := idx.Candidates("banana", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("len(Candidates(banana, 100)) = %d, want 3", len(got))
	}
	if got[0] != 1 {
		t.Errorf("first candidate = %d, want 1", got[0])
	}
}

func TestFrequencyIndex_Errors(t *testing.T) {
	if _, err := NewFrequencyIndex(nil); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("NewFrequencyIndex(nil) error = %v, want ErrInvalidParameters", err)
	}
	if _, err := NewFrequencyIndex(exampleRows(), WithCandidatePolicy("random")); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("unknown policy error = %v, want ErrUnknownPolicy", err)
	}
	if _, err := NewFrequencyIndex(exampleRows(), WithCountMode("stems")); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("unknown count mode error = %v, want ErrUnknownPolicy", err)
	}
}

func TestFrequencyIndex_Deterministic(t *testing.T) {
	rows := []Row{
		{Link: "ab", Target: "ab ab b"},
		{Link: "b", Target: "b ab"},
		{Link: "abab", Target: "ababab"},
		{Link: "ba", Target: "ba"},
	}
	for _, policy := range []CandidatePolicy{DescendingCount, AscendingCount, InsertionOrder, HeapOrder} {
		first, err := NewFrequencyIndex(rows, WithCandidatePolicy(policy))
		if err != nil {
			t.Fatal(err)
		}
		for run := 0; run < 5; run++ {
			again, err := NewFrequencyIndex(rows, WithCandidatePolicy(policy))
			if err != nil {
				t.Fatal(err)
			}
			for _, link := range first.Links() {
				a, _ := first.Entries(link)
				b, _ := again.Entries(link)
				if !reflect.DeepEqual(a, b) {
					t.Fatalf("%s: entries for %q differ between builds", policy, link)
				}
			}
		}
	}
}

func TestFrequencyIndex_BuildProgress(t *testing.T) {
	var calls int
	var last [2]int
	_, err := NewFrequencyIndex(exampleRows(), WithBuildProgress(func(done, total int) {
		calls++
		last = [2]int{done, total}
	}))
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 || last != [2]int{3, 3} {
		t.Errorf("progress calls = %d, last = %v", calls, last)
	}
}

func TestParseCandidatePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    CandidatePolicy
		wantErr bool
	}{
		{"", DescendingCount, false},
		{"Descending", DescendingCount, false},
		{" heap ", HeapOrder, false},
		{"insertion", InsertionOrder, false},
		{"ascending", AscendingCount, false},
		{"random", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCandidatePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseCandidatePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}
