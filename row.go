package linkknn

// Row is one line of a link dataset: the link text, the context it was found
// in, and the text of the document it resolves to. Row i's Target is
// document i.
type Row struct {
	Link    string
	Context string
	Target  string
}

// Links returns the link column of rows, in row order. It is the query list L
// for embeddings whose row i was computed from rows[i].
func Links(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Link
	}
	return out
}

// Contexts returns the context column of rows, in row order.
func Contexts(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Context
	}
	return out
}

// Targets returns the target document column of rows, in row order.
func Targets(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Target
	}
	return out
}

// ProgressFunc is called after each unit of work with the number of units
// done so far and the total. It never influences results.
type ProgressFunc func(done, total int)
