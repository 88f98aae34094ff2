/*
Package linkknn measures how well a text embedding resolves links to the
documents they point at.

A link dataset is a table of rows (link, context, target document). Row i's
target is document i, and a link resolves to the document of the last row it
appears on. Given embeddings of the queries (EQ) and of the documents (ED),
the filtered KNN metric asks, for every query:

 1. Frequency filter: which T documents mention the link most often?
 2. Distance re-rank: which of those T are closest to the query embedding?
 3. Is the true document among the first k?

The score is the fraction of queries answered correctly.

# Quick Start

	rows := []linkknn.Row{
	    {Link: "apple", Context: "bake an apple", Target: "apple pie"},
	    {Link: "banana", Context: "split it", Target: "banana split"},
	    {Link: "tart", Context: "a small tart", Target: "apple tart"},
	}

	index, err := linkknn.NewFrequencyIndex(rows)
	if err != nil {
	    log.Fatal(err)
	}

	eval, err := linkknn.NewEvaluator(index)
	if err != nil {
	    log.Fatal(err)
	}

	// EQ and ED come from any embedding model, one row per query/document.
	acc, err := eval.MeasureKNNAccuracy(3, 1, linkknn.Links(rows), EQ, ED)

# Candidate Policies

The order in which a link's frequency list is consumed is explicit:

	linkknn.NewFrequencyIndex(rows, linkknn.WithCandidatePolicy(linkknn.DescendingCount)) // top-T most frequent (default)
	linkknn.NewFrequencyIndex(rows, linkknn.WithCandidatePolicy(linkknn.HeapOrder))       // historic raw-heap slicing

# Baselines

RawTFAccuracy scores the frequency filter alone, without embeddings.
FullSpaceAccuracy scores plain KNN over every document, without the filter.
MeasureFusedAccuracy fuses frequency and distance rankings.

# Fitters

A Fitter maps raw query and document embeddings into a shared space before
evaluation:

	pca := linkknn.NewPCAFitter(2)
	eq, ed, err := pca.Fit(EQ, ED)

Available fitters: identity, L2 normalization, PCA, CCA, ridge regression,
float16/int8 quantization, and chains of these. RunGrid evaluates a list of
fitters over a (k, T) grid.
*/
package linkknn
