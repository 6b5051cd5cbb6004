package radixsort

const (
	radixSize   = 8
	radixDigits = 1 << radixSize

	histogramGroupSize  = 256
	histogramIterations = 4
	histogramSegment    = histogramGroupSize * histogramIterations

	scatterGroupSize     = 256
	scatterValuesPerThd  = 4
	scatterSegment       = scatterGroupSize * scatterValuesPerThd

	// radixGroupsFull sorts a full 32-bit key in 4 passes of 8 bits each.
	radixGroupsFull = 4
	// radixGroupsHalf sorts only the low 16 bits, for callers who know
	// their keys fit (e.g. already-bucketed counts).
	radixGroupsHalf = 2
)
