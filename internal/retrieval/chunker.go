package retrieval

// Chunk splits statements into ordered batches bounded by maxCount items and
// maxBytes bytes. A batch's size is the length of its statements joined with
// a one-byte separator. A statement longer than maxBytes is sent alone.
// Non-positive limits fall back to the defaults.
func Chunk(statements []string, maxCount, maxBytes int) [][]string {
	if len(statements) == 0 {
		return nil
	}
	if maxCount <= 0 {
		maxCount = DefaultMaxBatchCount
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBatchBytes
	}

	total := len(statements) - 1
	for _, s := range statements {
		total += len(s)
	}
	if len(statements) <= maxCount && total <= maxBytes {
		return [][]string{statements}
	}

	var (
		chunks  [][]string
		current []string
		size    int
	)
	for _, s := range statements {
		added := len(s)
		if len(current) > 0 {
			added++ // separator
		}
		if len(current) > 0 && (len(current) >= maxCount || size+added > maxBytes) {
			chunks = append(chunks, current)
			current, size, added = nil, 0, len(s)
		}
		current = append(current, s)
		size += added
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
