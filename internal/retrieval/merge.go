package retrieval

// MergeResults interleaves tagged results under independent per-channel
// quotas. Results are taken in input order; an id already accepted is
// skipped, so the first occurrence wins. Untagged or error results are
// never accepted. Merging stops once both quotas are filled.
func MergeResults(combined []SearchResult, kfts, kvector int) []SearchResult {
	if kfts < 0 {
		kfts = 0
	}
	if kvector < 0 {
		kvector = 0
	}
	limit := kfts + kvector

	merged := make([]SearchResult, 0, min(limit, len(combined)))
	seen := make(map[string]bool, len(combined))
	var simCount, ftsCount int

	for _, r := range combined {
		if simCount+ftsCount == limit {
			break
		}
		if seen[r.ID] {
			continue
		}
		switch r.SearchType() {
		case SearchTypeSimilarity:
			if simCount >= kvector {
				continue
			}
			simCount++
		case SearchTypeFullText:
			if ftsCount >= kfts {
				continue
			}
			ftsCount++
		default:
			continue
		}
		seen[r.ID] = true
		merged = append(merged, r)
	}
	return merged
}
