package chunk

import "strings"

// Quality scores a chunking result in [0,1]. It combines how close chunk
// sizes land to the target, whether chunks end on sentence boundaries (when
// PreserveSentences is set), and whether adjacent chunks actually share
// tokens when overlap is configured.
func Quality(chunks []string, cfg Config) float64 {
	if len(chunks) == 0 {
		return 0
	}

	score := sizeCloseness(chunks, cfg.ChunkSize)
	weight := 1.0

	if cfg.PreserveSentences {
		score += sentenceBoundaryRatio(chunks)
		weight++
	}
	if cfg.Overlap > 0 && len(chunks) > 1 {
		score += adjacentOverlapRatio(chunks)
		weight++
	}

	return score / weight
}

// sizeCloseness averages min(size,target)/max(size,target) across chunks.
func sizeCloseness(chunks []string, target int) float64 {
	if target <= 0 {
		return 0
	}

	var total float64
	for _, ch := range chunks {
		n := countTokens(ch)
		if n == 0 {
			continue
		}
		if n < target {
			total += float64(n) / float64(target)
		} else {
			total += float64(target) / float64(n)
		}
	}
	return total / float64(len(chunks))
}

// sentenceBoundaryRatio is the fraction of chunks ending in ., !, or ?.
func sentenceBoundaryRatio(chunks []string) float64 {
	ends := 0
	for _, ch := range chunks {
		t := strings.TrimSpace(ch)
		if t == "" {
			continue
		}
		switch t[len(t)-1] {
		case '.', '!', '?':
			ends++
		}
	}
	return float64(ends) / float64(len(chunks))
}

// adjacentOverlapRatio is the fraction of adjacent chunk pairs sharing at
// least one token.
func adjacentOverlapRatio(chunks []string) float64 {
	pairs := len(chunks) - 1
	sharing := 0

	for i := 0; i < pairs; i++ {
		left := make(map[string]struct{})
		for _, tok := range strings.Fields(strings.ToLower(chunks[i])) {
			left[tok] = struct{}{}
		}
		for _, tok := range strings.Fields(strings.ToLower(chunks[i+1])) {
			if _, ok := left[tok]; ok {
				sharing++
				break
			}
		}
	}
	return float64(sharing) / float64(pairs)
}
