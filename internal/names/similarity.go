package names

// Similarity scores two raw names in [0,1] using normalized token multisets.
// Overlapping tokens count fully; leftover tokens are paired greedily by
// Levenshtein ratio so close spelling variants ("Gundogan"/"Guendogan")
// still contribute. Order-independent: "Sergio Ramos" == "Ramos Sergio".
func Similarity(a, b string) float64 {
	ta := Normalize(a)
	tb := Normalize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	// Exact token overlap as a multiset.
	counts := make(map[string]int, len(ta))
	for _, t := range ta {
		counts[t]++
	}
	overlap := 0
	restB := tb[:0:0]
	for _, t := range tb {
		if counts[t] > 0 {
			counts[t]--
			overlap++
			continue
		}
		restB = append(restB, t)
	}
	restA := make([]string, 0, len(ta)-overlap)
	for t, n := range counts {
		for range n {
			restA = append(restA, t)
		}
	}

	// Pair leftover tokens greedily by best edit-distance ratio.
	score := float64(overlap)
	used := make([]bool, len(restB))
	for _, t := range restA {
		best, bestIdx := 0.0, -1
		for j, u := range restB {
			if used[j] {
				continue
			}
			if r := levenshteinRatio(t, u); r > best {
				best, bestIdx = r, j
			}
		}
		if bestIdx >= 0 && best >= 0.5 {
			used[bestIdx] = true
			score += best
		}
	}

	total := float64(len(ta)+len(tb)) / 2
	s := score / total
	if s > 1 {
		s = 1
	}
	return s
}

// levenshteinRatio returns 1 - distance/maxLen in [0,1].
func levenshteinRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	d := levenshtein(a, b)
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1 - float64(d)/float64(maxLen)
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}
