package vocab

// sentinelCount is larger than any real frequency and
// stands in for internal nodes that do not exist yet.
const sentinelCount = int64(1e15)

// buildHuffman assigns Codes and Points to words, which
// must be sorted by descending frequency.
//
// Internal nodes are numbered 0 through len(words)-2, with
// the root at len(words)-2, so Points can index a matrix
// with one row per word.
func buildHuffman(words []*VocabWord) {
	n := len(words)
	if n < 2 {
		for _, w := range words {
			w.Codes, w.Points = nil, nil
		}
		return
	}

	count := make([]int64, 2*n)
	binary := make([]int8, 2*n)
	parent := make([]int, 2*n)
	for i, w := range words {
		count[i] = w.Frequency
	}
	for i := n; i < 2*n; i++ {
		count[i] = sentinelCount
	}

	// Leaves are consumed from pos1 downwards (ascending
	// frequency), internal nodes from pos2 upwards.
	pos1, pos2 := n-1, n
	nextMin := func() int {
		if pos1 >= 0 && count[pos1] < count[pos2] {
			pos1--
			return pos1 + 1
		}
		pos2++
		return pos2 - 1
	}
	for a := 0; a < n-1; a++ {
		min1 := nextMin()
		min2 := nextMin()
		count[n+a] = count[min1] + count[min2]
		parent[min1] = n + a
		parent[min2] = n + a
		binary[min2] = 1
	}

	root := 2*n - 2
	for a, w := range words {
		var code []int8
		var point []int
		for b := a; b != root; b = parent[b] {
			code = append(code, binary[b])
			point = append(point, b)
		}
		depth := len(code)
		w.Codes = make([]int8, depth)
		w.Points = make([]int, depth)
		w.Points[0] = n - 2
		for b := 0; b < depth; b++ {
			w.Codes[depth-b-1] = code[b]
			if b > 0 {
				w.Points[depth-b] = point[b] - n
			}
		}
	}
}
