package vocab

import (
	"io"
	"math"

	"github.com/unixpickle/essentials"
	"github.com/winstonquock/deeplearning4j/vecio"
)

const (
	// DefaultTableSize is the default number of slots in a
	// UnigramTable.
	DefaultTableSize = 1e6

	// DefaultPower is the exponent applied to frequencies
	// when building a UnigramTable.
	DefaultPower = 0.75
)

// A UnigramTable is a precomputed sampling table for
// negative sampling.
//
// Each word index fills a share of the slots proportional
// to its frequency raised to some power, so drawing a
// uniformly random slot draws from the smoothed unigram
// distribution.
type UnigramTable []int

// NewUnigramTable builds a table with size slots.
func NewUnigramTable(v *Vocab, size int, power float64) UnigramTable {
	if v.Len() == 0 || size <= 0 {
		return nil
	}
	var totalPow float64
	for _, w := range v.words {
		totalPow += math.Pow(float64(w.Frequency), power)
	}

	table := make(UnigramTable, size)
	i := 0
	cumulative := math.Pow(float64(v.words[i].Frequency), power) / totalPow
	for a := range table {
		table[a] = i
		if float64(a)/float64(size) > cumulative && i+1 < v.Len() {
			i++
			cumulative += math.Pow(float64(v.words[i].Frequency), power) / totalPow
		}
	}
	return table
}

// Sample maps a random number to a word index.
func (u UnigramTable) Sample(random uint64) int {
	return u[random%uint64(len(u))]
}

// Write writes the table as a vector blob.
func (u UnigramTable) Write(w io.Writer) error {
	return essentials.AddCtx("write unigram table", vecio.WriteInts(w, u))
}

// ReadUnigramTable reads a table written by Write.
func ReadUnigramTable(r io.Reader) (UnigramTable, error) {
	data, err := vecio.ReadInts(r)
	if err != nil {
		return nil, essentials.AddCtx("read unigram table", err)
	}
	return UnigramTable(data), nil
}
