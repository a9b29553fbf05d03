package word2vec

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/winstonquock/deeplearning4j/embedding"
	"github.com/winstonquock/deeplearning4j/vocab"
)

func TestSigmoid(t *testing.T) {
	s := NewSigmoid()

	f, ok := s.Lookup(0)
	require.True(t, ok)
	assert.InDelta(t, 0.5, f, 0.01)

	f, ok = s.Lookup(-MaxExp)
	require.True(t, ok)
	assert.InDelta(t, 1/(1+math.Exp(MaxExp)), f, 1e-6)

	for _, x := range []float64{MaxExp, 7, -6.01, math.Inf(1)} {
		_, ok := s.Lookup(x)
		assert.False(t, ok, "x=%f", x)
	}

	last := -1.0
	for x := -5.99; x < 5.99; x += 0.05 {
		f, ok := s.Lookup(x)
		require.True(t, ok)
		assert.InDelta(t, 1/(1+math.Exp(-x)), f, 0.01)
		assert.GreaterOrEqual(t, f, last)
		last = f
	}
}

func TestLearningRate(t *testing.T) {
	assert.InDelta(t, 0.0125, LearningRate(0.025, 0.0001, 500, 1000), 1e-15)
	assert.Equal(t, 0.0001, LearningRate(0.025, 0.0001, 1000, 1000))
	assert.Equal(t, 0.0001, LearningRate(0.025, 0.0001, 5000, 1000))
	assert.Equal(t, 0.025, LearningRate(0.025, 0.0001, 0, 1000))
	assert.Equal(t, 0.025, LearningRate(0.025, 0.0001, 10, 0))
}

func TestRandom(t *testing.T) {
	r := NewRandom(1)
	first := r.Next()
	assert.Equal(t, uint64(25214903928), first)
	assert.Equal(t, first*25214903917+11, r.Next())

	var wg sync.WaitGroup
	results := make([][]uint64, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				results[i] = append(results[i], r.Next())
			}
		}(i)
	}
	wg.Wait()

	seen := map[uint64]bool{}
	for _, rs := range results {
		for _, x := range rs {
			assert.False(t, seen[x], "state %d observed twice", x)
			seen[x] = true
		}
	}
	assert.Len(t, seen, 8000)
}

func twoWordSkipGram() (*SkipGram[float64], *vocab.Vocab) {
	v := vocab.Build(map[string]int64{"a": 3, "b": 1}, 0)
	table := embedding.NewTable[float64](2, 3)
	copy(table.Syn0Row(0), []float64{-0.1, 0.05, 0.2})
	copy(table.Syn0Row(1), []float64{0.1, 0.2, 0.3})
	copy(table.Syn1Row(0), []float64{0.5, -0.25, 0.1})
	return &SkipGram[float64]{
		Table:  table,
		Random: NewRandom(1),
		Window: 2,
	}, v
}

func TestUpdatePairHierarchical(t *testing.T) {
	sg, v := twoWordSkipGram()
	a, b := v.Lookup("a"), v.Lookup("b")
	const alpha = 0.025

	l1 := append([]float64{}, sg.Table.Syn0Row(1)...)
	syn1 := append([]float64{}, sg.Table.Syn1Row(0)...)
	syn0a := append([]float64{}, sg.Table.Syn0Row(0)...)

	dot := l1[0]*syn1[0] + l1[1]*syn1[1] + l1[2]*syn1[2]
	f, ok := NewSigmoid().Lookup(dot)
	require.True(t, ok)
	g := (1 - float64(a.Codes[0]) - f) * alpha

	sg.UpdatePair(a, b, alpha)

	for i := range l1 {
		assert.InDelta(t, l1[i]+g*syn1[i], sg.Table.Syn0Row(1)[i], 1e-12)
		assert.InDelta(t, syn1[i]+g*l1[i], sg.Table.Syn1Row(0)[i], 1e-12)
	}
	assert.Equal(t, syn0a, sg.Table.Syn0Row(0))
	for _, x := range sg.Table.Syn1Neg {
		assert.Zero(t, x)
	}
}

func TestUpdatePairAdaGrad(t *testing.T) {
	sg, v := twoWordSkipGram()
	sg.AdaGrad = true
	a, b := v.Lookup("a"), v.Lookup("b")

	l1 := append([]float64{}, sg.Table.Syn0Row(1)...)
	syn1 := append([]float64{}, sg.Table.Syn1Row(0)...)
	dot := l1[0]*syn1[0] + l1[1]*syn1[1] + l1[2]*syn1[2]
	f, _ := NewSigmoid().Lookup(dot)
	signal := 1 - float64(a.Codes[0]) - f

	sg.UpdatePair(a, b, 0.1)
	assert.InDelta(t, signal*signal, sg.Table.Syn1Hist[0], 1e-12)

	g := signal * 0.1 / (math.Abs(signal) + 1e-6)
	assert.InDelta(t, syn1[0]+g*l1[0], sg.Table.Syn1Row(0)[0], 1e-9)
}

func TestUpdatePairSaturated(t *testing.T) {
	sg, v := twoWordSkipGram()
	copy(sg.Table.Syn1Row(0), []float64{100, 100, 100})
	before := append([]float64{}, sg.Table.Syn0...)

	sg.UpdatePair(v.Lookup("a"), v.Lookup("b"), 0.025)
	assert.Equal(t, before, sg.Table.Syn0, "saturated bits contribute nothing")
	assert.Equal(t, []float64{100, 100, 100}, sg.Table.Syn1Row(0))
}

func TestUpdatePairNegative(t *testing.T) {
	v := vocab.Build(map[string]int64{"a": 10, "b": 5, "c": 2, "d": 1}, 0)
	table := embedding.NewTable[float32](v.Len(), 4)
	sg := &SkipGram[float32]{
		Table:        table,
		UnigramTable: vocab.NewUnigramTable(v, 1000, vocab.DefaultPower),
		Random:       NewRandom(7),
		Window:       2,
		Negative:     3,
	}
	require.NoError(t, sg.Validate())
	copy(table.Syn0Row(2), []float32{0.1, -0.1, 0.2, 0.3})

	target := v.Lookup("b")
	sg.UpdatePair(target, v.Lookup("c"), 0.025)

	// With zero output vectors, the positive target sees
	// f = 0.5 and moves toward the context vector.
	row := table.Syn1NegRow(target.Index)
	assert.InDelta(t, 0.5*0.025*0.1, row[0], 1e-6)
	assert.InDelta(t, 0.5*0.025*0.3, row[3], 1e-6)
}

func TestNegativeNeverTrueTarget(t *testing.T) {
	v := vocab.Build(map[string]int64{"a": 50, "b": 20, "c": 10, "d": 5, "e": 1}, 0)
	unigram := vocab.NewUnigramTable(v, 10000, vocab.DefaultPower)
	for seed := uint64(0); seed < 50; seed++ {
		sg := &SkipGram[float64]{
			Table:        embedding.NewTable[float64](v.Len(), 2),
			UnigramTable: unigram,
			Random:       NewRandom(seed),
			Window:       1,
			Negative:     5,
		}
		for positive := 0; positive < v.Len(); positive++ {
			var collisions int
			for i := 0; i < 200; i++ {
				target, ok := sg.drawNegative(positive)
				if !ok {
					collisions++
					continue
				}
				assert.NotEqual(t, positive, target)
				assert.True(t, target >= 0 && target < v.Len())
			}
			assert.Less(t, collisions, 200)
		}
	}
}

func TestForEachContext(t *testing.T) {
	sg := &SkipGram[float64]{Window: 3}
	visit := func(i, length, offset int) []int {
		var res []int
		sg.forEachContext(i, length, offset, func(c int) {
			res = append(res, c)
		})
		return res
	}
	assert.Equal(t, []int{0, 2, 3}, visit(1, 10, 1))
	assert.Equal(t, []int{2, 3, 4, 6, 7, 8}, visit(5, 10, 0))
	assert.Equal(t, []int{4, 6}, visit(5, 10, 2))
	assert.Equal(t, []int{8}, visit(9, 10, 2))
	assert.Empty(t, visit(0, 1, 0))
}

func TestTrainSentenceSkipsStop(t *testing.T) {
	v := vocab.Build(map[string]int64{"a": 3, "bSTOP": 1}, 0)
	table := embedding.NewTable[float64](2, 3)
	copy(table.Syn0Row(0), []float64{0.1, 0.2, 0.3})
	copy(table.Syn0Row(1), []float64{0.3, 0.2, 0.1})
	copy(table.Syn1Row(0), []float64{0.5, -0.25, 0.1})
	sg := &SkipGram[float64]{Table: table, Random: NewRandom(3), Window: 1}
	require.NoError(t, sg.Validate())

	a, stop := v.Lookup("a"), v.Lookup("bSTOP")
	before := append([]float64{}, table.Syn0Row(a.Index)...)
	sg.TrainSentence([]*vocab.VocabWord{a, stop}, 0.025)

	assert.Equal(t, before, table.Syn0Row(a.Index), "STOP tokens are never targets")
	assert.NotEqual(t, []float64{0.3, 0.2, 0.1}, table.Syn0Row(stop.Index))
}

func TestValidate(t *testing.T) {
	sg := &SkipGram[float64]{Table: embedding.NewTable[float64](2, 2), Random: NewRandom(0)}
	assert.Error(t, sg.Validate())
	sg.Window = 2
	assert.NoError(t, sg.Validate())
	sg.Negative = 1
	assert.Error(t, sg.Validate())
}
