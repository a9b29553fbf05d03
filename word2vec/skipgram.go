// Package word2vec implements skip-gram training with
// hierarchical softmax and negative sampling.
package word2vec

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/winstonquock/deeplearning4j/embedding"
	"github.com/winstonquock/deeplearning4j/vocab"
)

// StopSuffix marks tokens that are never used as training
// targets.
const StopSuffix = "STOP"

var defaultSigmoid = NewSigmoid()

// SkipGram updates an embedding table from (target,
// context) word pairs.
//
// Methods may be called from many Goroutines at once.
// Rows of the table are updated without locks.
type SkipGram[T embedding.Float] struct {
	Table *embedding.Table[T]

	// UnigramTable is used to draw negative samples.
	// It is required if Negative > 0.
	UnigramTable vocab.UnigramTable

	// Random drives window shrinking and negative
	// sampling.
	Random *Random

	// Sigmoid is the logistic approximation.
	// If nil, a shared default table is used.
	Sigmoid *Sigmoid

	// Window is the maximum context radius.
	Window int

	// Negative is the number of negative samples drawn per
	// pair. Zero disables negative sampling.
	Negative int

	// NumWords bounds the indices that a remapped negative
	// sample may take. Zero means the table size.
	NumWords int

	// AdaGrad scales each output row's learning rate by
	// its accumulated squared gradient.
	AdaGrad bool
}

// Validate checks that the trainer is usable.
func (s *SkipGram[T]) Validate() error {
	if s.Table == nil {
		return errors.New("skip-gram: missing table")
	}
	if s.Random == nil {
		return errors.New("skip-gram: missing random source")
	}
	if s.Window <= 0 {
		return errors.Errorf("skip-gram: invalid window %d", s.Window)
	}
	if s.Negative < 0 {
		return errors.Errorf("skip-gram: invalid negative count %d", s.Negative)
	}
	if s.Negative > 0 && len(s.UnigramTable) == 0 {
		return errors.New("skip-gram: negative sampling requires a unigram table")
	}
	return nil
}

// TrainSentence trains every position of a sentence with
// a randomly shrunk window.
func (s *SkipGram[T]) TrainSentence(sentence []*vocab.VocabWord, alpha float64) {
	for i, word := range sentence {
		if word == nil || strings.HasSuffix(word.Word, StopSuffix) {
			continue
		}
		offset := int(s.Random.Next() % uint64(s.Window))
		s.TrainWindow(i, sentence, offset, alpha)
	}
}

// TrainWindow pairs the word at index i with every context
// word within Window-offset positions of it.
func (s *SkipGram[T]) TrainWindow(i int, sentence []*vocab.VocabWord, offset int, alpha float64) {
	word := sentence[i]
	if word == nil {
		return
	}
	s.forEachContext(i, len(sentence), offset, func(c int) {
		s.UpdatePair(word, sentence[c], alpha)
	})
}

func (s *SkipGram[T]) forEachContext(i, length, offset int, f func(c int)) {
	end := s.Window*2 + 1 - offset
	for a := offset; a < end; a++ {
		if a == s.Window {
			continue
		}
		c := i - s.Window + a
		if c >= 0 && c < length {
			f(c)
		}
	}
}

// UpdatePair runs one gradient step that teaches the
// input vector of w2 to predict w1.
//
// Output rows are updated as soon as their gradient is
// known, while the input row of w2 is updated once at the
// end.
func (s *SkipGram[T]) UpdatePair(w1, w2 *vocab.VocabWord, alpha float64) {
	if w1 == nil || w2 == nil || w1.Index < 0 || w2.Index < 0 {
		return
	}
	sigmoid := s.sigmoid()
	rate := T(alpha)

	l1 := s.Table.Syn0Row(w2.Index)
	neu1e := make([]T, len(l1))

	for k, code := range w1.Codes {
		point := w1.Points[k]
		syn1 := s.Table.Syn1Row(point)
		f, ok := sigmoid.Lookup(float64(embedding.Dot(l1, syn1)))
		if !ok {
			continue
		}
		g := s.gradient(1-T(code)-T(f), rate, s.Table.Syn1Hist, point)
		embedding.Axpy(g, syn1, neu1e)
		embedding.Axpy(g, l1, syn1)
	}

	for d := 0; d <= s.Negative && s.Negative > 0; d++ {
		target, label := w1.Index, T(1)
		if d > 0 {
			var ok bool
			target, ok = s.drawNegative(w1.Index)
			if !ok {
				continue
			}
			label = 0
		}
		syn1Neg := s.Table.Syn1NegRow(target)
		dot := float64(embedding.Dot(l1, syn1Neg))
		f, ok := sigmoid.Lookup(dot)
		if !ok {
			if dot > 0 {
				f = 1
			} else {
				f = 0
			}
		}
		g := s.gradient(label-T(f), rate, s.Table.Syn1NegHist, target)
		embedding.Axpy(g, syn1Neg, neu1e)
		embedding.Axpy(g, l1, syn1Neg)
	}

	embedding.Axpy(1, neu1e, l1)
}

// drawNegative draws a negative sample for the positive
// target index.
//
// It reports false if the draw collided with the positive
// target, in which case the draw is skipped rather than
// repeated.
func (s *SkipGram[T]) drawNegative(positive int) (int, bool) {
	next := s.Random.Next()
	target := s.UnigramTable.Sample(next >> 16)
	if target == 0 {
		numWords := s.numWords()
		if numWords < 2 {
			return 0, false
		}
		target = int(next%uint64(numWords-1)) + 1
	}
	if target == positive || target >= s.Table.NumWords {
		return 0, false
	}
	return target, true
}

func (s *SkipGram[T]) gradient(signal, rate T, hist []T, row int) T {
	if !s.AdaGrad {
		return signal * rate
	}
	hist[row] += signal * signal
	return signal * rate / (T(math.Sqrt(float64(hist[row]))) + 1e-6)
}

func (s *SkipGram[T]) numWords() int {
	if s.NumWords <= 0 || s.NumWords > s.Table.NumWords {
		return s.Table.NumWords
	}
	return s.NumWords
}

func (s *SkipGram[T]) sigmoid() *Sigmoid {
	if s.Sigmoid == nil {
		return defaultSigmoid
	}
	return s.Sigmoid
}
