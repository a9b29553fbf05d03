package word2vec

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/winstonquock/deeplearning4j/embedding"
	"github.com/winstonquock/deeplearning4j/logging"
	"github.com/winstonquock/deeplearning4j/metrics"
	"github.com/winstonquock/deeplearning4j/vocab"
)

// ProgressInterval is the number of words between
// progress log messages.
const ProgressInterval = 10000

// A Performer trains sentences with a decaying learning
// rate shared across workers through a WordCounter.
type Performer[T embedding.Float] struct {
	SkipGram *SkipGram[T]

	Alpha    float64
	MinAlpha float64

	// Iterations is the number of passes over each
	// sentence.
	Iterations int

	// TotalWords is the estimated number of words that
	// will be trained over the whole run.
	TotalWords int64

	Counter *WordCounter

	Log     logrus.FieldLogger
	Metrics *metrics.Metrics

	lastLogged atomic.Int64
}

// Train trains one sentence Iterations times at the
// current learning rate, then counts its words.
func (p *Performer[T]) Train(sentence []*vocab.VocabWord) {
	if len(sentence) == 0 {
		return
	}
	alpha := LearningRate(p.Alpha, p.MinAlpha, p.Counter.Load(), p.TotalWords)
	for i := 0; i < p.Iterations; i++ {
		p.SkipGram.TrainSentence(sentence, alpha)
	}

	total := p.Counter.Add(int64(len(sentence)))
	p.Metrics.AddWords(len(sentence))

	last := p.lastLogged.Load()
	if total-last >= ProgressInterval && p.lastLogged.CompareAndSwap(last, total) {
		logging.OrDiscard(p.Log).WithFields(logrus.Fields{
			"words": total,
			"total": p.TotalWords,
			"alpha": alpha,
		}).Info("training progress")
	}
}
