package word2vec

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/winstonquock/deeplearning4j/embedding"
	"github.com/winstonquock/deeplearning4j/iterreduce"
	"github.com/winstonquock/deeplearning4j/metrics"
	"github.com/winstonquock/deeplearning4j/vocab"
	"golang.org/x/sync/errgroup"
)

// A Worker trains a private embedding table on a fixed
// partition of sentences.
//
// With Threads > 1, the sentences of a round are spread
// across Goroutines which all update the same table
// without locking.
type Worker[T embedding.Float] struct {
	Performer *Performer[T]
	Sentences [][]*vocab.VocabWord
	Threads   int

	lock   sync.Mutex
	weight float64
}

// ComputeLocalUpdate trains every sentence once and
// returns the flattened table.
//
// The Update's Weight is the number of words trained.
func (w *Worker[T]) ComputeLocalUpdate(ctx context.Context) (*iterreduce.Update, error) {
	var next atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < max(1, w.Threads); i++ {
		g.Go(func() error {
			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				idx := int(next.Add(1) - 1)
				if idx >= len(w.Sentences) {
					return nil
				}
				w.Performer.Train(w.Sentences[idx])
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var words int
	for _, s := range w.Sentences {
		words += len(s)
	}
	w.lock.Lock()
	w.weight = float64(words)
	w.lock.Unlock()
	return w.Result(), nil
}

// ApplyBroadcast overwrites the table.
func (w *Worker[T]) ApplyBroadcast(u *iterreduce.Update) error {
	table := w.Performer.SkipGram.Table
	if err := table.SetParams(u.Params); err != nil {
		if errors.Is(err, embedding.ErrParamLength) {
			return &iterreduce.ConfigurationError{Want: table.NumParams(), Got: len(u.Params)}
		}
		return err
	}
	return nil
}

// Result returns a copy of the table's parameters.
func (w *Worker[T]) Result() *iterreduce.Update {
	w.lock.Lock()
	defer w.lock.Unlock()
	return &iterreduce.Update{
		Params: w.Performer.SkipGram.Table.Params(),
		Weight: w.weight,
	}
}

// Config describes a group of Workers.
type Config struct {
	VectorLength int
	Window       int
	Negative     int
	NumWords     int
	AdaGrad      bool

	Alpha      float64
	MinAlpha   float64
	Iterations int
	Threads    int

	// TotalWords is the estimated number of words for the
	// whole run. Zero means one pass over every partition.
	TotalWords int64

	// Seed initializes every table identically. Each
	// worker's random source is derived from it.
	Seed int64
}

// NewWorkers creates one Worker per partition.
//
// Every worker gets its own table, initialized from the
// same seed, and all of them share one WordCounter.
func NewWorkers[T embedding.Float](c Config, v *vocab.Vocab, unigram vocab.UnigramTable,
	partitions [][][]*vocab.VocabWord, log logrus.FieldLogger, m *metrics.Metrics) ([]*Worker[T], error) {
	if v.Len() == 0 {
		return nil, errors.New("new workers: empty vocabulary")
	}
	if c.VectorLength <= 0 {
		return nil, errors.Errorf("new workers: invalid vector length %d", c.VectorLength)
	}
	totalWords := c.TotalWords
	if totalWords == 0 {
		for _, p := range partitions {
			for _, s := range p {
				totalWords += int64(len(s))
			}
		}
	}

	counter := &WordCounter{}
	var workers []*Worker[T]
	for i, p := range partitions {
		table := embedding.NewTable[T](v.Len(), c.VectorLength)
		table.Reset(rand.New(rand.NewSource(c.Seed)))
		sg := &SkipGram[T]{
			Table:        table,
			UnigramTable: unigram,
			Random:       NewRandom(uint64(c.Seed) + uint64(i)),
			Window:       c.Window,
			Negative:     c.Negative,
			NumWords:     c.NumWords,
			AdaGrad:      c.AdaGrad,
		}
		if err := sg.Validate(); err != nil {
			return nil, errors.Wrapf(err, "new workers: worker %d", i)
		}
		var workerLog logrus.FieldLogger
		if log != nil {
			workerLog = log.WithField("worker", i)
		}
		workers = append(workers, &Worker[T]{
			Performer: &Performer[T]{
				SkipGram:   sg,
				Alpha:      c.Alpha,
				MinAlpha:   c.MinAlpha,
				Iterations: c.Iterations,
				TotalWords: totalWords,
				Counter:    counter,
				Log:        workerLog,
				Metrics:    m,
			},
			Sentences: p,
			Threads:   c.Threads,
		})
	}
	return workers, nil
}

// Partition splits sentences round-robin into n parts.
func Partition(sentences [][]*vocab.VocabWord, n int) [][][]*vocab.VocabWord {
	parts := make([][][]*vocab.VocabWord, n)
	for i, s := range sentences {
		parts[i%n] = append(parts[i%n], s)
	}
	return parts
}
