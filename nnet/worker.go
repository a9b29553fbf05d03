package nnet

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/winstonquock/deeplearning4j/iterreduce"
	"github.com/winstonquock/deeplearning4j/logging"
	"github.com/winstonquock/deeplearning4j/metrics"
)

// DefaultMaxConsecutiveErrors is used when a Worker's
// MaxConsecutiveErrors is zero.
const DefaultMaxConsecutiveErrors = 100

// A Worker fits a local Network to every record of its
// partition once per round.
type Worker struct {
	Network *Network
	Source  RecordSource

	// MaxConsecutiveErrors is the number of bad records in
	// a row after which the stream is treated as finished.
	MaxConsecutiveErrors int

	Log     logrus.FieldLogger
	Metrics *metrics.Metrics

	lock   sync.Mutex
	weight float64
	loss   float64
}

// ComputeLocalUpdate streams the partition and fits each
// record, returning the updated parameters.
//
// Bad records are logged and skipped.
func (w *Worker) ComputeLocalUpdate(ctx context.Context) (*iterreduce.Update, error) {
	log := logging.OrDiscard(w.Log)
	reader, err := w.Source.Open()
	if err != nil {
		return nil, errors.Wrap(err, "compute local update")
	}
	if c, ok := reader.(io.Closer); ok {
		defer c.Close()
	}

	maxErrors := w.MaxConsecutiveErrors
	if maxErrors <= 0 {
		maxErrors = DefaultMaxConsecutiveErrors
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	var fitted, consecutive int
	var totalLoss float64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err == nil {
			var loss float64
			loss, err = w.Network.Fit(record)
			totalLoss += loss
		}
		if err != nil {
			consecutive++
			w.Metrics.RecordSkipped()
			log.WithError(err).WithField("consecutive", consecutive).Warn("skipping record")
			if consecutive >= maxErrors {
				log.WithField("errors", consecutive).Error("too many bad records, ending stream")
				break
			}
			continue
		}
		consecutive = 0
		fitted++
		w.Metrics.RecordFitted()
	}

	w.weight = float64(fitted)
	w.loss = 0
	if fitted > 0 {
		w.loss = totalLoss / float64(fitted)
	}
	log.WithFields(logrus.Fields{"records": fitted, "loss": w.loss}).Debug("local pass done")
	return &iterreduce.Update{Params: w.Network.Params(), Weight: w.weight}, nil
}

// ApplyBroadcast replaces the network's parameters.
func (w *Worker) ApplyBroadcast(u *iterreduce.Update) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if len(u.Params) != w.Network.NumParams() {
		return &iterreduce.ConfigurationError{Want: w.Network.NumParams(), Got: len(u.Params)}
	}
	return w.Network.SetParams(u.Params)
}

// Result returns a copy of the network's parameters.
func (w *Worker) Result() *iterreduce.Update {
	w.lock.Lock()
	defer w.lock.Unlock()
	return &iterreduce.Update{Params: w.Network.Params(), Weight: w.weight}
}

// Loss returns the mean loss of the last local pass.
func (w *Worker) Loss() float64 {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.loss
}
