package nnet

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedRecord is returned for a record that cannot
// be parsed. The stream may still yield further records.
var ErrMalformedRecord = errors.New("nnet: malformed record")

// A Record is a single training example.
type Record struct {
	Input  []float64
	Target []float64
}

// A RecordReader yields records one at a time.
//
// Next returns io.EOF at the end of the stream.
// Any other error applies only to the current record.
type RecordReader interface {
	Next() (*Record, error)
}

// A RecordSource opens a fresh pass over a partition.
type RecordSource interface {
	Open() (RecordReader, error)
}

// SliceSource is an in-memory RecordSource.
type SliceSource []*Record

// Open starts a pass over the records.
func (s SliceSource) Open() (RecordReader, error) {
	return &sliceReader{records: s}, nil
}

type sliceReader struct {
	records []*Record
	idx     int
}

func (s *sliceReader) Next() (*Record, error) {
	if s.idx >= len(s.records) {
		return nil, io.EOF
	}
	s.idx++
	return s.records[s.idx-1], nil
}

// CSVSource reads records from a CSV file in which the
// first NumInputs columns of each row are inputs and the
// remaining columns are targets.
type CSVSource struct {
	Path      string
	NumInputs int
}

// Open opens the file.
//
// The returned reader implements io.Closer.
func (c *CSVSource) Open() (RecordReader, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, errors.Wrap(err, "open records")
	}
	return NewCSVReader(f, c.NumInputs), nil
}

// CSVReader parses records from CSV text.
type CSVReader struct {
	r         *csv.Reader
	closer    io.Closer
	numInputs int
}

// NewCSVReader creates a reader over r.
// If r is an io.Closer, Close closes it.
func NewCSVReader(r io.Reader, numInputs int) *CSVReader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	res := &CSVReader{r: reader, numInputs: numInputs}
	if c, ok := r.(io.Closer); ok {
		res.closer = c
	}
	return res
}

// Next parses the next row.
func (c *CSVReader) Next() (*Record, error) {
	row, err := c.r.Read()
	if err == io.EOF {
		return nil, io.EOF
	} else if err != nil {
		return nil, errors.Wrapf(ErrMalformedRecord, "%v", err)
	}
	line, _ := c.r.FieldPos(0)
	if len(row) <= c.numInputs {
		return nil, errors.Wrapf(ErrMalformedRecord, "line %d: %d columns", line, len(row))
	}
	values := make([]float64, len(row))
	for i, field := range row {
		values[i], err = strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedRecord, "line %d column %d: %v", line, i+1, err)
		}
	}
	return &Record{Input: values[:c.numInputs], Target: values[c.numInputs:]}, nil
}

// Close closes the underlying reader, if possible.
func (c *CSVReader) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
