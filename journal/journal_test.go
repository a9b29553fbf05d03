package journal

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/winstonquock/deeplearning4j/iterreduce"
)

type constWorker struct {
	params []float64
	fail   bool
}

func (c *constWorker) ComputeLocalUpdate(ctx context.Context) (*iterreduce.Update, error) {
	if c.fail {
		return nil, errors.New("disk on fire")
	}
	return c.Result(), nil
}

func (c *constWorker) ApplyBroadcast(u *iterreduce.Update) error {
	copy(c.params, u.Params)
	return nil
}

func (c *constWorker) Result() *iterreduce.Update {
	return &iterreduce.Update{Params: append([]float64{}, c.params...), Weight: 2}
}

func openTemp(t *testing.T) *Journal {
	j, err := Open(filepath.Join(t.TempDir(), "rounds.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordRound(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	entries := []*iterreduce.RoundEntry{
		{RunID: "a", RoundID: "r0", Round: 0, Workers: 3, Weight: 12, Elapsed: time.Second},
		{RunID: "b", RoundID: "r1", Round: 0, Workers: 3, Err: "await: worker timed out"},
		{RunID: "a", RoundID: "r2", Round: 1, Workers: 3, Weight: 10, Elapsed: time.Millisecond},
	}
	for _, e := range entries {
		require.NoError(t, j.RecordRound(ctx, e))
	}

	runs, err := j.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, runs)

	got, err := j.Rounds(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []*iterreduce.RoundEntry{entries[0], entries[2]}, got)

	got, err = j.Rounds(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCoordinatorJournal(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	broken := &constWorker{params: []float64{3, 3}, fail: true}
	c := &iterreduce.Coordinator{
		Transport: iterreduce.NewLocalTransport(
			&constWorker{params: []float64{1, 1}},
			broken,
		),
		Master:  &iterreduce.AveragingMaster{},
		Rounds:  2,
		Journal: j,
	}
	require.Error(t, c.Run(ctx, io.Discard))
	broken.fail = false
	require.NoError(t, c.Run(ctx, io.Discard))

	runs, err := j.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	failed, err := j.Rounds(ctx, runs[0])
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 0, failed[0].Round)
	assert.Contains(t, failed[0].Err, "disk on fire")
	assert.Zero(t, failed[0].Weight)

	done, err := j.Rounds(ctx, runs[1])
	require.NoError(t, err)
	require.Len(t, done, 2)
	for i, e := range done {
		assert.Equal(t, i, e.Round)
		assert.Equal(t, 2, e.Workers)
		assert.Equal(t, 4.0, e.Weight)
		assert.Empty(t, e.Err)
		assert.NotEqual(t, done[0].RoundID, done[1].RoundID)
	}
}
