package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/winstonquock/deeplearning4j/iterreduce"
	"github.com/winstonquock/deeplearning4j/simulator"
)

type simulateFlags struct {
	workers []int
	sizes   []int
	latency float64
	rate    float64
	rounds  int
	timeout float64
	seed    int64
}

func newSimulateCommand(g *globalFlags) *cobra.Command {
	flags := &simulateFlags{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Measure round times on a simulated network",
		Long: "Run the averaging protocol with synthetic workers on a simulated network " +
			"and print the virtual time per round as a markdown table.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, m, err := g.setup()
			if err != nil {
				return err
			}
			return simulate(cmd.Context(), cmd.OutOrStdout(), flags, func(c *iterreduce.Coordinator) {
				c.Log = log
				c.Metrics = m
			})
		},
	}
	cmd.Flags().IntSliceVar(&flags.workers, "workers", []int{2, 8, 32}, "worker counts")
	cmd.Flags().IntSliceVar(&flags.sizes, "sizes", []int{10, 10000, 1000000}, "parameter vector sizes")
	cmd.Flags().Float64Var(&flags.latency, "latency", 0.01, "maximum random latency")
	cmd.Flags().Float64Var(&flags.rate, "rate", 1e6, "bytes per unit of virtual time")
	cmd.Flags().IntVar(&flags.rounds, "rounds", 3, "rounds per measurement")
	cmd.Flags().Float64Var(&flags.timeout, "timeout", 0, "virtual reply timeout (0 waits forever)")
	cmd.Flags().Int64Var(&flags.seed, "seed", 1, "seed for simulated latencies")
	return cmd
}

func simulate(ctx context.Context, out io.Writer, flags *simulateFlags,
	setup func(c *iterreduce.Coordinator)) error {
	if flags.rounds <= 0 {
		return errors.New("rounds must be positive")
	}

	// Markdown table header.
	fmt.Fprintln(out, "| Workers | Latency | NIC rate | Size | Round time |")
	fmt.Fprintln(out, "|:--|:--|:--|:--|:--|")

	for _, numWorkers := range flags.workers {
		for _, size := range flags.sizes {
			roundTime, err := simulateOne(ctx, flags, numWorkers, size, setup)
			if err != nil {
				return errors.Wrapf(err, "simulate %d workers with %d parameters", numWorkers, size)
			}
			fmt.Fprintf(
				out,
				"| %d | %s | %s | %d | %f |\n",
				numWorkers,
				strconv.FormatFloat(flags.latency, 'f', -1, 64),
				strconv.FormatFloat(flags.rate, 'E', -1, 64),
				size,
				roundTime,
			)
		}
	}
	return nil
}

func simulateOne(ctx context.Context, flags *simulateFlags, numWorkers, size int,
	setup func(c *iterreduce.Coordinator)) (float64, error) {
	workers := make([]iterreduce.Worker, numWorkers)
	for i := range workers {
		workers[i] = &syntheticWorker{params: make([]float64, size)}
	}
	network := simulator.NewOrderedNetwork(flags.rate, flags.latency, flags.seed)
	transport := iterreduce.NewSimTransport(network, flags.timeout, workers...)
	c := &iterreduce.Coordinator{
		Transport: transport,
		Master:    &iterreduce.AveragingMaster{},
		Rounds:    flags.rounds,
	}
	setup(c)
	runErr := c.Run(ctx, io.Discard)
	closeErr := transport.Close()
	if runErr != nil {
		return 0, runErr
	}
	if closeErr != nil {
		return 0, closeErr
	}
	return transport.Time() / float64(flags.rounds), nil
}

// syntheticWorker does no training. Its update is its
// current parameter vector.
type syntheticWorker struct {
	params []float64
}

func (s *syntheticWorker) ComputeLocalUpdate(ctx context.Context) (*iterreduce.Update, error) {
	return s.Result(), nil
}

func (s *syntheticWorker) ApplyBroadcast(u *iterreduce.Update) error {
	if len(u.Params) != len(s.params) {
		return &iterreduce.ConfigurationError{Want: len(s.params), Got: len(u.Params)}
	}
	copy(s.params, u.Params)
	return nil
}

func (s *syntheticWorker) Result() *iterreduce.Update {
	return &iterreduce.Update{Params: append([]float64{}, s.params...), Weight: 1}
}
