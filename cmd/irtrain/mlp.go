package main

import (
	"context"
	"io"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/winstonquock/deeplearning4j/config"
	"github.com/winstonquock/deeplearning4j/iterreduce"
	"github.com/winstonquock/deeplearning4j/metrics"
	"github.com/winstonquock/deeplearning4j/nnet"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

type mlpFlags struct {
	data []string
	out  string
	plot string
}

func newMLPCommand(g *globalFlags) *cobra.Command {
	flags := &mlpFlags{}
	cmd := &cobra.Command{
		Use:   "mlp",
		Short: "Train a feed-forward network on CSV records",
		Long: "Train a feed-forward network on CSV records.\n\n" +
			"Each row holds network.inputs input columns followed by the targets. " +
			"If one file is given per worker, each worker streams its own file; " +
			"otherwise the records are loaded and dealt out to the workers.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, m, err := g.setup()
			if err != nil {
				return err
			}
			return trainMLP(cmd.Context(), cfg, flags, log, m)
		},
	}
	cmd.Flags().StringSliceVar(&flags.data, "data", nil, "CSV record files")
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "output file for the averaged parameter vector")
	cmd.Flags().StringVar(&flags.plot, "plot", "", "save a PNG plot of the loss per round")
	cmd.MarkFlagRequired("data")
	cmd.MarkFlagRequired("out")
	return cmd
}

func trainMLP(ctx context.Context, cfg *config.Config, flags *mlpFlags, log *logrus.Logger,
	m *metrics.Metrics) error {
	if cfg.Network.Inputs <= 0 {
		return errors.New("network.inputs must be set")
	}
	sources, err := mlpSources(flags.data, cfg, log)
	if err != nil {
		return err
	}

	gen := rand.New(rand.NewSource(cfg.Reduce.Seed))
	sizes := cfg.LayerSizes()
	initParams := nnet.NewNetwork(gen, cfg.Network.LearningRate, sizes...).Params()

	var workers []*nnet.Worker
	var ws []iterreduce.Worker
	for i, src := range sources {
		net := nnet.NewNetwork(gen, cfg.Network.LearningRate, sizes...)
		if err := net.SetParams(initParams); err != nil {
			return err
		}
		w := &nnet.Worker{
			Network: net,
			Source:  src,
			Log:     log.WithField("worker", i),
			Metrics: m,
		}
		workers = append(workers, w)
		ws = append(ws, w)
	}

	var losses plotter.XYs
	coordinator := &iterreduce.Coordinator{
		Transport:    iterreduce.NewLocalTransport(ws...),
		Master:       &iterreduce.AveragingMaster{Weighted: cfg.Reduce.Weighted},
		Rounds:       cfg.Reduce.Rounds,
		RoundTimeout: cfg.Reduce.RoundTimeout,
		Log:          log,
		Metrics:      m,
	}
	coordinator.OnState = func(s iterreduce.State) {
		if s != iterreduce.Aggregating {
			return
		}
		var loss float64
		for _, w := range workers {
			loss += w.Loss()
		}
		loss /= float64(len(workers))
		losses = append(losses, plotter.XY{X: float64(coordinator.Round() + 1), Y: loss})
		log.WithFields(logrus.Fields{"round": coordinator.Round(), "loss": loss}).Info("local loss")
	}

	closeJournal, err := attachJournal(cfg.Reduce.Journal, coordinator)
	if err != nil {
		return err
	}
	defer closeJournal()

	err = writeFile(flags.out, func(f io.Writer) error {
		return coordinator.Run(ctx, f)
	})
	if err != nil {
		return err
	}
	if flags.plot != "" {
		if err := saveLossPlot(flags.plot, losses); err != nil {
			return errors.Wrap(err, "save plot")
		}
	}
	log.WithField("out", flags.out).Info("saved model")
	return nil
}

func mlpSources(paths []string, cfg *config.Config, log logrus.FieldLogger) ([]nnet.RecordSource, error) {
	numWorkers := cfg.Reduce.Workers
	if len(paths) == numWorkers {
		var res []nnet.RecordSource
		for _, p := range paths {
			res = append(res, &nnet.CSVSource{Path: p, NumInputs: cfg.Network.Inputs})
		}
		return res, nil
	}

	parts := make([]nnet.SliceSource, numWorkers)
	var count int
	for _, p := range paths {
		reader, err := (&nnet.CSVSource{Path: p, NumInputs: cfg.Network.Inputs}).Open()
		if err != nil {
			return nil, err
		}
		var consecutive int
		for consecutive < nnet.DefaultMaxConsecutiveErrors {
			record, err := reader.Next()
			if err == io.EOF {
				break
			} else if err != nil {
				log.WithError(err).WithField("file", p).Warn("skipping record")
				consecutive++
				continue
			}
			consecutive = 0
			parts[count%numWorkers] = append(parts[count%numWorkers], record)
			count++
		}
		if closer, ok := reader.(io.Closer); ok {
			closer.Close()
		}
	}
	if count == 0 {
		return nil, errors.New("no usable records")
	}
	res := make([]nnet.RecordSource, numWorkers)
	for i, p := range parts {
		res[i] = p
	}
	return res, nil
}

func saveLossPlot(path string, losses plotter.XYs) error {
	p := plot.New()
	p.Title.Text = "Local training loss"
	p.X.Label.Text = "Round"
	p.Y.Label.Text = "Mean squared error"
	line, err := plotter.NewLine(losses)
	if err != nil {
		return err
	}
	p.Add(line)
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
