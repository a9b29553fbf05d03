package main

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/winstonquock/deeplearning4j/config"
	"github.com/winstonquock/deeplearning4j/embedding"
	"github.com/winstonquock/deeplearning4j/iterreduce"
	"github.com/winstonquock/deeplearning4j/metrics"
	"github.com/winstonquock/deeplearning4j/vocab"
	"github.com/winstonquock/deeplearning4j/word2vec"
)

type word2vecFlags struct {
	corpus     string
	out        string
	tableOut   string
	checkpoint string
}

func newWord2VecCommand(g *globalFlags) *cobra.Command {
	flags := &word2vecFlags{}
	cmd := &cobra.Command{
		Use:   "word2vec",
		Short: "Train skip-gram embeddings on a text corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, m, err := g.setup()
			if err != nil {
				return err
			}
			if cfg.Vector.Precision == "float64" {
				return trainWord2Vec[float64](cmd.Context(), cfg, flags, log, m)
			}
			return trainWord2Vec[float32](cmd.Context(), cfg, flags, log, m)
		},
	}
	cmd.Flags().StringVar(&flags.corpus, "corpus", "", "text file with one sentence per line")
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "output file for the averaged parameter vector")
	cmd.Flags().StringVar(&flags.tableOut, "table-out", "", "save the unigram table for later runs")
	cmd.Flags().StringVar(&flags.checkpoint, "checkpoint", "", "save the final embedding table")
	cmd.MarkFlagRequired("corpus")
	cmd.MarkFlagRequired("out")
	return cmd
}

func trainWord2Vec[T embedding.Float](ctx context.Context, cfg *config.Config, flags *word2vecFlags,
	log *logrus.Logger, m *metrics.Metrics) error {
	text, err := os.ReadFile(flags.corpus)
	if err != nil {
		return errors.Wrap(err, "read corpus")
	}
	tokens := vocab.Tokenize(string(text))
	v := vocab.Build(vocab.Count(tokens), cfg.Vector.MinCount)
	if v.Len() == 0 {
		return errors.New("corpus has no words above the minimum count")
	}
	sentences := v.Sentences(tokens)

	unigram, err := loadUnigramTable(cfg, v)
	if err != nil {
		return err
	}
	if flags.tableOut != "" && unigram != nil {
		if err := writeFile(flags.tableOut, unigram.Write); err != nil {
			return errors.Wrap(err, "save unigram table")
		}
	}

	var words int64
	for _, s := range sentences {
		words += int64(len(s))
	}
	log.WithFields(logrus.Fields{
		"vocab":     v.Len(),
		"sentences": len(sentences),
		"words":     words,
	}).Info("loaded corpus")

	workers, err := word2vec.NewWorkers[T](word2vec.Config{
		VectorLength: cfg.Vector.Length,
		Window:       cfg.Vector.Window,
		Negative:     cfg.Sampling.Negative,
		NumWords:     cfg.Sampling.NumWords,
		AdaGrad:      cfg.Learning.AdaGrad,
		Alpha:        cfg.Learning.Alpha,
		MinAlpha:     cfg.Learning.MinAlpha,
		Iterations:   cfg.Learning.Iterations,
		Threads:      cfg.Reduce.Threads,
		TotalWords:   words * int64(max(1, cfg.Reduce.Rounds)),
		Seed:         cfg.Reduce.Seed,
	}, v, unigram, word2vec.Partition(sentences, cfg.Reduce.Workers), log, m)
	if err != nil {
		return err
	}
	var ws []iterreduce.Worker
	for _, w := range workers {
		ws = append(ws, w)
	}

	coordinator := &iterreduce.Coordinator{
		Transport:    iterreduce.NewLocalTransport(ws...),
		Master:       &iterreduce.AveragingMaster{Weighted: cfg.Reduce.Weighted},
		Rounds:       cfg.Reduce.Rounds,
		RoundTimeout: cfg.Reduce.RoundTimeout,
		Log:          log,
		Metrics:      m,
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

	if flags.checkpoint != "" {
		table := workers[0].Performer.SkipGram.Table
		if err := writeFile(flags.checkpoint, table.Write); err != nil {
			return errors.Wrap(err, "save checkpoint")
		}
	}
	log.WithField("out", flags.out).Info("saved model")
	return nil
}

func loadUnigramTable(cfg *config.Config, v *vocab.Vocab) (vocab.UnigramTable, error) {
	if cfg.Sampling.Negative == 0 {
		return nil, nil
	}
	if cfg.Sampling.Table == "" {
		return vocab.NewUnigramTable(v, cfg.Sampling.TableSize, vocab.DefaultPower), nil
	}
	f, err := os.Open(cfg.Sampling.Table)
	if err != nil {
		return nil, errors.Wrap(err, "load unigram table")
	}
	defer f.Close()
	table, err := vocab.ReadUnigramTable(f)
	if err != nil {
		return nil, err
	}
	for _, idx := range table {
		if idx < 0 || idx >= v.Len() {
			return nil, errors.Errorf("unigram table references word %d outside vocabulary of %d",
				idx, v.Len())
		}
	}
	return table, nil
}

// writeFile creates path and fills it with f. The file is
// removed if f fails.
func writeFile(path string, f func(w io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f(file); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	return file.Close()
}
