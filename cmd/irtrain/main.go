// Command irtrain trains models with iterative parameter
// averaging.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/winstonquock/deeplearning4j/config"
	"github.com/winstonquock/deeplearning4j/iterreduce"
	"github.com/winstonquock/deeplearning4j/journal"
	"github.com/winstonquock/deeplearning4j/logging"
	"github.com/winstonquock/deeplearning4j/metrics"
)

type globalFlags struct {
	configPath  string
	logLevel    string
	metricsAddr string
	journalPath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "irtrain",
		Short:         "Train models by averaging parameters across workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level")
	root.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "",
		"serve prometheus metrics on this address while training")
	root.PersistentFlags().StringVar(&flags.journalPath, "journal", "", "override reduce.journal")

	root.AddCommand(
		newWord2VecCommand(flags),
		newMLPCommand(flags),
		newSimulateCommand(flags),
	)
	return root
}

// setup loads the config and builds the logger and
// metrics shared by every subcommand.
func (g *globalFlags) setup() (*config.Config, *logrus.Logger, *metrics.Metrics, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		cfg, err = config.Load(g.configPath)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.journalPath != "" {
		cfg.Reduce.Journal = g.journalPath
	}
	log, err := logging.New(os.Stderr, cfg.Log.Level)
	if err != nil {
		return nil, nil, nil, err
	}
	if g.metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(g.metricsAddr, mux); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}
	return cfg, log, metrics.New(prometheus.DefaultRegisterer), nil
}

// attachJournal opens the round journal at path, if any,
// and sets it on c. The returned function closes it.
func attachJournal(path string, c *iterreduce.Coordinator) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, err
	}
	c.Journal = j
	return func() { j.Close() }, nil
}
