package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/robotomize/browser-xunit/internal/config"
	"github.com/robotomize/browser-xunit/internal/event"
	"github.com/robotomize/browser-xunit/internal/exporter"
	"github.com/robotomize/browser-xunit/internal/logging"
	"github.com/robotomize/browser-xunit/internal/metrics"
	"github.com/robotomize/browser-xunit/internal/registry"
	"github.com/robotomize/browser-xunit/internal/reporter"
)

var errTestsFailed = errors.New("one or more tests failed")

var (
	configFlag          string
	envFileFlag         string
	verboseFlag         bool
	outputDirFlag       string
	metricsPathFlag     string
	logLevelFlag        string
	logFormatFlag       string
	parallelFlag        int
	queueSizeFlag       int
	forwardLogFlag      bool
	flushUnfinishedFlag bool
	failOnErrorFlag     bool
	silentOutput        bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&configFlag,
		"config",
		"c",
		"",
		"path to a YAML config file: -c xunit.yaml",
	)
	rootCmd.PersistentFlags().StringVarP(
		&envFileFlag,
		"env-file",
		"",
		".env",
		"dotenv file with XUNIT_* variables, ignored when missing",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verboseFlag,
		"verbose",
		"v",
		false,
		"verbose",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputDirFlag,
		"output",
		"o",
		config.DefaultOutputDir,
		"output path to xunit reports: -o <report-path>, empty to skip files",
	)
	rootCmd.PersistentFlags().StringVarP(
		&metricsPathFlag,
		"metrics",
		"m",
		"",
		"write prometheus metrics to a text file: -m metrics.prom",
	)
	rootCmd.PersistentFlags().StringVarP(
		&logLevelFlag,
		"log-level",
		"",
		config.DefaultLogLevel,
		"log level: debug, info, warn or error",
	)
	rootCmd.PersistentFlags().StringVarP(
		&logFormatFlag,
		"log-format",
		"",
		config.DefaultLogFormat,
		"log format: text or json",
	)
	rootCmd.PersistentFlags().IntVarP(
		&parallelFlag,
		"parallel",
		"p",
		0,
		"reports of one browser persisted at once, defaults to the number of CPUs",
	)
	rootCmd.PersistentFlags().IntVarP(
		&queueSizeFlag,
		"queue-size",
		"",
		config.DefaultQueueSize,
		"buffered events per browser",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&forwardLogFlag,
		"forward-log",
		"l",
		false,
		"copy the origin event stream to stderr",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&flushUnfinishedFlag,
		"flush-unfinished",
		"f",
		false,
		"write reports of browsers that never finished at the end of the stream",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&failOnErrorFlag,
		"fail",
		"e",
		false,
		"exit with an error when a test failed or a report could not be written",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&silentOutput,
		"silent",
		"s",
		false,
		"silent xunit report output(XML)",
	)
}

var rootCmd = &cobra.Command{
	Use:          "xunitctl",
	Long:         "Convert browser test events read from stdin to xunit reports per browser and file",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(configFlag, envFileFlag)
		if err != nil {
			return fmt.Errorf("config.Load: %w", err)
		}

		applyFlags(cmd, cfg)

		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("config.Validate: %w", err)
		}

		logger, err := logging.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("logging.NewLogger: %w", err)
		}

		log := logger.WithField("run", uuid.NewString())

		input := cmd.InOrStdin()
		if forwardLogFlag {
			input = io.TeeReader(input, cmd.ErrOrStderr())
		}

		writerOpts := []exporter.WriterOption{exporter.WithWriterLogger(log)}
		if cfg.OutputDir != "" {
			writerOpts = append(writerOpts, exporter.WriteToDir(cfg.OutputDir))
		}

		if !cfg.Silent {
			writerOpts = append(writerOpts, exporter.WriteReportTo(cmd.OutOrStdout()))
		}

		collector := metrics.NewCollector()
		rep := reporter.New(
			registry.New(),
			exporter.NewWriter(writerOpts...),
			reporter.WithLogger(log),
			reporter.WithObserver(collector),
			reporter.WithParallelism(cfg.Parallelism),
		)

		dispatcher := event.NewDispatcher(
			rep,
			event.WithDispatcherLogger(log),
			event.WithQueueSize(cfg.QueueSize),
		)

		result, err := dispatcher.Run(ctx, event.NewReader(input))
		if err != nil {
			return fmt.Errorf("dispatcher Run: %w", err)
		}

		log.WithFields(
			logrus.Fields{
				"events":   result.Events,
				"browsers": result.Browsers,
			},
		).Debug("event stream drained")

		if cfg.Verbose && result.Err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Read event stream: %s\n", result.Err.Error())
		}

		for _, g := range rep.Open() {
			log.WithFields(
				logrus.Fields{
					"browser": g.Browser.Name,
					"version": g.Browser.Version,
					"file":    g.File,
				},
			).Warn("report group still open at end of stream")
		}

		var flushErr error
		if cfg.FlushUnfinished {
			flushErr = rep.FlushUnfinished(ctx)
		}

		if cfg.MetricsPath != "" {
			if err := collector.Write(cfg.MetricsPath); err != nil {
				return fmt.Errorf("metrics Write: %w", err)
			}
		}

		summaries := rep.Summaries()
		printSummary(cmd.ErrOrStderr(), summaries)

		if flushErr != nil {
			return fmt.Errorf("reporter FlushUnfinished: %w", flushErr)
		}

		if cfg.FailOnError && failed(summaries) {
			return errTestsFailed
		}

		return nil
	},
}

// applyFlags lets explicitly set flags override file and environment values.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("output") {
		cfg.OutputDir = outputDirFlag
	}

	if flags.Changed("metrics") {
		cfg.MetricsPath = metricsPathFlag
	}

	if flags.Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}

	if flags.Changed("log-format") {
		cfg.LogFormat = logFormatFlag
	}

	if flags.Changed("parallel") {
		cfg.Parallelism = parallelFlag
	}

	if flags.Changed("queue-size") {
		cfg.QueueSize = queueSizeFlag
	}

	if flags.Changed("flush-unfinished") {
		cfg.FlushUnfinished = flushUnfinishedFlag
	}

	if flags.Changed("fail") {
		cfg.FailOnError = failOnErrorFlag
	}

	if flags.Changed("silent") {
		cfg.Silent = silentOutput
	}

	if flags.Changed("verbose") {
		cfg.Verbose = verboseFlag
	}

	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}
}
