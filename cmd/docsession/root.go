package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nainya/docsession/internal/config"
	"github.com/nainya/docsession/internal/logger"
	"github.com/nainya/docsession/internal/metrics"
	"github.com/nainya/docsession/internal/server"
	"github.com/nainya/docsession/pkg/bookmark"
	"github.com/nainya/docsession/pkg/document"
	"github.com/nainya/docsession/pkg/playback"
	"github.com/nainya/docsession/pkg/session"
)

var (
	cfgFile      string
	logLevel     string
	metricsAddr  string
	bookmarkDir  string
	outputFormat string
)

// env is built once per invocation by the root command
var env *environment

type environment struct {
	cfg     *config.Config
	log     *logger.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	obs     *server.ObservabilityServer

	// status feeds the /status endpoint once a controller exists
	status func() interface{}
}

var rootCmd = &cobra.Command{
	Use:   "docsession",
	Short: "Read PDF documents with persistent bookmarks and audio sync",
	Long: `docsession opens PDF documents in a reading session: pages are decoded
on demand into a bounded cache, the reading position and bookmarks persist
across runs, and pages can follow an audio timing map.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		env, err = newEnvironment(cmd)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if env == nil || env.obs == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return env.obs.Shutdown(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./docsession.yaml or ~/.docsession/docsession.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics, /health and pprof on this address")
	rootCmd.PersistentFlags().StringVar(&bookmarkDir, "bookmark-dir", "", "directory holding bookmark logs")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "output format: yaml or json")

	rootCmd.AddCommand(readCmd, chaptersCmd, bookmarksCmd, syncCmd, configCmd)
}

func newEnvironment(cmd *cobra.Command) (*environment, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}

	overrides := map[string]struct {
		flag  string
		value string
	}{
		"log_level":    {"log-level", logLevel},
		"metrics_addr": {"metrics-addr", metricsAddr},
		"bookmark_dir": {"bookmark-dir", bookmarkDir},
	}
	for key, o := range overrides {
		if cmd.Flags().Changed(o.flag) {
			if err := cm.Set(key, o.value); err != nil {
				return nil, err
			}
		}
	}

	cfg := cm.Get()
	e := &environment{
		cfg: cfg,
		log: logger.NewLogger(cfg.LoggerConfig()),
		reg: prometheus.NewRegistry(),
	}
	e.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	e.metrics = metrics.NewMetrics(e.reg)

	if file := cm.ConfigFile(); file != "" {
		e.log.Debug("configuration loaded").Str("file", file).Send()
	}

	if cfg.MetricsAddr != "" {
		e.obs = server.NewObservabilityServer(cfg.MetricsAddr, e.reg, func() interface{} {
			if e.status == nil {
				return map[string]string{"status": "idle"}
			}
			return e.status()
		}, e.log)
		if err := e.obs.Start(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *environment) openStore() (*bookmark.Store, error) {
	return bookmark.NewStore(e.cfg.StoreOptions(e.log, e.metrics))
}

func (e *environment) newController(store *bookmark.Store, clock playback.Clock) (*session.Controller, error) {
	c, err := session.New(e.cfg.ToSession(), session.Deps{
		Source:  document.NewPDFSource(e.cfg.RelaxedPDF),
		Store:   store,
		Clock:   clock,
		Logger:  e.log,
		Metrics: e.metrics,
	})
	if err != nil {
		return nil, err
	}
	e.status = func() interface{} { return c.State() }
	return c, nil
}

// fingerprintFile returns the document id of a file without parsing it
func fingerprintFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return document.Fingerprint(data), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return output(env.cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write a default configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err == nil {
			return fmt.Errorf("%s already exists", args[0])
		}
		if err := config.WriteDefault(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configInitCmd)
}
