// cli - команды marketctl: вход/выход, произвольные запросы к API и чат.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/pribylovaa/go-marketplace-client/internal/apiclient"
	"github.com/pribylovaa/go-marketplace-client/internal/config"
	"github.com/pribylovaa/go-marketplace-client/internal/metrics"
	"github.com/pribylovaa/go-marketplace-client/internal/tokenstore"
)

// app - зависимости, которые PersistentPreRunE собирает для подкоманд.
type app struct {
	cfgPath string
	verbose bool

	cfg     *config.Config
	log     *slog.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	store   tokenstore.Store
	client  *apiclient.Client
}

// NewRootCmd собирает дерево команд marketctl.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "marketctl",
		Short:         "Marketplace API client",
		Long:          `Command line client for the marketplace REST API and realtime chat channel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.store != nil {
				return a.store.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to config file (Env: CONFIG_PATH)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log requests to stderr")

	root.AddCommand(
		a.loginCmd(),
		a.registerCmd(),
		a.logoutCmd(),
		a.refreshCmd(),
		a.getCmd(),
		a.postCmd(),
		a.chatCmd(),
	)

	return root
}

// Execute запускает marketctl с аргументами процесса.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (a *app) init(cmd *cobra.Command) error {
	// .env необязателен.
	_ = godotenv.Load()

	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	a.initMetrics()

	store, err := tokenstore.Open(cmd.Context(), cfg.Storage)
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	a.store = store

	errOut := cmd.ErrOrStderr()
	a.client, err = apiclient.New(apiclient.Options{
		BaseURL:        cfg.API.BaseURL,
		Store:          store,
		Logger:         a.log,
		Metrics:        a.metrics,
		RequestTimeout: cfg.API.RequestTimeout,
		RefreshTimeout: cfg.API.RefreshTimeout,
		UserAgent:      cfg.API.UserAgent,
		LoginPath:      cfg.API.LoginPath,
		Navigator: apiclient.NavigatorFunc(func(context.Context, string) {
			fmt.Fprintln(errOut, "session expired: run `marketctl login`")
		}),
	})

	return err
}

// initMetrics создаёт реестр процесса: свой на каждый запуск команды,
// чтобы повторные запуски в одном процессе не конфликтовали.
func (a *app) initMetrics() {
	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.reg)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
