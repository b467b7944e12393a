// Package run contains the command to run the appview service.
package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/foodios/appview/internal/firehose"
	"github.com/foodios/appview/internal/indexing"
	"github.com/foodios/appview/internal/search"
	"github.com/foodios/appview/internal/wellknown"
	"github.com/foodios/appview/pkg/logger"
	"github.com/foodios/appview/pkg/server"
	serverconfig "github.com/foodios/appview/pkg/server/config"
	"github.com/foodios/appview/pkg/storage"
	"github.com/foodios/appview/pkg/storage/postgres"
	"github.com/foodios/appview/pkg/storage/sqlcommon"
	"github.com/foodios/appview/pkg/storage/sqlite"
	"github.com/foodios/appview/pkg/storage/storagewrappers"
)

// NewRunCommand builds the command that runs the appview service.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the appview service",
		Long:  "Run the appview service.",
		Run:   run,
		Args:  cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, _ []string) {
			bindRunFlags(cmd)
		},
	}

	defaultConfig := serverconfig.DefaultConfig()
	flags := cmd.Flags()

	flags.String("http-addr", defaultConfig.HTTP.Addr, "the host:port address to serve the HTTP server on")
	flags.Duration("http-read-header-timeout", defaultConfig.HTTP.ReadHeaderTimeout, "the amount of time allowed to read request headers")
	flags.Duration("http-shutdown-timeout", defaultConfig.HTTP.ShutdownTimeout, "the amount of time to wait for in-flight requests on shutdown")

	flags.String("datastore-engine", defaultConfig.Datastore.Engine, "the datastore engine that will be used for persistence ('sqlite' or 'postgres')")
	flags.String("datastore-uri", defaultConfig.Datastore.URI, "the connection uri to use to connect to the datastore")
	flags.Int("datastore-max-open-conns", defaultConfig.Datastore.MaxOpenConns, "the maximum number of open connections to the datastore")
	flags.Int("datastore-max-idle-conns", defaultConfig.Datastore.MaxIdleConns, "the maximum number of connections in the idle connection pool")
	flags.Duration("datastore-conn-max-idle-time", defaultConfig.Datastore.ConnMaxIdleTime, "the maximum amount of time a connection may be idle")
	flags.Duration("datastore-conn-max-lifetime", defaultConfig.Datastore.ConnMaxLifetime, "the maximum amount of time a connection may be reused")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in ('text' or 'json')")
	flags.String("log-level", defaultConfig.Log.Level, "the log level to use ('none', 'debug', 'info', 'warn', 'error', 'panic', 'fatal')")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "enable/disable the /metrics endpoint and datastore metrics")

	flags.String("search-url", defaultConfig.Search.URL, "the base url of the external search service (optional)")

	flags.String("firehose-url", defaultConfig.Firehose.URL, "the url of the repo event stream to subscribe to")
	flags.Bool("firehose-enabled", defaultConfig.Firehose.Enabled, "enable/disable the repo event stream subscription")

	flags.String("identity-did-document-path", defaultConfig.Identity.DIDDocumentPath, "the path of the DID document to serve at /.well-known/did.json (optional)")

	// NOTE: if you add a new flag here, add the binding in bindRunFlags

	return cmd
}

// ReadConfig returns the appview configuration based on the values provided in
// the 'config.yaml' file. The file is loaded from '/etc/appview',
// '$HOME/.appview', or the current working directory. If no configuration file
// is present, the default values are returned.
func ReadConfig() (*serverconfig.Config, error) {
	config := serverconfig.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

func run(_ *cobra.Command, _ []string) {
	config, err := ReadConfig()
	if err != nil {
		panic(err)
	}

	if err := config.Validate(); err != nil {
		panic(err)
	}

	logger := logger.MustNewLogger(config.Log.Format, config.Log.Level)
	serviceCtx := &ServiceContext{Logger: logger}
	if err := serviceCtx.Run(context.Background(), config); err != nil {
		panic(err)
	}
}

// ServiceContext holds the dependencies shared by everything the run command
// starts.
type ServiceContext struct {
	Logger logger.Logger
}

type datastoreHandle struct {
	storage.Datastore
	dbInfo *sqlcommon.DBInfo
	close  func()
}

func (s *ServiceContext) buildDatastore(config *serverconfig.Config) (*datastoreHandle, error) {
	opts := []sqlcommon.DatastoreOption{
		sqlcommon.WithLogger(s.Logger),
		sqlcommon.WithMaxOpenConns(config.Datastore.MaxOpenConns),
		sqlcommon.WithMaxIdleConns(config.Datastore.MaxIdleConns),
		sqlcommon.WithConnMaxIdleTime(config.Datastore.ConnMaxIdleTime),
		sqlcommon.WithConnMaxLifetime(config.Datastore.ConnMaxLifetime),
	}
	if config.Metrics.Enabled {
		opts = append(opts, sqlcommon.WithMetrics())
	}

	var (
		ds     storage.Datastore
		dbInfo *sqlcommon.DBInfo
	)
	switch config.Datastore.Engine {
	case "sqlite":
		sqliteDS, err := sqlite.New(config.Datastore.URI, sqlcommon.NewConfig(opts...))
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite datastore: %w", err)
		}
		ds, dbInfo = sqliteDS, sqliteDS.DBInfo()
	case "postgres":
		postgresDS, err := postgres.New(config.Datastore.URI, sqlcommon.NewConfig(opts...))
		if err != nil {
			return nil, fmt.Errorf("initialize postgres datastore: %w", err)
		}
		ds, dbInfo = postgresDS, postgresDS.DBInfo()
	default:
		return nil, fmt.Errorf("storage engine '%s' is unsupported", config.Datastore.Engine)
	}

	cached, err := storagewrappers.NewCachedDatastore(ds)
	if err != nil {
		ds.Close()
		return nil, fmt.Errorf("initialize aggregates cache: %w", err)
	}
	return &datastoreHandle{Datastore: cached, dbInfo: dbInfo, close: cached.Close}, nil
}

// Run starts the appview and blocks until ctx is cancelled or a termination
// signal arrives.
func (s *ServiceContext) Run(ctx context.Context, config *serverconfig.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := s.buildDatastore(config)
	if err != nil {
		return err
	}
	defer handle.close()

	s.Logger.Info("starting appview",
		zap.String("datastore-engine", config.Datastore.Engine),
		zap.String("http-addr", config.HTTP.Addr),
	)

	serverOpts := []server.Option{server.WithLogger(s.Logger)}
	if config.Metrics.Enabled {
		serverOpts = append(serverOpts, server.WithMetrics())
	}
	if config.Search.URL != "" {
		serverOpts = append(serverOpts,
			server.WithSearcher(search.NewClient(config.Search.URL, search.WithLogger(s.Logger))))
	}
	if config.Identity.DIDDocumentPath != "" {
		provider := wellknown.NewProvider(config.Identity.DIDDocumentPath, s.Logger)
		serverOpts = append(serverOpts, server.WithWellKnownProvider(provider))
		go func() {
			if err := provider.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.Logger.Warn("did document watcher stopped", zap.Error(err))
			}
		}()
	}

	if config.Firehose.Enabled {
		indexer := indexing.NewIndexer(handle.dbInfo, s.Logger)
		subscriber := firehose.NewSubscriber(config.Firehose.URL, indexer, s.Logger)
		go func() {
			if err := subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.Logger.Error("firehose subscription stopped", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              config.HTTP.Addr,
		Handler:           server.New(handle.Datastore, serverOpts...).Handler(),
		ReadHeaderTimeout: config.HTTP.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-ctx.Done():
	}

	s.Logger.Info("shutting down appview")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.Logger.Warn("HTTP server shutdown", zap.Error(err))
	}

	return nil
}
