package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/berfenger/solarwatt2mqtt/internal/config"
	"github.com/berfenger/solarwatt2mqtt/internal/core/actor"
	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"
	"github.com/berfenger/solarwatt2mqtt/internal/server"
	"github.com/berfenger/solarwatt2mqtt/internal/util/actorutil"
	"github.com/berfenger/solarwatt2mqtt/pkg/solarwatt"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {
	os.Exit(run())
}

func run() int {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return 2
	}
	slog.Info("Using", "config", cfg.Redacted())

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	endpoint, err := solarwatt.NewEndpoint(cfg.Gateway.Host, cfg.Gateway.Username, cfg.Gateway.Password)
	if err != nil {
		logger.Error("invalid gateway endpoint", zap.Error(err))
		return 2
	}

	if cfg.ValidateOnly {
		return validate(cfg, endpoint, logger)
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	entry := actor.NewEntryContext(*cfg, logger)
	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewEntryActor(entry, actor.SolarwattGatewayActorProvider(endpoint), actor.PahoMQTTActorProvider())
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_ENTRY)
	if err != nil {
		logger.Error("could not start entry", zap.Error(err))
		return 1
	}

	// block until the first refresh decides the entry setup
	setupTimeout := cfg.CoordinatorTimeout() + 10*time.Second
	res, err := ctx.RequestFuture(pid, domain.EntrySetupRequest{}, setupTimeout).Result()
	if err == nil {
		if resp, ok := res.(domain.EntrySetupResponse); ok && resp.HasResponseError() {
			err = resp.GetResponseError()
		}
	}
	if err != nil {
		logger.Error("entry setup failed", zap.Error(err))
		_ = ctx.StopFuture(pid).Wait()
		as.Shutdown()
		return 1
	}
	logger.Info("entry loaded", zap.String("entry_id", entry.EntryId))

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server error", zap.Error(err))
		_ = ctx.StopFuture(pid).Wait()
		as.Shutdown()
		return 1
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	// unload entry: children stop, session is closed, bridge goes offline
	_ = ctx.StopFuture(pid).Wait()
	as.Shutdown()
	return 0
}

func validate(cfg *config.Config, endpoint solarwatt.Endpoint, logger *zap.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.GatewayTaskTimeout())
	defer cancel()

	count, err := solarwatt.ValidateGateway(ctx, endpoint, cfg.RequestTimeout(), logger)
	if err != nil {
		var authErr *solarwatt.AuthenticationError
		if errors.As(err, &authErr) {
			logger.Error("gateway rejected the credential", zap.Error(err))
		} else {
			logger.Error("cannot connect to gateway", zap.Error(err))
		}
		return 1
	}
	fmt.Printf("gateway %s OK, %d items\n", endpoint.Host, count)
	return 0
}

func initConfig() (*config.Config, error) {

	// alias PORT => SOLARWATT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SOLARWATT_PORT", port)
	}

	setConfigDefaults()

	pflag.Bool("validate", false, "check gateway connection and credential, then exit")
	pflag.Parse()
	if err := viper.BindPFlag("validate_only", pflag.Lookup("validate")); err != nil {
		return nil, err
	}

	viper.SetEnvPrefix("solarwatt")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel = config.ParseLogLevel(viper.GetString("log_level"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("gateway.host", "")
	viper.SetDefault("gateway.username", solarwatt.DEFAULT_USERNAME)
	viper.SetDefault("gateway.password", "")
	viper.SetDefault("gateway.request_timeout_millis", config.DEFAULT_REQUEST_TIMEOUT_MILLIS)
	viper.SetDefault("scan_interval", config.DEFAULT_SCAN_INTERVAL_SECONDS)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.ha_discovery_enable", true)
	viper.SetDefault("mqtt.base_topic", "solarwatt")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
	viper.SetDefault("validate_only", false)
}
