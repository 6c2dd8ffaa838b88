package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-ems/migrations"

	"github.com/nerrad567/gray-logic-ems/internal/api"
	"github.com/nerrad567/gray-logic-ems/internal/audit"
	"github.com/nerrad567/gray-logic-ems/internal/bridges/ems"
	"github.com/nerrad567/gray-logic-ems/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ems/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-ems/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-ems/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-ems/internal/infrastructure/mqtt"
)

// busCounterInterval is how often gateway counters are written to InfluxDB.
const busCounterInterval = time.Minute

// errBridgeDisabled is returned when the service has no bridge to run.
var errBridgeDisabled = errors.New("protocols.ems.enabled is false, nothing to run")

func newRunCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath())
		},
	}
}

// run is the service logic, separated from the command for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Service configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting EMS bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	if !cfg.Protocols.EMS.Enabled {
		return errBridgeDisabled
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	bridgeCfg, err := ems.LoadConfig(cfg.Protocols.EMS.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading EMS bridge config: %w", err)
	}
	log.Info("EMS bridge config loaded",
		"path", cfg.Protocols.EMS.ConfigFile,
		"devices", len(bridgeCfg.Devices),
	)

	var recorder *ems.TypeRecorder
	if cfg.Protocols.EMS.RecordTypes || bridgeCfg.Recorder.Enabled {
		recorder = ems.NewTypeRecorder(db.DB)
		recorder.SetLogger(log.Component("recorder"))
		if startErr := recorder.Start(); startErr != nil {
			return fmt.Errorf("starting telegram type recorder: %w", startErr)
		}
		defer recorder.Stop()
	}

	busLog := log.Component("ems")
	gateway, err := ems.ConnectGateway(ctx, bridgeCfg.ToGatewayConfig(), busLog)
	if err != nil {
		return fmt.Errorf("connecting to EMS gateway: %w", err)
	}
	defer func() {
		log.Info("closing EMS gateway")
		if closeErr := gateway.Close(); closeErr != nil {
			log.Error("error closing EMS gateway", "error", closeErr)
		}
	}()
	log.Info("EMS gateway connected", "connection", bridgeCfg.Gateway.Connection)

	writes := audit.NewSQLiteRepository(db.DB)

	opts := ems.BridgeOptions{
		Config:     bridgeCfg,
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Gateway:    gateway,
		WriteLog:   &auditWriteLog{repo: writes, logger: log.Component("audit")},
		Version:    version,
		Logger:     busLog,
	}
	// Typed nils must not reach the bridge's optional interfaces.
	if recorder != nil {
		opts.Recorder = recorder
	}
	if influxClient != nil {
		opts.History = influxClient
	}

	bridge, err := ems.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating EMS bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting EMS bridge: %w", err)
	}
	defer func() {
		log.Info("stopping EMS bridge")
		bridge.Stop()
	}()
	log.Info("EMS bridge started", "devices", len(bridge.Devices()))

	if cfg.API.Enabled {
		apiServer, apiErr := startAPI(ctx, cfg, log, bridge, recorder, writes)
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	g, gctx := errgroup.WithContext(ctx)
	if influxClient != nil {
		g.Go(func() error {
			busCounterLoop(gctx, influxClient, bridge, bridgeCfg.Bridge.ID)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API, bridge, gateway, recorder, InfluxDB, MQTT, database.

	log.Info("EMS bridge stopped")
	return nil
}

// startAPI creates the metrics registry and starts the HTTP server.
func startAPI(ctx context.Context, cfg *config.Config, log *logging.Logger, bridge *ems.Bridge, recorder *ems.TypeRecorder, writes audit.Repository) (*api.Server, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		bridge.Metrics(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	deps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log.Component("api"),
		Bridge:  bridge,
		Writes:  writes,
		Metrics: reg,
		Version: version,
	}
	if recorder != nil {
		deps.Types = recorder
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return srv, nil
}

// busCounterSource is the part of the bridge busCounterLoop reads.
type busCounterSource interface {
	GatewayStats() ems.GatewayStats
}

// busCounterSink stores gateway counters. *influxdb.Client satisfies it.
type busCounterSink interface {
	WriteBusCounters(gateway string, counters influxdb.BusCounters, ts time.Time)
}

// busCounterLoop writes the gateway counters every busCounterInterval
// until ctx is cancelled.
func busCounterLoop(ctx context.Context, sink busCounterSink, src busCounterSource, gatewayID string) {
	ticker := time.NewTicker(busCounterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			writeBusCounters(sink, src, gatewayID, now)
		}
	}
}

func writeBusCounters(sink busCounterSink, src busCounterSource, gatewayID string, now time.Time) {
	stats := src.GatewayStats()
	sink.WriteBusCounters(gatewayID, influxdb.BusCounters{
		Received: stats.TelegramsRx,
		Sent:     stats.TelegramsTx,
		Echoes:   stats.TelegramsEcho,
		Errors:   stats.ErrorsTotal,
	}, now)
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The gateway is not checked: the bridge reconnects it in the background
	// and reports its state in health messages.

	return nil
}
