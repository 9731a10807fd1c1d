// Depot Core - authentication and access control for the depot logistics backend.
//
// This is the main entry point. It loads configuration, opens the database,
// connects the optional Redis, MQTT and InfluxDB backends and serves the
// HTTP API until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/nerrad567/depot-core/internal/api"
	"github.com/nerrad567/depot-core/internal/auth"
	"github.com/nerrad567/depot-core/internal/authsync"
	"github.com/nerrad567/depot-core/internal/infrastructure/config"
	"github.com/nerrad567/depot-core/internal/infrastructure/database"
	"github.com/nerrad567/depot-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/depot-core/internal/infrastructure/logging"
	"github.com/nerrad567/depot-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/depot-core/internal/infrastructure/redis"
	"github.com/nerrad567/depot-core/internal/telemetry"
	"github.com/nerrad567/depot-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// throttleSweepInterval is how often expired in-memory throttle counters are dropped.
const throttleSweepInterval = time.Minute

// options are the command-line flags.
type options struct {
	configPath  string
	migrateOnly bool
	showVersion bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads args. The config path falls back to DEPOT_CONFIG; an
// empty path builds the configuration from defaults and environment only.
func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("depot", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", os.Getenv("DEPOT_CONFIG"), "path to the YAML configuration file")
	fs.BoolVar(&opts.migrateOnly, "migrate-only", false, "apply database migrations and exit")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "depot %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()
	log.Info("starting depot core", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", opts.configPath,
		"environment", cfg.Service.Environment,
		"log_level", cfg.Logging.Level,
	)

	db, err := database.Open(database.Config{
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

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	if opts.migrateOnly {
		log.Info("migrations applied, exiting")
		return nil
	}

	return serve(ctx, cfg, db, log, stdout)
}

// serve wires the services and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger, stdout io.Writer) error {
	users := auth.NewUserRepository(db.DB)
	roles := auth.NewRoleRepository(db.DB)
	orgs := auth.NewOrgRepository(db.DB)
	verifier := auth.NewCredentialVerifier(cfg.Security.Password.Workers, auth.DefaultArgon2Params)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.Security.JWT.AccessSecret,
		RefreshSecret: cfg.Security.JWT.RefreshSecret,
		AccessTTL:     cfg.Security.JWT.AccessTTLDuration(),
		RefreshTTL:    cfg.Security.JWT.RefreshTTLDuration(),
	})
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	seeded, err := seed(ctx, cfg, users, roles, orgs, verifier, log)
	if err != nil {
		return err
	}
	if seeded != "" {
		fmt.Fprintf(stdout, "Generated password for bootstrap admin %s: %s\nChange it after first login.\n",
			cfg.Seed.AdminPhone, seeded)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(registry)

	cache := auth.NewPermissionCache(users, roles, cfg.Security.PermissionCache.TTLDuration(),
		cfg.Security.PermissionCache.MaxEntries, log.Component("permission_cache").Logger)
	cache.SetObserver(metrics)
	go cache.Run(ctx)

	dependencies := []api.Dependency{{Name: "database", Checker: db, Critical: true}}

	throttle, redisClient, err := buildThrottle(ctx, cfg, log)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer closeLogged(log, "redis", redisClient.Close)
		dependencies = append(dependencies, api.Dependency{Name: "redis", Checker: redisClient})
	}
	if mt, ok := throttle.(*auth.MemoryThrottle); ok {
		go sweepThrottle(ctx, mt)
	}

	recorderDeps := telemetry.RecorderDeps{
		Metrics:  metrics,
		Instance: cfg.MQTT.Broker.ClientID,
		QoS:      byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0-2
		Logger:   log.Component("telemetry").Logger,
	}

	influxClient, err := connectInflux(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer closeLogged(log, "influxdb", influxClient.Close)
		recorderDeps.Points = influxClient
		dependencies = append(dependencies, api.Dependency{Name: "influxdb", Checker: influxClient})
	}

	// Without MQTT, invalidations stay local to this instance.
	var invalidator auth.Invalidator = cache
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer closeLogged(log, "mqtt", mqttClient.Close)
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge := authsync.NewBridge(cache, mqttClient, cfg.MQTT.Broker.ClientID,
			byte(cfg.MQTT.QoS), log.Component("authsync").Logger) //nolint:gosec // validated to 0-2
		if err := bridge.Start(); err != nil {
			return fmt.Errorf("starting invalidation bridge: %w", err)
		}
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected, purging permission cache")
			bridge.Resync()
		})

		invalidator = bridge
		recorderDeps.Publisher = mqttClient
		dependencies = append(dependencies, api.Dependency{Name: "mqtt", Checker: mqttClient})
	} else {
		log.Info("MQTT disabled, permission invalidation is local only")
	}

	recorder := telemetry.NewRecorder(recorderDeps)
	go recorder.Run(ctx)

	svc, err := auth.NewService(auth.ServiceDeps{
		Users:    users,
		Roles:    roles,
		Orgs:     orgs,
		Verifier: verifier,
		Tokens:   tokens,
		Cache:    invalidator,
		Events:   recorder,
		Logger:   log.Component("auth").Logger,
	})
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}

	server, err := api.New(api.Deps{
		Config:       cfg.API,
		Logger:       log,
		Auth:         svc,
		Roles:        auth.NewRoleService(roles, users, invalidator, log.Component("roles").Logger),
		Orgs:         orgs,
		Gate:         auth.NewGate(tokens, cache, orgs, cfg.Security.SuperAdminRoles, log.Component("gate").Logger),
		Throttle:     throttle,
		Metrics:      metrics,
		Dependencies: dependencies,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer closeLogged(log, "api", server.Close)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse: API, MQTT, InfluxDB, Redis, database.
	return nil
}

// seed creates built-in roles and the bootstrap admin when enabled.
func seed(ctx context.Context, cfg *config.Config, users auth.UserRepository, roles auth.RoleRepository,
	orgs auth.OrgRepository, verifier *auth.CredentialVerifier, log *logging.Logger) (string, error) {
	if !cfg.Seed.Enabled {
		return "", nil
	}

	seeder := &auth.Seeder{
		Roles:    roles,
		Orgs:     orgs,
		Users:    users,
		Verifier: verifier,
		Logger:   log.Component("seed").Logger,
	}
	password, err := seeder.Seed(ctx, auth.SeedOptions{
		AdminPhone:    cfg.Seed.AdminPhone,
		AdminPassword: cfg.Seed.AdminPassword,
		OfficeName:    cfg.Seed.OfficeName,
		OfficeCode:    cfg.Seed.OfficeCode,
	})
	if err != nil {
		return "", fmt.Errorf("seeding: %w", err)
	}
	return password, nil
}

// buildThrottle returns the failed-login throttle. Redis is used when
// configured and reachable; otherwise counters are kept in memory, which
// only limits clients per instance.
func buildThrottle(ctx context.Context, cfg *config.Config, log *logging.Logger) (auth.LoginThrottle, *redis.Client, error) {
	lt := cfg.Security.LoginThrottle
	if !lt.Enabled {
		log.Info("login throttle disabled")
		return nil, nil, nil
	}

	client, err := redis.Connect(ctx, cfg.Redis)
	switch {
	case errors.Is(err, redis.ErrDisabled):
		log.Info("login throttle using in-memory counters")
		return auth.NewMemoryThrottle(lt.MaxFailures, lt.WindowDuration()), nil, nil
	case err != nil:
		log.Warn("redis unavailable, login throttle using in-memory counters", "error", err)
		return auth.NewMemoryThrottle(lt.MaxFailures, lt.WindowDuration()), nil, nil
	}

	log.Info("login throttle using redis", "addr", cfg.Redis.Addr)
	return auth.NewRedisThrottle(client.Redis(), client.Prefix(), lt.MaxFailures, lt.WindowDuration()), client, nil
}

// connectInflux connects to InfluxDB when enabled. A nil client means auth
// events are not written as points.
func connectInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg.InfluxDB, log.Component("influxdb").Logger)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

func sweepThrottle(ctx context.Context, t *auth.MemoryThrottle) {
	ticker := time.NewTicker(throttleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func closeLogged(log *logging.Logger, name string, closeFn func() error) {
	log.Info("closing " + name)
	if err := closeFn(); err != nil {
		log.Error("error closing "+name, "error", err)
	}
}
