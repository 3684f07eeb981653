package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"

	"github.com/wattwatch/thermal-governor/internal/busevents"
	"github.com/wattwatch/thermal-governor/internal/debugcli"
	"github.com/wattwatch/thermal-governor/internal/govlog"
	"github.com/wattwatch/thermal-governor/internal/metrics"
	"github.com/wattwatch/thermal-governor/internal/persistence"
	"github.com/wattwatch/thermal-governor/internal/safego"
	"github.com/wattwatch/thermal-governor/internal/supervisor"
	"github.com/wattwatch/thermal-governor/internal/sysfs"
)

func main() {
	log := govlog.New("main")
	log.Println("Starting thermal-governord...")

	// 1. Load .env, if present, and read configuration.
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: error loading .env file: %v", err)
	}
	if os.Geteuid() != 0 {
		log.Println("thermal-governord must run as root to write scaling_max_freq/scaling_min_freq")
		os.Exit(1)
	}

	// 2. Create context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Printf("received %v, shutting down", sig)
		cancel()
	}()

	// 3. Discover sensors and CPUs.
	cpuDirs, err := sysfs.DiscoverCPUFreqDirs(os.Getenv("THERMAL_GOVERNOR_CPUFREQ_GLOB"))
	if err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
	log.Printf("discovered %d CPU cpufreq directories", len(cpuDirs))

	tempPath, fanPaths := discoverSensors(log)

	sensor := &sysfs.Sensor{TempPath: tempPath, FanPaths: fanPaths}
	actuator := &sysfs.Actuator{Dirs: cpuDirs}

	// 4. Build shared infrastructure: metrics, debug recorder, persistence.
	promMetrics := metrics.New()
	recorder := debugcli.NewRecorder(promMetrics)

	store := persistence.New(envOr("THERMAL_GOVERNOR_PERSIST_PATH", persistence.DefaultPath), log.WithScope("persistence"))

	// 5. Build the profile-change event source.
	source := buildEventSource(log)

	// 6. Start the metrics and debug servers.
	metricsAddr := envOr("THERMAL_GOVERNOR_METRICS_ADDR", ":9280")
	metricsSrv := metrics.NewServer(metricsAddr, promMetrics)
	if err := metricsSrv.Start(); err != nil {
		log.Printf("warning: metrics server failed to start: %v", err)
	} else {
		log.Printf("metrics server listening on %s", metricsAddr)
	}

	debugSrv := &debugcli.Server{
		Path:     envOr("THERMAL_GOVERNOR_DEBUG_SOCKET", debugcli.DefaultSocketPath),
		Recorder: recorder,
		Log:      log.WithScope("debugcli"),
	}
	safego.Go(ctx, cancel, "debugcli", log, func(ctx context.Context) {
		if err := debugSrv.ListenAndServe(ctx); err != nil {
			log.Printf("debug server stopped: %v", err)
		}
	})

	// 7. Build and run the supervisor. This blocks until shutdown.
	sup := &supervisor.Supervisor{
		Source:   source,
		Reader:   sensor,
		Actuator: actuator,
		Store:    store,
		Metrics:  recorder,
		Log:      log.WithScope("supervisor"),
	}

	if err := sup.Run(ctx); err != nil {
		log.Printf("supervisor exited with error: %v", err)
	}

	// 8. Best-effort graceful shutdown (spec §4.9/C9): flush everything the
	// tuner learned this run, then reset the host to its stock, unbounded
	// cpufreq configuration. The host reset and the metrics server stop
	// share one deadline; the flush is a plain file write with no deadline.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := sup.Flush(); err != nil {
		log.Printf("final persistence flush error: %v", err)
	}
	if err := actuator.ResetHost(shutdownCtx); err != nil {
		log.Printf("host reset error: %v", err)
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	log.Println("thermal-governord stopped")
}

func discoverSensors(log *govlog.Logger) (tempPath string, fanPaths []string) {
	if explicit := os.Getenv("THERMAL_GOVERNOR_TEMP_SENSOR"); explicit != "" {
		tempPath = explicit
	} else {
		path, err := sysfs.DiscoverPackageTempInput("k10temp", "coretemp")
		if err != nil {
			log.Printf("fatal: could not locate a package temperature sensor: %v", err)
			os.Exit(1)
		}
		tempPath = path
	}
	log.Printf("using temperature sensor: %s", tempPath)

	if explicit := os.Getenv("THERMAL_GOVERNOR_FAN_SENSORS"); explicit != "" {
		fanPaths = strings.Split(explicit, ",")
	} else if discovered, err := sysfs.DiscoverFanInputs(); err == nil {
		fanPaths = discovered
	} else {
		log.Printf("warning: no fan sensors found, fan RPM will always read 0: %v", err)
	}
	log.Printf("using %d fan sensor(s)", len(fanPaths))

	return tempPath, fanPaths
}

func buildEventSource(log *govlog.Logger) busevents.Source {
	if broker := os.Getenv("THERMAL_GOVERNOR_MQTT_BROKER"); broker != "" {
		log.Printf("using MQTT session bus at %s", broker)
		return &busevents.MQTTWatcher{
			Broker:   broker,
			ClientID: envOr("THERMAL_GOVERNOR_MQTT_CLIENT_ID", "thermal-governord"),
			Username: os.Getenv("MQTT_USERNAME"),
			Password: os.Getenv("MQTT_PASSWORD"),
			Log:      log.WithScope("busevents"),
		}
	}

	path := envOr("THERMAL_GOVERNOR_CONTROL_FILE", busevents.DefaultControlFile)
	log.Printf("no THERMAL_GOVERNOR_MQTT_BROKER configured, polling control file %s", path)
	return &busevents.FileWatcher{Path: path}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
