package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/api"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/capture"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/config"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/latency"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/logger"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/makcu"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a measurement session",
	Long: `Start a measurement session: open the capture source and the MAKCU
serial device, then trigger clicks on marker detections until interrupted.

The reporting server runs alongside the session and serves live results.`,
	Example: `  # Run against the default UDP MJPEG stream on :1234
  latencyscope run

  # Capture the X11 screen instead
  latencyscope run --capture mss

  # Pick the serial device and a custom config explicitly
  latencyscope run --serial /dev/ttyACM0 --config ./bench.yaml

  # Verbose session with the reporting server on :9090
  latencyscope run --port 9090 --log-level debug`,
	RunE: runSession,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	// Flag overrides
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}

	cfg := configMgr.Get()
	if viper.IsSet("serial_port") {
		if port := viper.GetString("serial_port"); port != "" {
			cfg.SerialPort = port
		}
	}
	if viper.IsSet("capture_mode") {
		if mode := viper.GetString("capture_mode"); mode != "" {
			cfg.CaptureMode = mode
		}
	}

	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("latencyscope")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("capture_mode", cfg.CaptureMode).
		Msg("Starting measurement session")

	// Serial channel
	serialPort, err := resolveSerialPort(cfg.SerialPort)
	if err != nil {
		return err
	}
	channel, err := makcu.Open(serialPort, cfg.SerialBaud)
	if err != nil {
		return fmt.Errorf("failed to open MAKCU device %s: %w", serialPort, err)
	}

	recorder := latency.NewRecorder(1024)
	dispatcher := makcu.NewDispatcher(channel, makcu.Timing{
		PressDelayMin:   time.Duration(cfg.PressDelayMin) * time.Millisecond,
		PressDelayMax:   time.Duration(cfg.PressDelayMax) * time.Millisecond,
		ReleaseDelayMin: time.Duration(cfg.ReleaseDelayMin) * time.Millisecond,
		ReleaseDelayMax: time.Duration(cfg.ReleaseDelayMax) * time.Millisecond,
	}, makcu.WithSink(recorder))
	defer dispatcher.Close()

	// Capture source
	source, err := capture.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open capture source: %w", err)
	}
	if err := source.Start(); err != nil {
		return fmt.Errorf("failed to start capture source: %w", err)
	}
	defer source.Stop()

	store := config.NewStore(cfg)
	pipe := pipeline.New(source, store, dispatcher, recorder)

	server := api.NewServer(pipe, recorder, dispatcher, configMgr, store)
	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Error().Err(err).Msg("Reporting server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Int("port", cfg.ServerPort).
		Msgf("Session running, results at http://localhost:%d/api - press Ctrl+C to stop", cfg.ServerPort)

	runErr := pipe.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Reporting server shutdown failed")
	}

	stats := recorder.Stats()
	log.Info().
		Uint64("triggers", stats.Count).
		Dur("min", stats.Min).
		Dur("mean", stats.Mean).
		Dur("max", stats.Max).
		Msg("Session summary")

	if runErr != nil {
		return fmt.Errorf("session ended: %w", runErr)
	}
	return nil
}

// resolveSerialPort auto-detects the device when none is configured.
func resolveSerialPort(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	ports, err := makcu.ListPorts()
	if err != nil {
		return "", fmt.Errorf("serial port discovery failed: %w", err)
	}
	if len(ports) == 0 {
		return "", fmt.Errorf("no serial ports found, set serial_port or use --serial")
	}
	logger.WithComponent("latencyscope").Info().
		Str("port", ports[0]).
		Msg("Auto-detected serial port")
	return ports[0], nil
}
