package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "latencyscope",
		Short: "LatencyScope - capture-to-click latency measurement",
		Long: `LatencyScope measures end-to-end reaction latency: it watches a video
feed for a color marker and fires a hardware mouse click through a MAKCU
serial device the moment the marker appears, timestamping every stage in
between.

Features:
  • UDP MJPEG stream and X11 screen capture sources
  • Color marker detection (pixel count, average, transition)
  • Single-shot trigger with randomized cooldown
  • Hardware clicks over a MAKCU serial device
  • Per-trigger stage latency records
  • REST API and WebSocket streaming for live results`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/latencyscope/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "reporting server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("serial", "", "MAKCU serial port (default is auto-detect)")
	rootCmd.PersistentFlags().String("capture", "", "capture mode (udp, mss, bettercam, dxgi)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("serial_port", rootCmd.PersistentFlags().Lookup("serial"))
	viper.BindPFlag("capture_mode", rootCmd.PersistentFlags().Lookup("capture"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
