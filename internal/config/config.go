package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/logger"
)

// DetectionMode selects the color detection strategy. The modes are
// mutually exclusive; all produce the same result shape.
type DetectionMode string

const (
	// ModeCount counts pixels within tolerance of the target color and
	// reports presence when the count reaches detection_size.
	ModeCount DetectionMode = "count"
	// ModeAverage compares the mean region color against the target.
	ModeAverage DetectionMode = "average"
	// ModeTransition fires on an observed from-color to to-color change
	// of the mean region color.
	ModeTransition DetectionMode = "transition"
)

// Config is the session configuration. Field names follow the config file
// keys recognized by the tool.
type Config struct {
	// Capture backend selection.
	CaptureMode        string `yaml:"capture_mode" json:"capture_mode"`
	CaptureWidth       int    `yaml:"capture_width" json:"capture_width"`
	CaptureHeight      int    `yaml:"capture_height" json:"capture_height"`
	CaptureFPS         int    `yaml:"capture_fps" json:"capture_fps"`
	CaptureDeviceIndex int    `yaml:"capture_device_index" json:"capture_device_index"`
	CaptureOffsetX     int    `yaml:"capture_offset_x" json:"capture_offset_x"`
	CaptureOffsetY     int    `yaml:"capture_offset_y" json:"capture_offset_y"`

	// UDP stream source.
	UDPIP     string `yaml:"udp_ip" json:"udp_ip"`
	UDPPort   int    `yaml:"udp_port" json:"udp_port"`
	TargetFPS int    `yaml:"target_fps" json:"target_fps"`

	// Detection region. RegionSize selects a centered square window;
	// explicit roi_* values (width/height > 0) override it and are applied
	// as-is, so they can fall outside a shrunken frame.
	RegionSize int `yaml:"region_size" json:"region_size"`
	ROIX       int `yaml:"roi_x" json:"roi_x"`
	ROIY       int `yaml:"roi_y" json:"roi_y"`
	ROIWidth   int `yaml:"roi_width" json:"roi_width"`
	ROIHeight  int `yaml:"roi_height" json:"roi_height"`

	// Detection.
	DetectionMode DetectionMode `yaml:"detection_mode" json:"detection_mode"`
	TargetColorR  int           `yaml:"target_color_r" json:"target_color_r"`
	TargetColorG  int           `yaml:"target_color_g" json:"target_color_g"`
	TargetColorB  int           `yaml:"target_color_b" json:"target_color_b"`
	ColorFromR    int           `yaml:"color_from_r" json:"color_from_r"`
	ColorFromG    int           `yaml:"color_from_g" json:"color_from_g"`
	ColorFromB    int           `yaml:"color_from_b" json:"color_from_b"`
	ColorToR      int           `yaml:"color_to_r" json:"color_to_r"`
	ColorToG      int           `yaml:"color_to_g" json:"color_to_g"`
	ColorToB      int           `yaml:"color_to_b" json:"color_to_b"`
	Tolerance     int           `yaml:"tolerance" json:"tolerance"`
	DetectionSize int           `yaml:"detection_size" json:"detection_size"`

	// Trigger timing, all in milliseconds. Min == max means a fixed value;
	// otherwise each trigger draws uniformly from the range.
	TriggerCooldownMin int `yaml:"trigger_cooldown_min" json:"trigger_cooldown_min"`
	TriggerCooldownMax int `yaml:"trigger_cooldown_max" json:"trigger_cooldown_max"`
	PressDelayMin      int `yaml:"press_delay_min" json:"press_delay_min"`
	PressDelayMax      int `yaml:"press_delay_max" json:"press_delay_max"`
	ReleaseDelayMin    int `yaml:"release_delay_min" json:"release_delay_min"`
	ReleaseDelayMax    int `yaml:"release_delay_max" json:"release_delay_max"`

	// Serial device.
	SerialPort string `yaml:"serial_port" json:"serial_port"`
	SerialBaud int    `yaml:"serial_baud" json:"serial_baud"`

	// Reporting server and logging.
	ServerPort int    `yaml:"server_port" json:"server_port"`
	LogLevel   string `yaml:"log_level" json:"log_level"`
}

// Defaults returns the default configuration. Color and timing values match
// the reference measurement setup: a red marker that flips to green.
func Defaults() *Config {
	return &Config{
		CaptureMode:        "udp",
		CaptureWidth:       1920,
		CaptureHeight:      1080,
		CaptureFPS:         240,
		CaptureDeviceIndex: 0,

		UDPIP:     "127.0.0.1",
		UDPPort:   1234,
		TargetFPS: 60,

		RegionSize: 200,

		DetectionMode: ModeCount,
		TargetColorR:  206,
		TargetColorG:  38,
		TargetColorB:  54,
		ColorFromR:    206,
		ColorFromG:    38,
		ColorFromB:    54,
		ColorToR:      75,
		ColorToG:      219,
		ColorToB:      106,
		Tolerance:     30,
		DetectionSize: 10,

		TriggerCooldownMin: 100,
		TriggerCooldownMax: 100,
		PressDelayMin:      0,
		PressDelayMax:      0,
		ReleaseDelayMin:    50,
		ReleaseDelayMax:    50,

		SerialPort: "",
		SerialBaud: 115200,

		ServerPort: 8080,
		LogLevel:   "info",
	}
}

// Validate rejects configurations the processing loop cannot honor.
func (c *Config) Validate() error {
	if c.Tolerance < 0 {
		return fmt.Errorf("tolerance must be >= 0, got %d", c.Tolerance)
	}
	if c.DetectionSize < 1 {
		return fmt.Errorf("detection_size must be >= 1, got %d", c.DetectionSize)
	}
	if c.TriggerCooldownMin < 0 || c.TriggerCooldownMax < c.TriggerCooldownMin {
		return fmt.Errorf("invalid trigger cooldown range %d..%d",
			c.TriggerCooldownMin, c.TriggerCooldownMax)
	}
	switch c.DetectionMode {
	case ModeCount, ModeAverage, ModeTransition:
	default:
		return fmt.Errorf("unknown detection_mode %q", c.DetectionMode)
	}
	for _, v := range []int{
		c.TargetColorR, c.TargetColorG, c.TargetColorB,
		c.ColorFromR, c.ColorFromG, c.ColorFromB,
		c.ColorToR, c.ColorToG, c.ColorToB,
	} {
		if v < 0 || v > 255 {
			return fmt.Errorf("color channel value %d out of range 0-255", v)
		}
	}
	return nil
}

// Manager loads, persists and hands out the configuration.
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a configuration manager backed by the given file.
// An empty path selects ~/.config/latencyscope/config.yaml. A missing file
// is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".config", "latencyscope", "config.yaml")
	}

	m := &Manager{configPath: path}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := m.Get().Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("capture_mode", m.Get().CaptureMode).
		Msg("Config loaded")
	return m, nil
}

// load reads the configuration from disk, layering the file over defaults
// so keys added in newer versions pick up their default values.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Update replaces the configuration and persists it.
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	c := *cfg
	m.config = &c
	m.mu.Unlock()
	return m.Save()
}

// Save writes the current configuration to disk.
func (m *Manager) Save() error {
	cfg := m.Get()

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// SetPort overrides the reporting server port.
func (m *Manager) SetPort(port int) {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
}

// SetLogLevel overrides the log level.
func (m *Manager) SetLogLevel(level string) {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
}

// GetConfigPath returns the path of the backing config file.
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
