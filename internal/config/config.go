// Package config provides configuration management for the stage client
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server Server `mapstructure:"server"`
	Avatar Avatar `mapstructure:"avatar"`
	Queue  Queue  `mapstructure:"queue"`
	Mic    Mic    `mapstructure:"mic"`
	Log    Log    `mapstructure:"log"`
}

// Server configures the backend connection
type Server struct {
	WebSocketURL string        `mapstructure:"websocket_url"`
	BaseURL      string        `mapstructure:"base_url"` // root for "/"-relative model asset URLs
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	AutoDiscover bool          `mapstructure:"auto_discover"` // probe localhost for a backend instead of using the URLs above
}

// Avatar configures model loading and lip-sync
type Avatar struct {
	ModelName     string        `mapstructure:"model_name"`
	ModelDictPath string        `mapstructure:"model_dict_path"`
	WatchDict     bool          `mapstructure:"watch_dict"` // reload model_dict.json on change
	TalkInterval  time.Duration `mapstructure:"talk_interval"`
}

// Queue configures animation task pacing
type Queue struct {
	TaskDelay time.Duration `mapstructure:"task_delay"`
}

// Mic configures microphone capture and voice activity detection
type Mic struct {
	SampleRate      int           `mapstructure:"sample_rate"`
	ChunkSize       int           `mapstructure:"chunk_size"` // samples per mic-audio message
	VADThreshold    float64       `mapstructure:"vad_threshold"`
	VADSilenceDur   time.Duration `mapstructure:"vad_silence_duration"`
	PrePadFrames    int           `mapstructure:"pre_pad_frames"` // frames kept before speech onset
	StartEnabled    bool          `mapstructure:"start_enabled"`
	FrameSize       int           `mapstructure:"frame_size"`
	EnergyWindowDur time.Duration `mapstructure:"energy_window_duration"`
}

// Log configures logging output
type Log struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: Server{
			WebSocketURL: "ws://localhost:1017/client-ws",
			BaseURL:      "http://localhost:1017",
			DialTimeout:  10 * time.Second,
		},
		Avatar: Avatar{
			ModelName:     "shizuku",
			ModelDictPath: "model_dict.json",
			WatchDict:     true,
			TalkInterval:  75 * time.Millisecond,
		},
		Queue: Queue{
			TaskDelay: 3 * time.Second,
		},
		Mic: Mic{
			SampleRate:      16000,
			ChunkSize:       4096,
			VADThreshold:    0.02,
			VADSilenceDur:   800 * time.Millisecond,
			PrePadFrames:    10,
			StartEnabled:    false,
			FrameSize:       512,
			EnergyWindowDur: 30 * time.Millisecond,
		},
		Log: Log{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return cfg, err
	}

	configDir := filepath.Join(homeDir, ".open-llm-vtuber")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("stage")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("STAGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(homeDir, ".open-llm-vtuber")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("server", cfg.Server)
	viper.Set("avatar", cfg.Avatar)
	viper.Set("queue", cfg.Queue)
	viper.Set("mic", cfg.Mic)
	viper.Set("log", cfg.Log)

	configPath := filepath.Join(configDir, "stage.yaml")
	return viper.WriteConfigAs(configPath)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".open-llm-vtuber"), nil
}
