// Package config loads the orion-scan YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete orion-scan configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Upload   UploadConfig   `yaml:"upload"`
	Resolver ResolverConfig `yaml:"resolver"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// CameraConfig selects the capture device.
type CameraConfig struct {
	PreferEnvironment bool   `yaml:"prefer_environment"`
	EnvironmentDevice string `yaml:"environment_device"` // V4L2 node of the rear camera
	UserDevice        string `yaml:"user_device"`
	DefaultDevice     string `yaml:"default_device"`
	SyntheticDir      string `yaml:"synthetic_dir"` // replay images instead of a camera
	Width             int    `yaml:"width"`         // 0 keeps the native size
	Height            int    `yaml:"height"`
}

// ScannerConfig tunes the frame loop.
type ScannerConfig struct {
	RefreshHz           int `yaml:"refresh_hz"`
	ConfirmationDelayMS int  `yaml:"confirmation_delay_ms"`
	TryHarder           bool `yaml:"try_harder"`
}

// ConfirmationDelay returns the success-overlay duration. Zero selects the
// scanner default both at startup and on reload.
func (s ScannerConfig) ConfirmationDelay() time.Duration {
	return time.Duration(s.ConfirmationDelayMS) * time.Millisecond
}

// UploadConfig tunes the upload decoder.
type UploadConfig struct {
	ReferenceWidth int   `yaml:"reference_width"`
	MaxBytes       int64 `yaml:"max_bytes"`
}

// ResolverConfig configures payload resolution.
type ResolverConfig struct {
	PathKeyword string `yaml:"path_keyword"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// MQTTConfig configures the hand-off emitter. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Encoding string `yaml:"encoding"` // json or msgpack
	QoS      byte   `yaml:"qos"`
}

// Default returns the configuration used when a key is absent.
func Default() Config {
	return Config{
		Camera: CameraConfig{
			PreferEnvironment: true,
			DefaultDevice:     "/dev/video0",
		},
		Scanner: ScannerConfig{
			RefreshHz:           60,
			ConfirmationDelayMS: 1500,
			TryHarder:           true,
		},
		Upload: UploadConfig{
			ReferenceWidth: 1024,
			MaxBytes:       20 << 20,
		},
		Resolver: ResolverConfig{PathKeyword: "product"},
		Log:      LogConfig{Level: "info"},
		MQTT: MQTTConfig{
			Topic:    "orion/scan/handoff",
			ClientID: "orion-scan",
			Encoding: EncodingJSON,
			QoS:      1,
		},
	}
}

// Load reads path, fills absent keys from Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
