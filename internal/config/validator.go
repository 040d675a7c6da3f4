package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Validate checks cfg and normalizes case-insensitive fields in place.
func Validate(cfg *Config) error {
	if cfg.Scanner.RefreshHz <= 0 || cfg.Scanner.RefreshHz > 240 {
		return fmt.Errorf("scanner.refresh_hz must be in 1..240, got %d", cfg.Scanner.RefreshHz)
	}
	if cfg.Scanner.ConfirmationDelayMS < 0 || cfg.Scanner.ConfirmationDelayMS > 60000 {
		return fmt.Errorf("scanner.confirmation_delay_ms must be in 0..60000, got %d", cfg.Scanner.ConfirmationDelayMS)
	}

	if cfg.Upload.ReferenceWidth < 64 || cfg.Upload.ReferenceWidth > 8192 {
		return fmt.Errorf("upload.reference_width must be in 64..8192, got %d", cfg.Upload.ReferenceWidth)
	}
	if cfg.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be > 0")
	}

	if cfg.Camera.Width < 0 || cfg.Camera.Height < 0 {
		return fmt.Errorf("camera.width and camera.height must be >= 0")
	}
	if (cfg.Camera.Width == 0) != (cfg.Camera.Height == 0) {
		return fmt.Errorf("camera.width and camera.height must be set together")
	}
	if cfg.Camera.SyntheticDir == "" && cfg.Camera.DefaultDevice == "" {
		return fmt.Errorf("camera.default_device is required without camera.synthetic_dir")
	}

	kw := cfg.Resolver.PathKeyword
	if kw == "" || strings.ContainsAny(kw, "/?# ") {
		return fmt.Errorf("resolver.path_keyword must be a single non-empty path segment, got %q", kw)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return validateMQTT(&cfg.MQTT)
}

func validateMQTT(m *MQTTConfig) error {
	m.Encoding = strings.ToLower(m.Encoding)
	switch m.Encoding {
	case EncodingJSON, EncodingMsgpack:
	default:
		return fmt.Errorf("mqtt.encoding must be %q or %q, got %q", EncodingJSON, EncodingMsgpack, m.Encoding)
	}
	if m.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", m.QoS)
	}
	if m.Broker == "" {
		return nil
	}
	if m.Topic == "" {
		return fmt.Errorf("mqtt.topic is required when mqtt.broker is set")
	}
	if strings.ContainsAny(m.Topic, "+#") {
		return fmt.Errorf("mqtt.topic must not contain wildcards, got %q", m.Topic)
	}
	if m.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required when mqtt.broker is set")
	}
	return nil
}
