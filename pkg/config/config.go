package config

import (
	"fmt"
	"os"
	"time"

	"relaylink/pkg/validation"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Signaling struct {
		URL          string        `yaml:"url"`
		SDKVersion   string        `yaml:"sdk_version"`
		PingInterval time.Duration `yaml:"ping_interval"`
		CallTimeout  time.Duration `yaml:"call_timeout"`
		DialAttempts int           `yaml:"dial_attempts"`
		DialBackoff  time.Duration `yaml:"dial_backoff"`
	} `yaml:"signaling"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Session struct {
		WorkflowTimeout time.Duration `yaml:"workflow_timeout"`
	} `yaml:"session"`

	AudioLevel struct {
		TimeThreshold          time.Duration `yaml:"time_threshold"`
		AmplitudeThreshold     float64       `yaml:"amplitude_threshold"`
		HighAmplitudeThreshold float64       `yaml:"high_amplitude_threshold"`
		SampleInterval         time.Duration `yaml:"sample_interval"`
		MaxEmitInterval        time.Duration `yaml:"max_emit_interval"`
	} `yaml:"audio_level"`

	Media struct {
		AnalysisBufferSize int  `yaml:"analysis_buffer_size"`
		SampleRate         int  `yaml:"sample_rate"`
		Audio              bool `yaml:"audio"`
		Video              bool `yaml:"video"`
	} `yaml:"media"`

	Control struct {
		Enabled         bool          `yaml:"enabled"`
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		JWTSecret       string        `yaml:"jwt_secret"`

		RateLimit struct {
			Enabled           bool    `yaml:"enabled"`
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"control"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Auth struct {
		DeviceToken string `yaml:"device_token"`
	} `yaml:"auth"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Signaling
	if err := validation.ValidateWebsocketURL(c.Signaling.URL); err != nil {
		return fmt.Errorf("signaling.url: %w", err)
	}
	if c.Signaling.PingInterval <= 0 {
		return fmt.Errorf("signaling.ping_interval must be > 0")
	}
	if c.Signaling.CallTimeout <= 0 {
		return fmt.Errorf("signaling.call_timeout must be > 0")
	}
	if c.Signaling.DialAttempts <= 0 {
		return fmt.Errorf("signaling.dial_attempts must be > 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	for i, server := range c.WebRTC.ICEServers {
		if len(server.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
	}

	// Session
	if c.Session.WorkflowTimeout <= 0 {
		return fmt.Errorf("session.workflow_timeout must be > 0")
	}

	// Audio level
	if c.AudioLevel.TimeThreshold <= 0 {
		return fmt.Errorf("audio_level.time_threshold must be > 0")
	}
	if c.AudioLevel.SampleInterval <= 0 {
		return fmt.Errorf("audio_level.sample_interval must be > 0")
	}
	if c.AudioLevel.MaxEmitInterval <= 0 {
		return fmt.Errorf("audio_level.max_emit_interval must be > 0")
	}
	if c.AudioLevel.AmplitudeThreshold <= 0 || c.AudioLevel.AmplitudeThreshold >= c.AudioLevel.HighAmplitudeThreshold {
		return fmt.Errorf("audio_level.amplitude_threshold must be > 0 and < high_amplitude_threshold")
	}

	// Media
	if c.Media.AnalysisBufferSize <= 0 {
		return fmt.Errorf("media.analysis_buffer_size must be > 0")
	}
	if c.Media.SampleRate <= 0 {
		return fmt.Errorf("media.sample_rate must be > 0")
	}

	// Control API
	if c.Control.Enabled {
		if c.Control.Address == "" {
			return fmt.Errorf("control.address must not be empty when control.enabled=true")
		}
		if c.Control.ReadTimeout <= 0 || c.Control.WriteTimeout <= 0 || c.Control.ShutdownTimeout <= 0 {
			return fmt.Errorf("control timeouts must be > 0")
		}
		if c.Control.RateLimit.Enabled {
			if c.Control.RateLimit.RequestsPerSecond <= 0 {
				return fmt.Errorf("control.rate_limit.requests_per_second must be > 0 when rate limiting is enabled")
			}
			if c.Control.RateLimit.Burst <= 0 {
				return fmt.Errorf("control.rate_limit.burst must be > 0 when rate limiting is enabled")
			}
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// An empty or missing path yields the defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Signaling.URL = "wss://device.webrtc.bandwidth.com"
	cfg.Signaling.SDKVersion = "1.0.0"
	cfg.Signaling.PingInterval = 5 * time.Minute
	cfg.Signaling.CallTimeout = 15 * time.Second
	cfg.Signaling.DialAttempts = 3
	cfg.Signaling.DialBackoff = time.Second

	cfg.WebRTC.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

	cfg.Session.WorkflowTimeout = 30 * time.Second

	cfg.AudioLevel.TimeThreshold = 500 * time.Millisecond
	cfg.AudioLevel.AmplitudeThreshold = 0.2
	cfg.AudioLevel.HighAmplitudeThreshold = 0.5
	cfg.AudioLevel.SampleInterval = 100 * time.Millisecond
	cfg.AudioLevel.MaxEmitInterval = 500 * time.Millisecond

	cfg.Media.AnalysisBufferSize = 2048
	cfg.Media.SampleRate = 48000
	cfg.Media.Audio = true
	cfg.Media.Video = true

	cfg.Control.Enabled = true
	cfg.Control.Address = "127.0.0.1:8080"
	cfg.Control.ReadTimeout = 30 * time.Second
	cfg.Control.WriteTimeout = 30 * time.Second
	cfg.Control.ShutdownTimeout = 10 * time.Second
	cfg.Control.RateLimit.Enabled = false
	cfg.Control.RateLimit.RequestsPerSecond = 20
	cfg.Control.RateLimit.Burst = 40

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "relaylink"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("RELAYLINK_SIGNALING_URL"); url != "" {
		c.Signaling.URL = url
	}
	if token := os.Getenv("RELAYLINK_DEVICE_TOKEN"); token != "" {
		c.Auth.DeviceToken = token
	}
	if addr := os.Getenv("RELAYLINK_CONTROL_ADDRESS"); addr != "" {
		c.Control.Address = addr
	}
	if secret := os.Getenv("RELAYLINK_JWT_SECRET"); secret != "" {
		c.Control.JWTSecret = secret
	}
	if level := os.Getenv("RELAYLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
