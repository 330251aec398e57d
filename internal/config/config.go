// Package config loads service settings from defaults, an optional YAML
// file and MASKDETECT_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MASKDETECT"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Vision VisionConfig `mapstructure:"vision"`
	Assets AssetsConfig `mapstructure:"assets"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	GRPC   GRPCConfig   `mapstructure:"grpc"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type VisionConfig struct {
	// Locator is "haar" (OpenCV) or "pigo" (pure Go).
	Locator     string `mapstructure:"locator"`
	CascadePath string `mapstructure:"cascade_path"`
	PigoPath    string `mapstructure:"pigo_path"`
	ModelPath   string `mapstructure:"model_path"`
	MaxPixels   int    `mapstructure:"max_pixels"`
}

type AssetsConfig struct {
	Dir     string `mapstructure:"dir"`
	BaseURL string `mapstructure:"base_url"`
	// ModelID is the remote id of the classifier artifact at Vision.ModelPath.
	ModelID string        `mapstructure:"model_id"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Files maps each auto-fetched local file to its remote id.
func (c *Config) Files() map[string]string {
	return map[string]string{c.Vision.ModelPath: c.Assets.ModelID}
}

type RedisConfig struct {
	// Addr empty disables result caching.
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	// Brokers empty disables detection events.
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type GRPCConfig struct {
	// Addr empty disables the health service.
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_upload_bytes", 10<<20)

	v.SetDefault("vision.locator", "haar")
	v.SetDefault("vision.cascade_path", "haarcascade_frontalface_default.xml")
	v.SetDefault("vision.pigo_path", "facefinder")
	v.SetDefault("vision.model_path", "model2.onnx")
	v.SetDefault("vision.max_pixels", 40_000_000)

	v.SetDefault("assets.dir", ".")
	v.SetDefault("assets.base_url", "https://drive.google.com/uc")
	v.SetDefault("assets.model_id", "")
	v.SetDefault("assets.timeout", 10*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 10*time.Minute)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "mask-detections")

	v.SetDefault("grpc.addr", "")

	v.SetDefault("log.level", "info")
}

// Load reads configuration. An empty path looks for ./config/config.yaml and
// tolerates its absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.Vision.Locator {
	case "haar", "pigo":
	default:
		return fmt.Errorf("vision.locator must be haar or pigo, got %q", c.Vision.Locator)
	}
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Vision.ModelPath == "" {
		return errors.New("vision.model_path is required")
	}
	if c.Server.MaxUploadBytes < 0 || c.Vision.MaxPixels < 0 {
		return errors.New("upload and pixel limits must not be negative")
	}
	return nil
}
