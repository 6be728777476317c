package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	TransportFake = "fake"
	TransportMQTT = "mqtt"
)

var loadConfigOnce sync.Once
var configInstance AppConfig

// LoadConfig reads gatherer.yaml from ./config or /config, overridden by
// LUMEN_GATHERER_* variables. A missing file leaves the defaults.
func LoadConfig() AppConfig {
	loadConfigOnce.Do(func() {
		viper.SetEnvPrefix("lumen_gatherer")
		viper.AutomaticEnv()
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.SetConfigName("gatherer")
		viper.AddConfigPath("config")
		viper.AddConfigPath("/config")

		cfg, err := Load(viper.GetViper())
		if err != nil {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
		configInstance = cfg
	})

	return configInstance
}

// SetDefaults registers the value of every key that has one.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")

	v.SetDefault("gatherer.find_timeout", 20*time.Second)
	v.SetDefault("gatherer.discovery_ttl", 30*time.Second)
	v.SetDefault("gatherer.message_timeout", 10*time.Second)
	v.SetDefault("gatherer.limit", 30)
	v.SetDefault("gatherer.plans", []string{"label", "power"})
	v.SetDefault("gatherer.reference", "_")
	v.SetDefault("gatherer.schedule", "@every 1m")

	v.SetDefault("transport.kind", TransportFake)

	v.SetDefault("mqtt_client.topic_prefix", "lumen")
	v.SetDefault("mqtt_client.discovery_window", time.Second)

	v.SetDefault("http.address", ":3000")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:5173"})

	v.SetDefault("otel.endpoint", "localhost:4317")
	v.SetDefault("otel.enabled", false)
}

// Load reads the configuration held by v.
func Load(v *viper.Viper) (AppConfig, error) {
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return AppConfig{}, err
		}
	}

	cfg := AppConfig{
		General: GeneralConfig{
			LogLevel: v.GetString("general.log_level"),
		},
		Gatherer: GathererConfig{
			FindTimeout:    v.GetDuration("gatherer.find_timeout"),
			DiscoveryTTL:   v.GetDuration("gatherer.discovery_ttl"),
			MessageTimeout: v.GetDuration("gatherer.message_timeout"),
			Limit:          v.GetInt("gatherer.limit"),
			Plans:          v.GetStringSlice("gatherer.plans"),
			Reference:      v.GetString("gatherer.reference"),
			Schedule:       v.GetString("gatherer.schedule"),
		},
		Transport: TransportConfig{
			Kind: v.GetString("transport.kind"),
		},
		MQTTClient: MQTTClientConfig{
			Broker:          v.GetString("mqtt_client.broker"),
			ClientID:        v.GetString("mqtt_client.client_id"),
			Username:        v.GetString("mqtt_client.username"),
			Password:        v.GetString("mqtt_client.password"),
			TopicPrefix:     v.GetString("mqtt_client.topic_prefix"),
			DiscoveryWindow: v.GetDuration("mqtt_client.discovery_window"),
		},
		HTTP: HTTPConfig{
			Address:        v.GetString("http.address"),
			AllowedOrigins: v.GetStringSlice("http.allowed_origins"),
		},
		Otel: OtelConfig{
			Endpoint: v.GetString("otel.endpoint"),
			Enabled:  v.GetBool("otel.enabled"),
		},
	}

	if err := v.UnmarshalKey("fleet.devices", &cfg.Fleet.Devices); err != nil {
		return AppConfig{}, fmt.Errorf("reading fleet devices: %w", err)
	}

	switch cfg.Transport.Kind {
	case TransportFake, TransportMQTT:
	default:
		return AppConfig{}, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}

	return cfg, nil
}

type AppConfig struct {
	General    GeneralConfig
	Gatherer   GathererConfig
	Transport  TransportConfig
	MQTTClient MQTTClientConfig
	Fleet      FleetConfig
	HTTP       HTTPConfig
	Otel       OtelConfig
}

type GeneralConfig struct {
	LogLevel string
}

type GathererConfig struct {
	FindTimeout    time.Duration
	DiscoveryTTL   time.Duration
	MessageTimeout time.Duration
	Limit          int
	Plans          []string
	Reference      string
	Schedule       string
}

type TransportConfig struct {
	Kind string
}

type MQTTClientConfig struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryWindow time.Duration
}

// FleetConfig lists the virtual devices served by the fake transport.
type FleetConfig struct {
	Devices []DeviceConfig
}

type DeviceConfig struct {
	Serial   string `mapstructure:"serial"`
	Label    string `mapstructure:"label"`
	Kind     string `mapstructure:"kind"`
	Zones    int    `mapstructure:"zones"`
	Tiles    int    `mapstructure:"tiles"`
	Firmware string `mapstructure:"firmware"`
}

type HTTPConfig struct {
	Address        string
	AllowedOrigins []string
}

type OtelConfig struct {
	Endpoint string
	Enabled  bool
}
