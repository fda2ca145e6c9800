package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rohan-js/agrimon/calib"
	"github.com/rohan-js/agrimon/sensor"
	"github.com/rohan-js/agrimon/threshold"
)

// Config is the process-wide configuration, loaded once at startup and
// treated as read-only afterwards.
type Config struct {
	Device     DeviceConfig     `mapstructure:"device"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Publishing PublishingConfig `mapstructure:"publishing"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Sensors    SensorsConfig    `mapstructure:"sensors"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	CloudWatch CloudWatchConfig `mapstructure:"cloudwatch"`
	Health     HealthConfig     `mapstructure:"health"`
	Verbose    bool             `mapstructure:"verbose"`

	// Thresholds come from their own file so agronomists can tune bands
	// without touching connection settings.
	Thresholds threshold.Set `mapstructure:"-"`
}

type DeviceConfig struct {
	ID       string `mapstructure:"id"`
	Location string `mapstructure:"location"`
}

type BrokerConfig struct {
	Endpoint              string `mapstructure:"endpoint"`
	Port                  int    `mapstructure:"port"`
	ClientID              string `mapstructure:"client_id"`
	TopicPrefix           string `mapstructure:"topic_prefix"`
	QoS                   int    `mapstructure:"qos"`
	KeepAliveSeconds      int    `mapstructure:"keep_alive_seconds"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
	PublishTimeoutSeconds int    `mapstructure:"publish_timeout_seconds"`
	RootCA                string `mapstructure:"root_ca"`
	DeviceCert            string `mapstructure:"device_cert"`
	PrivateKey            string `mapstructure:"private_key"`
	Username              string `mapstructure:"username"`
	Password              string `mapstructure:"password"`
}

type PublishingConfig struct {
	IntervalSeconds int  `mapstructure:"interval_seconds"`
	MaxAttempts     int  `mapstructure:"max_attempts"`
	Retain          bool `mapstructure:"retain"`
}

type AlertsConfig struct {
	MaxAttempts     int `mapstructure:"max_attempts"`
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

type SensorsConfig struct {
	ReadTimeoutSeconds int                `mapstructure:"read_timeout_seconds"`
	DHT22              DHT22Config        `mapstructure:"dht22"`
	SoilMoisture       SoilMoistureConfig `mapstructure:"soil_moisture"`
}

type DHT22Config struct {
	DeviceDir string `mapstructure:"device_dir"`
}

type SoilMoistureConfig struct {
	DeviceDir   string            `mapstructure:"device_dir"`
	Channel     int               `mapstructure:"channel"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
}

type CalibrationConfig struct {
	DryValue int `mapstructure:"dry_value"`
	WetValue int `mapstructure:"wet_value"`
}

type SimulationConfig struct {
	Enabled          bool      `mapstructure:"enabled"`
	Seed             int64     `mapstructure:"seed"`
	TemperatureRange []float64 `mapstructure:"temperature_range"`
	HumidityRange    []float64 `mapstructure:"humidity_range"`
	SoilRange        []float64 `mapstructure:"soil_moisture_range"`
}

type CloudWatchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Region    string `mapstructure:"region"`
	Namespace string `mapstructure:"namespace"`
}

type HealthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// LoadConfig reads the device configuration and threshold bands and applies
// environment overrides. Callers adjust flag-driven fields afterwards and
// then call Validate, so configuration problems are fatal at startup, never
// runtime surprises.
func LoadConfig(path, thresholdsPath string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	v.SetEnvPrefix("AGRIMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	// .env / environment credentials take precedence over the YAML file so
	// secrets stay out of committed config.
	if u := os.Getenv("MQTT_USERNAME"); u != "" {
		cfg.Broker.Username = u
	}
	if pw := os.Getenv("MQTT_PASSWORD"); pw != "" {
		cfg.Broker.Password = pw
	}

	bands, err := loadThresholds(thresholdsPath)
	if err != nil {
		return Config{}, err
	}
	cfg.Thresholds = bands

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device.id", "farm-sensor-001")
	v.SetDefault("device.location", "greenhouse-1")
	v.SetDefault("broker.port", 8883)
	v.SetDefault("broker.topic_prefix", "agriculture/sensors")
	v.SetDefault("broker.qos", 1)
	v.SetDefault("broker.keep_alive_seconds", 60)
	v.SetDefault("broker.connect_timeout_seconds", 30)
	v.SetDefault("broker.publish_timeout_seconds", 10)
	v.SetDefault("publishing.interval_seconds", 30)
	v.SetDefault("publishing.max_attempts", 3)
	v.SetDefault("alerts.max_attempts", 5)
	v.SetDefault("alerts.cooldown_seconds", 300)
	v.SetDefault("sensors.read_timeout_seconds", 5)
	v.SetDefault("sensors.dht22.device_dir", "/sys/bus/iio/devices/iio:device0")
	v.SetDefault("sensors.soil_moisture.device_dir", "/sys/bus/iio/devices/iio:device1")
	v.SetDefault("sensors.soil_moisture.channel", 0)
	v.SetDefault("sensors.soil_moisture.calibration.dry_value", 1023)
	v.SetDefault("sensors.soil_moisture.calibration.wet_value", 300)
	v.SetDefault("cloudwatch.region", "us-east-1")
	v.SetDefault("cloudwatch.namespace", "SmartAgriculture")
	v.SetDefault("health.address", ":3100")
}

type bandFile struct {
	Warning  rangeConfig `mapstructure:"warning"`
	Critical rangeConfig `mapstructure:"critical"`
}

type rangeConfig struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// loadThresholds reads the per-metric warning/critical ranges. A missing
// file is allowed: metrics without bands always classify as normal.
func loadThresholds(path string) (threshold.Set, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("No thresholds file at %s, alerting disabled\n", path)
			return threshold.Set{}, nil
		}
		return nil, fmt.Errorf("read thresholds %s: %w", path, err)
	}

	var raw map[string]bandFile
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("parse thresholds %s: %w", path, err)
	}

	set := make(threshold.Set, len(raw))
	for metric, b := range raw {
		set[metric] = threshold.Band{
			WarningLow:   b.Warning.Min,
			WarningHigh:  b.Warning.Max,
			CriticalLow:  b.Critical.Min,
			CriticalHigh: b.Critical.Max,
		}
	}
	return set, nil
}

// Validate fails fast on configuration that cannot run. A broken calibration
// or threshold ordering is a config error, not a runtime condition.
func (c Config) Validate() error {
	if c.Device.ID == "" {
		return errors.New("device.id is required")
	}
	if !c.Simulation.Enabled && c.Broker.Endpoint == "" {
		return errors.New("broker.endpoint is required unless simulation is enabled")
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		return fmt.Errorf("broker.qos must be 0, 1 or 2, got %d", c.Broker.QoS)
	}
	if c.Publishing.IntervalSeconds <= 0 {
		return fmt.Errorf("publishing.interval_seconds must be positive, got %d", c.Publishing.IntervalSeconds)
	}
	if c.Publishing.MaxAttempts < 1 {
		return fmt.Errorf("publishing.max_attempts must be at least 1, got %d", c.Publishing.MaxAttempts)
	}
	if c.Alerts.MaxAttempts < 1 {
		return fmt.Errorf("alerts.max_attempts must be at least 1, got %d", c.Alerts.MaxAttempts)
	}
	if err := c.SoilProfile().Validate(); err != nil {
		return fmt.Errorf("sensors.soil_moisture.calibration: %w", err)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	return nil
}

// SoilProfile returns the calibration profile for the soil moisture channel.
func (c Config) SoilProfile() calib.Profile {
	return calib.Profile{
		DryValue: c.Sensors.SoilMoisture.Calibration.DryValue,
		WetValue: c.Sensors.SoilMoisture.Calibration.WetValue,
	}
}

// Interval returns the publish cycle interval.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Publishing.IntervalSeconds) * time.Second
}

// ReadTimeout returns the hard per-read sensor deadline.
func (c Config) ReadTimeout() time.Duration {
	return time.Duration(c.Sensors.ReadTimeoutSeconds) * time.Second
}

// Cooldown returns the alert suppression window.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Alerts.CooldownSeconds) * time.Second
}

// PublisherConfig derives the publisher's settings.
func (c Config) PublisherConfig() PublisherConfig {
	clientID := c.Broker.ClientID
	if clientID == "" {
		clientID = c.Device.ID
	}
	return PublisherConfig{
		Endpoint:       c.Broker.Endpoint,
		Port:           c.Broker.Port,
		ClientID:       clientID,
		RootCA:         c.Broker.RootCA,
		DeviceCert:     c.Broker.DeviceCert,
		PrivateKey:     c.Broker.PrivateKey,
		Username:       c.Broker.Username,
		Password:       c.Broker.Password,
		TopicPrefix:    c.Broker.TopicPrefix,
		DeviceID:       c.Device.ID,
		QoS:            byte(c.Broker.QoS),
		Retain:         c.Publishing.Retain,
		KeepAlive:      time.Duration(c.Broker.KeepAliveSeconds) * time.Second,
		ConnectTimeout: time.Duration(c.Broker.ConnectTimeoutSeconds) * time.Second,
		PublishTimeout: time.Duration(c.Broker.PublishTimeoutSeconds) * time.Second,
		MaxAttempts:    c.Publishing.MaxAttempts,
		AlertAttempts:  c.Alerts.MaxAttempts,
		Simulate:       c.Simulation.Enabled,
	}
}

// SimConfig derives the simulated source's settings.
func (c Config) SimConfig() sensor.SimConfig {
	cfg := sensor.DefaultSimConfig()
	cfg.Seed = c.Simulation.Seed
	cfg.Profile = c.SoilProfile()
	if r := c.Simulation.TemperatureRange; len(r) == 2 {
		cfg.TemperatureRange = [2]float64{r[0], r[1]}
	}
	if r := c.Simulation.HumidityRange; len(r) == 2 {
		cfg.HumidityRange = [2]float64{r[0], r[1]}
	}
	if r := c.Simulation.SoilRange; len(r) == 2 {
		cfg.SoilRange = [2]float64{r[0], r[1]}
	}
	return cfg
}
