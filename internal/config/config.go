// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package config

import (
	stderr "errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/sosodev/duration"
	"github.com/spf13/viper"
)

// MaxSensors bounds SENSOR_NUMBER; segment ids travel as a single byte.
const MaxSensors = 256

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type (
	// Aggregator is the configuration of the aggregator process.
	Aggregator struct {
		SensorNumber         int
		Store                string
		DatabaseURL          string
		HTTPAddr             string
		TopologyFile         string
		JamBroadcastInterval time.Duration
		IngestIDFromPayload  bool

		MQTT MQTT
		Log  Log
	}

	// Sensor is the configuration of the sensor simulator.
	Sensor struct {
		UniqueID int
		Period   time.Duration

		// IDInPayload sends [id, speed] instead of [speed], matching an
		// aggregator run with INGEST_ID_FROM_PAYLOAD.
		IDInPayload bool

		MQTT MQTT
		Log  Log
	}

	// MQTT holds the broker connection settings.
	MQTT struct {
		Host           string
		Port           int
		ClientID       string
		Username       string
		Password       string
		KeepAlive      time.Duration
		SessionExpiry  time.Duration
		EmbeddedBroker bool
	}

	// Log holds the logging settings.
	Log struct {
		Level string
		File  string
	}

	// reader resolves keys from the environment, the optional env file and
	// the defaults, in that order, collecting the first error.
	reader struct {
		v   *viper.Viper
		err error
	}
)

// LoadAggregator reads the aggregator configuration. Unless DOCKER is set,
// variables are also read from envFile when it exists; the process
// environment takes precedence.
func LoadAggregator(envFile string) (*Aggregator, error) {
	r, err := newReader(envFile, map[string]any{
		"STORE":                  StorePostgres,
		"HTTP_ADDR":              "0.0.0.0:8080",
		"JAM_BROADCAST_INTERVAL": "PT5S",
		"INGEST_ID_FROM_PAYLOAD": false,
		"MQTT_HOST":              "mqtt",
		"MQTT_PORT":              1883,
		"MQTT_CLIENT_ID":         "aggregator",
		"MQTT_KEEP_ALIVE":        "PT15S",
		"MQTT_SESSION_EXPIRY":    "PT1H",
		"MQTT_EMBEDDED_BROKER":   false,
		"LOG_LEVEL":              "info",
	})
	if err != nil {
		return nil, err
	}

	c := &Aggregator{
		SensorNumber:         r.intRange("SENSOR_NUMBER", 1, MaxSensors),
		Store:                r.oneOf("STORE", StorePostgres, StoreMemory),
		HTTPAddr:             r.required("HTTP_ADDR"),
		TopologyFile:         r.v.GetString("TOPOLOGY_FILE"),
		JamBroadcastInterval: r.positive("JAM_BROADCAST_INTERVAL"),
		IngestIDFromPayload:  r.bool("INGEST_ID_FROM_PAYLOAD"),
		MQTT:                 r.mqtt(),
		Log:                  r.log(),
	}
	if c.Store == StorePostgres {
		c.DatabaseURL = r.required("DATABASE_URL")
	}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

// LoadSensor reads the sensor simulator configuration, like LoadAggregator.
func LoadSensor(envFile string) (*Sensor, error) {
	r, err := newReader(envFile, map[string]any{
		"SENSOR_PERIOD":          "PT24S",
		"INGEST_ID_FROM_PAYLOAD": false,
		"MQTT_HOST":              "mqtt",
		"MQTT_PORT":              1883,
		"MQTT_KEEP_ALIVE":        "PT120S",
		"MQTT_SESSION_EXPIRY":    "PT0S",
		"MQTT_EMBEDDED_BROKER":   false,
		"LOG_LEVEL":              "info",
	})
	if err != nil {
		return nil, err
	}

	c := &Sensor{
		UniqueID:    r.intRange("UNIQUE_ID", 0, MaxSensors-1),
		Period:      r.positive("SENSOR_PERIOD"),
		IDInPayload: r.bool("INGEST_ID_FROM_PAYLOAD"),
		MQTT:        r.mqtt(),
		Log:         r.log(),
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "sensor-" + strconv.Itoa(c.UniqueID)
	}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

func newReader(envFile string, defaults map[string]any) (*reader, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if _, docker := os.LookupEnv("DOCKER"); !docker && envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		err := v.ReadInConfig()
		var notFound viper.ConfigFileNotFoundError
		if err != nil &&
			!stderr.Is(err, fs.ErrNotExist) &&
			!stderr.As(err, &notFound) {
			return nil, &errors.Error{
				Message:       "cannot read env file",
				Kind:          errors.ConfigError,
				NestedError:   err,
				PropertyValue: envFile,
			}
		}
	}
	return &reader{v: v}, nil
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) mqtt() MQTT {
	return MQTT{
		Host:           r.required("MQTT_HOST"),
		Port:           r.intRange("MQTT_PORT", 1, 65535),
		ClientID:       r.v.GetString("MQTT_CLIENT_ID"),
		Username:       r.v.GetString("MQTT_USERNAME"),
		Password:       r.v.GetString("MQTT_PASSWORD"),
		KeepAlive:      r.duration("MQTT_KEEP_ALIVE"),
		SessionExpiry:  r.duration("MQTT_SESSION_EXPIRY"),
		EmbeddedBroker: r.bool("MQTT_EMBEDDED_BROKER"),
	}
}

func (r *reader) log() Log {
	return Log{
		Level: r.v.GetString("LOG_LEVEL"),
		File:  r.v.GetString("LOG_FILE"),
	}
}

func (r *reader) required(key string) string {
	val := strings.TrimSpace(r.v.GetString(key))
	if val == "" {
		r.fail(errors.Config(key, nil, "required variable not set"))
	}
	return val
}

func (r *reader) intRange(key string, lo, hi int) int {
	raw := r.required(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(errors.Config(key, raw, "not an integer"))
		return 0
	}
	if n < lo || n > hi {
		r.fail(errors.Config(
			key,
			n,
			"must be between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi),
		))
		return 0
	}
	return n
}

func (r *reader) bool(key string) bool {
	raw := r.v.GetString(key)
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(errors.Config(key, raw, "not a boolean"))
	}
	return b
}

func (r *reader) oneOf(key string, allowed ...string) string {
	val := strings.ToLower(r.required(key))
	for _, a := range allowed {
		if val == a {
			return val
		}
	}
	r.fail(errors.Config(
		key,
		val,
		"must be one of "+strings.Join(allowed, ", "),
	))
	return ""
}

// duration accepts ISO 8601 durations such as PT15S, Go durations such as
// 15s, or a bare number of seconds.
func (r *reader) duration(key string) time.Duration {
	raw := r.required(key)
	if raw == "" {
		return 0
	}
	d, err := ParseDuration(raw)
	if err != nil {
		r.fail(errors.Config(key, raw, err.Error()))
		return 0
	}
	return d
}

func (r *reader) positive(key string) time.Duration {
	d := r.duration(key)
	if d == 0 && r.err == nil {
		r.fail(errors.Config(key, d, "must be positive"))
	}
	return d
}

// ParseDuration parses an ISO 8601 duration, a Go duration or a whole number
// of seconds. Negative durations are rejected.
func ParseDuration(raw string) (time.Duration, error) {
	var d time.Duration
	if raw == "" {
		return 0, stderr.New("empty duration")
	}
	if iso, err := duration.Parse(raw); err == nil {
		d = iso.ToTimeDuration()
	} else if goDur, err := time.ParseDuration(raw); err == nil {
		d = goDur
	} else if secs, err := strconv.Atoi(raw); err == nil {
		d = time.Duration(secs) * time.Second
	} else {
		return 0, stderr.New("not a duration")
	}
	if d < 0 {
		return 0, stderr.New("negative duration")
	}
	return d, nil
}
