// Package config loads the engine's two configuration layers: the
// settings.xml data-file-pool description and the JSON engine
// configuration validated against engineConfigSchema.
package config

import (
	"encoding/json"
	"encoding/xml"
	"os"
	"strconv"
	"time"

	"github.com/aurora-historian/engine/internal/aurerr"
)

// TimeUnit enumerates the settings.xml <unit> values.
type TimeUnit string

const (
	Nanoseconds  TimeUnit = "NANOSECONDS"
	Microseconds TimeUnit = "MICROSECONDS"
	Milliseconds TimeUnit = "MILLISECONDS"
	Seconds      TimeUnit = "SECONDS"
	Minutes      TimeUnit = "MINUTES"
	Hours        TimeUnit = "HOURS"
	Days         TimeUnit = "DAYS"
)

// Duration converts one unit-count pair to a time.Duration.
func (u TimeUnit) Duration(count int64) time.Duration {
	switch u {
	case Nanoseconds:
		return time.Duration(count)
	case Microseconds:
		return time.Duration(count) * time.Microsecond
	case Milliseconds:
		return time.Duration(count) * time.Millisecond
	case Seconds:
		return time.Duration(count) * time.Second
	case Minutes:
		return time.Duration(count) * time.Minute
	case Hours:
		return time.Duration(count) * time.Hour
	case Days:
		return time.Duration(count) * 24 * time.Hour
	default:
		return time.Duration(count) * time.Millisecond
	}
}

// DataFilePoolSettings is the data-file-pool flavor of settings.xml:
// a Java-Properties-style XML document describing one shard's width.
type DataFilePoolSettings struct {
	Time    int64
	Unit    TimeUnit
	Count   int64
	Version int
}

// properties mirrors the <properties><entry key="...">...</entry></properties>
// shape; stdlib encoding/xml is used here because no XML-handling library
// appears anywhere in the retrieved corpus (see DESIGN.md).
type properties struct {
	XMLName xml.Name `xml:"properties"`
	Entries []entry  `xml:"entry"`
}

type entry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// LoadDataFilePoolSettings parses a settings.xml file at path.
func LoadDataFilePoolSettings(path string) (DataFilePoolSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return DataFilePoolSettings{}, aurerr.New(aurerr.KindIoFailure, "config.LoadDataFilePoolSettings", err)
	}

	var props properties
	if err := xml.Unmarshal(raw, &props); err != nil {
		return DataFilePoolSettings{}, aurerr.New(aurerr.KindInvalidArgument, "config.LoadDataFilePoolSettings", err)
	}

	s := DataFilePoolSettings{Version: 1, Unit: Milliseconds}
	for _, e := range props.Entries {
		switch e.Key {
		case "time":
			n, perr := strconv.ParseInt(e.Value, 10, 64)
			if perr != nil {
				return DataFilePoolSettings{}, aurerr.New(aurerr.KindInvalidArgument, "config.LoadDataFilePoolSettings", perr)
			}
			s.Time = n
		case "unit":
			s.Unit = TimeUnit(e.Value)
		case "count":
			n, perr := strconv.ParseInt(e.Value, 10, 64)
			if perr != nil {
				return DataFilePoolSettings{}, aurerr.New(aurerr.KindInvalidArgument, "config.LoadDataFilePoolSettings", perr)
			}
			s.Count = n
		case "version":
			n, perr := strconv.Atoi(e.Value)
			if perr != nil {
				return DataFilePoolSettings{}, aurerr.New(aurerr.KindInvalidArgument, "config.LoadDataFilePoolSettings", perr)
			}
			s.Version = n
		}
	}
	return s, nil
}

// EngineConfig is the parsed, validated JSON engine configuration.
type EngineConfig struct {
	NumWorkers       int             `json:"num-workers"`
	ShardWidthMs     int64           `json:"shard-width-ms"`
	KeepOpenLevels   int64           `json:"keep-open-levels"`
	Checkpoints      CheckpointConfig `json:"checkpoints"`
	Retention        string          `json:"retention"`
	MemoryCapMB      int             `json:"memory-cap-mb"`
	LogLevel         string          `json:"log-level"`
	NatsSubscriptions []NatsSubscription `json:"nats-subscriptions"`
}

type CheckpointConfig struct {
	Directory string `json:"directory"`
	Interval  string `json:"interval"`
}

type NatsSubscription struct {
	SubscribeTo string `json:"subscribe-to"`
	ConfigIDTag string `json:"config-id-tag"`
}

// LoadEngineConfig reads, validates, and parses the JSON engine
// configuration at path.
func LoadEngineConfig(path string) (EngineConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, aurerr.New(aurerr.KindIoFailure, "config.LoadEngineConfig", err)
	}
	if err := Validate(raw); err != nil {
		return EngineConfig{}, err
	}

	var cfg EngineConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return EngineConfig{}, aurerr.New(aurerr.KindInvalidArgument, "config.LoadEngineConfig", err)
	}
	return cfg, nil
}
