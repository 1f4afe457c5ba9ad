// Package ingest implements an optional ingestion adapter: NATS plus
// line-protocol-encoded samples, standing in for the OSGi declarative-
// services configuration-storage modules this engine does not carry over.
package ingest

import (
	"context"
	"strconv"
	"sync"
	"time"

	lineprotocol "github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/nats-io/nats.go"

	"github.com/aurora-historian/engine/internal/log"
	"github.com/aurora-historian/engine/pkg/sample"
)

// Sink is implemented by pkg/channel.Facade.
type Sink interface {
	UpdateLong(v sample.Sample) error
	UpdateDouble(v sample.Sample) error
}

// Subscription names one NATS subject to drain as line-protocol samples.
type Subscription struct {
	SubscribeTo string
	ConfigIDTag string // tag key identifying which configurationId a line belongs to, defaulting to the measurement name
}

// Receiver subscribes to a set of subjects and feeds decoded samples to
// per-stream Sinks, resolved by configuration id.
type Receiver struct {
	Conn     *nats.Conn
	Workers  int
	Resolve  func(configID string) (Sink, sample.Kind, bool)
}

// Run subscribes to every subscription and blocks until ctx is cancelled,
// splitting decode work across a worker pool when Workers > 1.
func (r *Receiver) Run(ctx context.Context, subs []Subscription) error {
	if r.Conn == nil {
		log.Warn("ingest: NATS client not configured, skipping")
		return nil
	}

	type inbound struct {
		data        []byte
		configIDTag string
	}

	var wg sync.WaitGroup
	msgs := make(chan inbound, max(1, r.Workers)*2)
	var subscriptions []*nats.Subscription

	decode := func(m inbound) {
		if err := r.decodeLine(m.data, m.configIDTag); err != nil {
			log.Errorf("ingest: %v", err)
		}
	}

	for _, s := range subs {
		s := s
		if r.Workers > 1 {
			wg.Add(r.Workers)
			for i := 0; i < r.Workers; i++ {
				go func() {
					defer wg.Done()
					for m := range msgs {
						decode(m)
					}
				}()
			}
			sub, err := r.Conn.Subscribe(s.SubscribeTo, func(m *nats.Msg) {
				select {
				case msgs <- inbound{data: m.Data, configIDTag: s.ConfigIDTag}:
				case <-ctx.Done():
				}
			})
			if err != nil {
				return err
			}
			subscriptions = append(subscriptions, sub)
		} else {
			sub, err := r.Conn.Subscribe(s.SubscribeTo, func(m *nats.Msg) {
				decode(inbound{data: m.Data, configIDTag: s.ConfigIDTag})
			})
			if err != nil {
				return err
			}
			subscriptions = append(subscriptions, sub)
		}
		log.Infof("ingest: subscribed to %q", s.SubscribeTo)
	}

	<-ctx.Done()
	for _, sub := range subscriptions {
		_ = sub.Unsubscribe()
	}
	close(msgs)
	wg.Wait()
	return nil
}

// decodeLine decodes one line-protocol message: measurement = configurationId
// (unless configIDTag names a tag to take it from instead), field "value" =
// the sample payload, optional fields "quality", "manual", "base-value-count".
func (r *Receiver) decodeLine(data []byte, configIDTag string) error {
	dec := lineprotocol.NewDecoderWithBytes(data)
	for dec.Next() {
		measurement, err := dec.Measurement()
		if err != nil {
			return err
		}
		configID := string(measurement)

		for {
			key, val, err := dec.NextTag()
			if err != nil {
				return err
			}
			if key == nil {
				break
			}
			if configIDTag != "" && string(key) == configIDTag {
				configID = string(val)
			}
		}

		quality, manual := 1.0, 0.0
		var baseValueCount uint64 = 1
		var value sample.Sample
		haveValue := false

		for {
			key, val, err := dec.NextField()
			if err != nil {
				return err
			}
			if key == nil {
				break
			}
			switch string(key) {
			case "value":
				haveValue = true
				switch val.Kind() {
				case lineprotocol.Int:
					value = sample.Sample{Kind: sample.KindLong, Long: val.IntV()}
				case lineprotocol.Float:
					value = sample.Sample{Kind: sample.KindDouble, Double: val.FloatV()}
				}
			case "quality":
				quality = parseFloatField(val)
			case "manual":
				manual = parseFloatField(val)
			case "base-value-count":
				baseValueCount = uint64(parseFloatField(val))
			}
		}
		if !haveValue {
			continue
		}

		t, err := dec.Time(lineprotocol.Nanosecond, time.Now())
		if err != nil {
			return err
		}
		value.Time = t.UnixMilli()
		value.Quality = quality
		value.Manual = manual
		value.BaseValueCount = baseValueCount

		sink, kind, ok := r.Resolve(configID)
		if !ok {
			continue
		}
		value = value.ConvertTo(kind)
		if kind == sample.KindDouble {
			if err := sink.UpdateDouble(value); err != nil {
				log.Warnf("ingest: update failed for %s: %v", configID, err)
			}
		} else {
			if err := sink.UpdateLong(value); err != nil {
				log.Warnf("ingest: update failed for %s: %v", configID, err)
			}
		}
	}
	return nil
}

func parseFloatField(v lineprotocol.Value) float64 {
	switch v.Kind() {
	case lineprotocol.Float:
		return v.FloatV()
	case lineprotocol.Int:
		return float64(v.IntV())
	case lineprotocol.String:
		f, _ := strconv.ParseFloat(v.StringV(), 64)
		return f
	default:
		return 0
	}
}
