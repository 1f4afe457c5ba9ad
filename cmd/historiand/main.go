// Command historiand wires the storage engine's components into a running
// process: load config, build the manager, a multiplexed NATIVE stream and
// an AVERAGE pipeline level for one built-in "demo" stream, register NATS
// ingestion, and schedule retention maintenance. The AVERAGE level is
// restored from and saved to its checkpoint but is not fed by ingestion.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/nats-io/nats.go"

	"github.com/aurora-historian/engine/internal/config"
	"github.com/aurora-historian/engine/internal/ingest"
	"github.com/aurora-historian/engine/internal/log"
	"github.com/aurora-historian/engine/internal/manager"
	"github.com/aurora-historian/engine/internal/multiplex"
	"github.com/aurora-historian/engine/internal/naming"
	"github.com/aurora-historian/engine/internal/pipeline"
	"github.com/aurora-historian/engine/internal/scheduler"
	"github.com/aurora-historian/engine/pkg/calc"
	"github.com/aurora-historian/engine/pkg/channel"
	"github.com/aurora-historian/engine/pkg/sample"
)

func main() {
	root := flag.String("root", "./data", "storage root for shard files")
	configPath := flag.String("config", "./engine.json", "path to the JSON engine configuration")
	natsURL := flag.String("nats-url", "", "NATS server URL; empty disables ingestion")
	flag.Parse()

	cfg, err := config.LoadEngineConfig(*configPath)
	if err != nil {
		log.Errorf("historiand: loading config: %v", err)
		os.Exit(1)
	}
	log.SetLevel(cfg.LogLevel)

	factory := naming.New(*root)
	shardWidth := cfg.ShardWidthMs
	if shardWidth <= 0 {
		shardWidth = 24 * 60 * 60 * 1000
	}
	mgr, err := manager.New(factory, shardWidth, cfg.KeepOpenLevels, 256)
	if err != nil {
		log.Errorf("historiand: building manager: %v", err)
		os.Exit(1)
	}

	facade := channel.New()

	// A single NATIVE level for "demo" wired up to demonstrate the chain;
	// real deployments register one such chain per configured stream.
	nativeMeta := sample.Metadata{
		ConfigurationID:   "demo",
		CalculationMethod: sample.MethodNative,
		DetailLevelID:     0,
		DataType:          sample.DataTypeDouble,
		ProposedDataAge:   int64(7 * 24 * 60 * 60 * 1000),
	}
	nativeStream := multiplex.New(mgr, nativeMeta)
	facade.Register(nativeStream)

	avgMeta := nativeMeta
	avgMeta.CalculationMethod = sample.MethodAverage
	avgMeta.DetailLevelID = 1
	avgStream := multiplex.New(mgr, avgMeta)

	avgProvider := calc.ForMethod(sample.MethodAverage, 60_000)
	avgLevel := pipeline.New(1, avgProvider, avgStream, sample.KindDouble, 0)
	if cfg.Checkpoints.Directory != "" {
		_ = avgLevel.ReadCheckpoint(filepath.Join(cfg.Checkpoints.Directory, "level-1.avro"))
	}

	sched, err := scheduler.New()
	if err != nil {
		log.Errorf("historiand: building scheduler: %v", err)
		os.Exit(1)
	}
	_ = sched.RegisterCleanup(gocron.DurationJob(time.Hour), func() {
		if err := nativeStream.CleanupRelicts(); err != nil {
			log.Warnf("historiand: cleanup failed: %v", err)
		}
	})
	sched.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL)
		if err != nil {
			log.Warnf("historiand: NATS connect failed: %v", err)
		} else {
			recv := &ingest.Receiver{
				Conn:    nc,
				Workers: cfg.NumWorkers,
				Resolve: func(configID string) (ingest.Sink, sample.Kind, bool) {
					if configID != "demo" {
						return nil, sample.KindUnknown, false
					}
					return facade, sample.KindDouble, true
				},
			}
			subs := make([]ingest.Subscription, 0, len(cfg.NatsSubscriptions))
			for _, s := range cfg.NatsSubscriptions {
				subs = append(subs, ingest.Subscription{SubscribeTo: s.SubscribeTo, ConfigIDTag: s.ConfigIDTag})
			}
			go func() {
				if err := recv.Run(ctx, subs); err != nil {
					log.Warnf("historiand: ingestion stopped: %v", err)
				}
			}()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cancel()
	if cfg.Checkpoints.Directory != "" {
		if err := avgLevel.WriteCheckpoint(filepath.Join(cfg.Checkpoints.Directory, "level-1.avro")); err != nil {
			log.Warnf("historiand: checkpoint write failed: %v", err)
		}
	}
	_ = sched.Stop()
}
