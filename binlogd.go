package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/maxpert/binlogd/admin"
	"github.com/maxpert/binlogd/cfg"
	"github.com/maxpert/binlogd/event"
	"github.com/maxpert/binlogd/filter"
	"github.com/maxpert/binlogd/jsonb"
	"github.com/maxpert/binlogd/logfile"
	"github.com/maxpert/binlogd/pipeline"
	"github.com/maxpert/binlogd/publisher"
	"github.com/maxpert/binlogd/telemetry"
	"github.com/maxpert/binlogd/transform"

	// Sink types and payload formats register themselves
	_ "github.com/maxpert/binlogd/publisher/sink"
	_ "github.com/maxpert/binlogd/publisher/transformer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	flag.Parse()

	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stderr
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint32("server_id", cfg.Config.ServerID).
		Logger()
	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("binlogd - MySQL binlog writer")
	telemetry.InitializeTelemetry()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("binlogd stopped with error")
	}
}

func run() error {
	conf := cfg.Config

	// Checkpoint registry
	var registry *publisher.Registry
	var checkpoints admin.CheckpointSource
	if conf.Checkpoint.Enabled {
		var err error
		registry, err = publisher.NewRegistry(publisher.RegistryConfig{
			Dir:         conf.CheckpointDir(),
			Retention:   conf.Checkpoint.RetentionCount,
			ServerID:    conf.ServerID,
			SID:         conf.SID(),
			SinkConfigs: conf.Sinks,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize checkpoint registry: %w", err)
		}
		defer registry.Stop()
		checkpoints = registry

		if last, ok, err := registry.Last(); err == nil && ok {
			log.Info().
				Str("check_point", last.CheckPoint).
				Int64("tx_seq", last.TxSeq).
				Str("file", last.File).
				Uint32("pos", last.EndPos).
				Msg("Resuming after checkpoint")
		}
	}

	// Archiver for sealed files
	var archiver *logfile.Archiver
	if conf.Archive.Enabled {
		var err error
		archiver, err = logfile.NewArchiver(conf.ArchiveDir(), conf.Archive.Level)
		if err != nil {
			return fmt.Errorf("failed to initialize archiver: %w", err)
		}
		defer archiver.Close()
	}

	p, err := newPipeline(conf, registry, archiver)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	p.Start()
	if registry != nil {
		if err := registry.Start(); err != nil {
			return err
		}
	}

	// Admin HTTP server
	if conf.Admin.Enabled {
		addr := net.JoinHostPort(conf.Admin.BindAddress, strconv.Itoa(conf.Admin.Port))
		handlers := admin.NewHandlers(p, p.Files(), checkpoints)
		srv, err := admin.NewServer(addr, admin.NewRouter(handlers, conf.Admin.AuthToken))
		if err != nil {
			return err
		}
		srv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(ctx); err != nil {
				log.Warn().Err(err).Msg("Admin server shutdown failed")
			}
		}()
	}

	input, err := openInput(*cfg.InputFlag)
	if err != nil {
		return err
	}
	defer input.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ingestDone := make(chan error, 1)
	go func() {
		ingestDone <- ingest(ctx, p, input)
	}()

	var ingestErr error
	select {
	case ingestErr = <-ingestDone:
		if ingestErr != nil {
			log.Error().Err(ingestErr).Msg("Record stream failed")
		} else {
			log.Info().Msg("Record stream ended")
		}
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("pipeline shutdown: %w", err)
	}
	return ingestErr
}

func newPipeline(conf *cfg.Configuration, registry *publisher.Registry, archiver *logfile.Archiver) (*pipeline.Pipeline, error) {
	syncMode, err := logfile.ParseSyncMode(conf.Binlog.SyncMode)
	if err != nil {
		return nil, err
	}
	checksum, err := event.ParseChecksumAlg(conf.Binlog.Checksum)
	if err != nil {
		return nil, err
	}
	tc := conf.Transform
	tables, err := filter.NewGlobFilter(tc.Tables, tc.Databases, tc.Exclude)
	if err != nil {
		return nil, err
	}

	pc := pipeline.Config{
		Dir:           conf.BinlogDir(),
		Prefix:        conf.Binlog.Prefix,
		MaxFileSize:   conf.Binlog.MaxFileSize,
		RotateReserve: conf.Binlog.RotateReserve,
		Sync:          syncMode,
		QueueCapacity: conf.Pipeline.QueueCapacity,
		BatchSize:     conf.Pipeline.BatchSize,
		Workers:       conf.Pipeline.Workers,
		PollInterval:  time.Duration(conf.Pipeline.PollIntervalMS) * time.Millisecond,
		BatchLinger:   time.Duration(conf.Pipeline.BatchLingerMS) * time.Millisecond,
		Transform: transform.Options{
			Codec: &event.Codec{
				ServerID:      conf.ServerID,
				ServerVersion: conf.Binlog.ServerVersion,
				Checksum:      checksum,
				Documents:     jsonb.Encoder{},
			},
			Filter: tables,
			SID:    conf.SID(),
			Charset: event.Charset{
				Client:     tc.CharsetClient,
				Connection: tc.CollationConn,
				Server:     tc.CollationSrv,
			},
			CollationDB:  tc.CollationDB,
			SQLMode:      tc.SQLMode,
			TimeZone:     tc.TimeZone,
			FullMetadata: tc.FullMetadata,
			CacheSize:    tc.CacheSize,
		},
	}
	if registry != nil {
		pc.OnCommit = registry.AppendCommits
	}
	if archiver != nil {
		pc.OnSeal = archiver.Enqueue
	}
	return pipeline.New(pc)
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

// ingest submits every frame of r until EOF, a bad frame or ctx ends.
func ingest(ctx context.Context, p *pipeline.Pipeline, r io.Reader) error {
	frames := newFrameReader(r)
	var count uint64
	for {
		payload, isDDL, err := frames.next()
		if errors.Is(err, io.EOF) {
			log.Info().Uint64("frames", count).Msg("Submitted all record frames")
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := p.Submit(ctx, payload, isDDL); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, pipeline.ErrStopped) {
				return nil
			}
			return err
		}
		count++
	}
}
