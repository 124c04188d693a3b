package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/sjy-dv/quiver/cluster"
	"github.com/sjy-dv/quiver/config"
	"github.com/sjy-dv/quiver/dataset"
	"github.com/sjy-dv/quiver/dualtree"
	"github.com/sjy-dv/quiver/exchange"
	"github.com/sjy-dv/quiver/gateway"
	"github.com/sjy-dv/quiver/pkg/hyperrect"
	"github.com/sjy-dv/quiver/tree"
	"github.com/sjy-dv/quiver/worker"
)

func main() {
	flag.Parse()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg := config.Config
	if *config.RankFlag >= 0 {
		cfg.Rank = *config.RankFlag
	}
	if *config.PeersFlag != "" {
		cfg.Peers = strings.Split(*config.PeersFlag, ",")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("data dir create failed")
	}

	dirLock := flock.New(filepath.Join(cfg.DataDir, "quiver.lock"))
	locked, err := dirLock.TryLock()
	if err != nil || !locked {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).
			Msg("another process holds the data dir")
	}
	defer dirLock.Unlock()

	manifestDB, err := bolt.Open(filepath.Join(cfg.DataDir, "manifest.db"), 0o600, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("manifest store open failed")
	}
	defer manifestDB.Close()
	runID, err := writeRunManifest(manifestDB, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("run manifest write failed")
	}
	log.Info().Str("run", runID).Int("rank", cfg.Rank).Msg("quiver start")

	spill, err := badger.Open(
		badger.DefaultOptions(filepath.Join(cfg.DataDir, "spill")).WithLogger(nil))
	if err != nil {
		log.Fatal().Err(err).Msg("spill store open failed")
	}
	defer spill.Close()

	queryRows, refRows := loadRows(cfg)
	queryShard, queryCounts, err := dataset.Shard(queryRows, cfg.Rank, cfg.WorldSize())
	if err != nil {
		log.Fatal().Err(err).Msg("query shard failed")
	}
	refShard, refCounts, err := dataset.Shard(refRows, cfg.Rank, cfg.WorldSize())
	if err != nil {
		log.Fatal().Err(err).Msg("reference shard failed")
	}

	world, err := cluster.NewWorld(cfg.Rank, queryCounts, refCounts)
	if err != nil {
		log.Fatal().Err(err).Msg("world init failed")
	}
	queryTable, err := tree.BuildTable(cfg.Rank, queryShard, cfg.LeafSize)
	if err != nil {
		log.Fatal().Err(err).Msg("query tree build failed")
	}
	refTable, err := tree.BuildTable(cfg.Rank, refShard, cfg.LeafSize)
	if err != nil {
		log.Fatal().Err(err).Msg("reference tree build failed")
	}

	conn, err := cluster.NewConn(cfg.Rank, cfg.Peers[cfg.Rank], cfg.Exchange.TLSCertFile, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("cluster conn init failed")
	}
	defer conn.Close()
	for rank, addr := range cfg.Peers {
		if rank != cfg.Rank {
			conn.ProvisioningPeer(rank, addr)
		}
	}

	transport := exchange.NewGrpcTransport(conn, log.Logger)
	lis, err := net.Listen("tcp", cfg.Exchange.BindAddress)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Exchange.BindAddress).Msg("exchange listen failed")
	}
	go func() {
		if err := transport.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("exchange server failed")
		}
	}()

	ex := exchange.New(exchange.Options{
		Transport:       transport,
		ExtraHoldFactor: cfg.Exchange.ExtraHoldFactor,
		Spill:           spill,
	}, log.Logger)

	metric := hyperrect.NewEuclidean()
	localResult := tree.NewResultBlock(0, queryTable.N())

	queue := dualtree.NewTaskQueue(log.Logger)
	err = queue.Init(world, cfg.Exchange.MaxSubtreeSize, cfg.Exchange.DoLoadBalancing,
		queryTable, refTable, localResult, cfg.NumThreads, ex)
	if err != nil {
		log.Fatal().Err(err).Msg("task queue init failed")
	}

	gw := gateway.New(queue, log.Logger)
	go func() {
		if err := gw.Serve(cfg.Gateway.BindAddress); err != nil {
			log.Warn().Err(err).Msg("gateway stopped")
		}
	}()

	sched := cron.New()
	if cfg.Exchange.DoLoadBalancing && cfg.WorldSize() > 1 {
		neighbor := (cfg.Rank + 1) % cfg.WorldSize()
		sched.AddFunc(cfg.Exchange.LoadBalanceSpec, func() {
			if queue.IsEmpty() && !queue.CanTerminate() {
				ex.QueueLoadBalanceProbe(neighbor, queue.PrepareLoadBalanceRequest())
			}
		})
	}
	sched.AddFunc(cfg.Exchange.StatusDumpSpec, queue.Print)
	sched.Start()
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := worker.NewPool(queue, ex, metric, cfg.NumThreads, worker.PairCountKernel, log.Logger)
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("computation failed")
		} else {
			log.Info().Msg("computation complete")
			queue.Print()
		}
	case <-ctx.Done():
		log.Debug().Msg("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Debug().Msgf("info stable release >> %s", err.Error())
	}
	transport.Stop()
	log.Debug().Msg("shutdown complete")
}

func loadRows(cfg *config.ConfigMap) (query, ref [][]float32) {
	ds := cfg.Dataset
	var err error
	if ds.MinioEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		src := dataset.MinioSource{
			Endpoint:  ds.MinioEndpoint,
			AccessKey: ds.MinioAccessKey,
			SecretKey: ds.MinioSecretKey,
			UseSSL:    ds.MinioUseSSL,
			Bucket:    ds.MinioBucket,
		}
		src.Object = ds.QueryObject
		if query, err = dataset.LoadMinio(ctx, src, ds.Dim); err != nil {
			log.Fatal().Err(err).Msg("query dataset fetch failed")
		}
		src.Object = ds.RefObject
		if ref, err = dataset.LoadMinio(ctx, src, ds.Dim); err != nil {
			log.Fatal().Err(err).Msg("reference dataset fetch failed")
		}
		return query, ref
	}
	if query, err = dataset.LoadFile(ds.QueryPath, ds.Dim); err != nil {
		log.Fatal().Err(err).Msg("query dataset load failed")
	}
	if ref, err = dataset.LoadFile(ds.ReferencePath, ds.Dim); err != nil {
		log.Fatal().Err(err).Msg("reference dataset load failed")
	}
	return query, ref
}
