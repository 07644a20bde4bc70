package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strconv"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zkensemble/discovery"
	"github.com/ryandielhenn/zkensemble/internal/telemetry"
	"github.com/ryandielhenn/zkensemble/pkg/kv"
	"github.com/ryandielhenn/zkensemble/pkg/leader"
	"github.com/ryandielhenn/zkensemble/pkg/node"
	"github.com/ryandielhenn/zkensemble/pkg/registry"
	"github.com/ryandielhenn/zkensemble/pkg/relation"
	"github.com/ryandielhenn/zkensemble/pkg/workload"
	"github.com/ryandielhenn/zkensemble/pkg/zkdiag"
)

var (
	// GitCommit is the commit hash that built the binary.
	GitCommit string
	// Version is the version.
	Version = "dev"
)

func main() {
	v, version, err := setupConfiguration(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error while parsing configuration: %v\n", err)
		os.Exit(2)
	}
	if version {
		fmt.Printf("Version: %s - Commit: %s\n", Version, GitCommit)
		return
	}

	lg, err := newLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error while building logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	if err := run(v, lg); err != nil {
		lg.Fatal("server failed", zap.Error(err))
	}
}

func run(v *viper.Viper, lg *zap.Logger) error {
	telemetry.SetBuildInfo(Version, GitCommit)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	unit := v.GetString(ParamUnitName)
	tun := tunablesFromViper(v)
	if err := tun.Validate(); err != nil {
		return err
	}

	container := workload.NewLocal(v.GetString(ParamWorkloadRoot), lg.Named("workload"))
	zkHost := node.NormalizeHostPort("127.0.0.1", strconv.Itoa(tun.ClientPort))
	cfg := node.Config{
		Unit:                unit,
		Command:             v.GetString(ParamWorkloadCommand),
		Tunables:            tun,
		Standalone:          v.GetBool(ParamStandalone),
		RestartOnChangeOnly: v.GetBool(ParamRestartOnChangeOnly),
		Container:           container,
		Binding:             bindingFromViper(v),
		ZK:                  zkdiag.NewDialer([]string{zkHost}, 10*time.Second, lg),
		Logger:              lg,
	}

	triggers := make(chan node.Trigger, 16)
	notify := func(t node.Trigger) { node.Notify(ctx, triggers, t) }

	if !cfg.Standalone {
		lg.Info("[Boot] creating etcd client", zap.Strings("endpoints", v.GetStringSlice(ParamEtcdEndpoints)))
		cli, err := discovery.NewClient(v.GetStringSlice(ParamEtcdEndpoints), v.GetDuration(ParamEtcdDialTimeout), lg)
		if err != nil {
			return err
		}
		defer cli.Close()

		wctx, wcancel := context.WithTimeout(ctx, v.GetDuration(ParamEtcdDialTimeout))
		err = discovery.WaitReady(wctx, cli)
		wcancel()
		if err != nil {
			return err
		}

		prefix := path.Join(v.GetString(ParamEtcdPrefix), v.GetString(ParamAppName))
		bag := kv.NewEtcd(cli, lg)
		book := registry.New(bag, prefix, unit, lg)
		pub := relation.NewPublisher(bag, prefix, v.GetString(ParamRelationName), v.GetString(ParamAppName), lg)
		election := leader.NewElection(cli, prefix, unit, v.GetInt(ParamElectionTTL), lg)

		cfg.Book = book
		cfg.Publisher = pub
		cfg.Elector = election

		g.Go(func() error { return election.Run(ctx) })
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-election.Changes():
					if election.Role().IsLeader() {
						notify(node.LeaderElected)
					}
				}
			}
		})
		g.Go(func() error {
			book.WatchPeers(ctx, func(peers map[string]string) {
				lg.Debug("[WatchPeers Callback]", zap.Any("peers", peers))
				notify(node.PeersChanged)
			})
			return nil
		})
		g.Go(func() error {
			pub.WatchConsumers(ctx, func() { notify(node.ClientRelationChanged) })
			return nil
		})
	}

	n := node.NewNode(cfg)

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			lg.Info("configuration file changed", zap.String("file", e.Name))
			n.SetTunables(tunablesFromViper(v))
			notify(node.ConfigChanged)
		})
		v.WatchConfig()
	}

	g.Go(func() error { return n.Run(ctx, triggers) })
	// this process owns the supervisor, so the workload is ready right away
	g.Go(func() error {
		notify(node.WorkloadReady)
		notify(node.PeersChanged)
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("/status", telemetry.Instrument("status", http.HandlerFunc(n.Info)))
	mux.Handle("/config", telemetry.Instrument("config", http.HandlerFunc(n.Config)))
	mux.Handle("/actions/dump-data", telemetry.Instrument("dump-data", http.HandlerFunc(n.DumpData)))
	mux.Handle("/actions/seed-data", telemetry.Instrument("seed-data", http.HandlerFunc(n.SeedData)))
	mux.Handle("/metrics", telemetry.MetricsHandler())

	srv := &http.Server{Addr: v.GetString(ParamListenAddress), Handler: mux}
	g.Go(func() error {
		lg.Info("zkensemble node listening", zap.String("addr", srv.Addr), zap.String("unit", unit))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
		return container.Stop(sctx, node.DefaultServiceName)
	})

	return g.Wait()
}
