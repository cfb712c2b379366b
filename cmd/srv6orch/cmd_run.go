package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/newtron-network/srv6orch/pkg/audit"
	"github.com/newtron-network/srv6orch/pkg/metrics"
	"github.com/newtron-network/srv6orch/pkg/sai"
	"github.com/newtron-network/srv6orch/pkg/sonic"
	"github.com/newtron-network/srv6orch/pkg/srv6"
	"github.com/newtron-network/srv6orch/pkg/util"
)

var (
	metricsAddr   string
	auditPath     string
	nodeName      string
	retryInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Consume APPL_DB and program ASIC_DB until interrupted",
	Long: `Run the engine against a switch.

One consumer per table pops APPL_DB notifications and applies them in
arrival order. Operations waiting on another table (a route whose segment
list has not arrived, a segment list still used by routes) are retried
until they succeed or are superseded.

Examples:
  srv6orch run
  srv6orch run --redis 127.0.0.1:6379 --encap-source 2001:db8::1
  srv6orch run --ssh-host leaf1 --ssh-user admin --ssh-pass YourPaSsWoRd`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if metricsAddr == "" {
			metricsAddr = userSettings.GetMetricsAddr()
		}
		if auditPath == "" {
			auditPath = userSettings.AuditLog
		}
		if nodeName == "" {
			nodeName, _ = os.Hostname()
		}

		addr, closeTunnel, err := redisEndpoint()
		if err != nil {
			return err
		}
		defer closeTunnel()

		store := sai.NewRedisStore(addr)
		if err := store.Connect(ctx); err != nil {
			return err
		}
		defer store.Close()

		appdb := sonic.NewAppDBClient(addr)
		if err := appdb.Connect(ctx); err != nil {
			return err
		}
		defer appdb.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector, err := metrics.NewCollector(reg)
		if err != nil {
			return err
		}

		opts := []srv6.Option{srv6.WithRecorder(collector)}
		if auditPath != "" {
			journal, err := audit.NewFileLogger(auditPath, audit.RotationConfig{
				MaxSize:    10 * 1024 * 1024, // 10MB
				MaxBackups: 10,
			})
			if err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			defer journal.Close()
			audit.SetDefaultLogger(journal)
			util.WithField("path", journal.Path()).Info("Journaling applied tasks")
			opts = append(opts, srv6.WithRecorder(&audit.Recorder{Node: nodeName, Source: "redis"}))
		}

		o, err := srv6.NewOrch(store, srv6.Config{EncapSource: encapSource, UnderlayRIF: underlayRIF}, opts...)
		if err != nil {
			return err
		}
		reg.MustRegister(metrics.NewStateCollector(o))

		return serve(ctx, appdb, o, metricsServer(metricsAddr, collector))
	},
}

func init() {
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address of /metrics (default :9108, \"off\" disables)")
	runCmd.Flags().StringVar(&auditPath, "audit-log", "", "Journal every applied task to this file")
	runCmd.Flags().StringVar(&nodeName, "node", "", "Node name recorded in the journal (default hostname)")
	runCmd.Flags().DurationVar(&retryInterval, "retry-interval", 0, "Interval between retries of deferred tasks (default 1s)")
	addEngineFlags(runCmd)
}

func metricsServer(addr string, collector *metrics.Collector) *http.Server {
	if addr == "" || addr == "off" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// serve runs one consumer per table and the metrics server until ctx is
// cancelled or one of them fails.
func serve(ctx context.Context, appdb *sonic.AppDBClient, o *srv6.Orch, srv *http.Server) error {
	log := util.WithOperation("run")
	g, gctx := errgroup.WithContext(ctx)

	for _, table := range srv6.Tables {
		consumer := appdb.Consumer(table)
		if retryInterval > 0 {
			consumer.SetRetryInterval(retryInterval)
		}
		g.Go(func() error {
			if err := consumer.Run(gctx, o.Apply); err != nil {
				return fmt.Errorf("%s: %w", consumer.Table(), err)
			}
			return nil
		})
	}

	if srv != nil {
		g.Go(func() error {
			log.WithField("addr", srv.Addr).Info("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Infof("Consuming %d tables", len(srv6.Tables))
	err := g.Wait()
	log.Infof("Stopped with %d SRv6 routes, %d local SIDs pending", o.Routes().Len(), o.Pending())
	return err
}
