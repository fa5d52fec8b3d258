package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kwarren/mailgate/internal/gateway"
	"github.com/kwarren/mailgate/internal/metrics"
	"github.com/kwarren/mailgate/internal/rpc"
)

// ServeCmd runs the gateway: newline-delimited JSON requests on stdin,
// responses on stdout, logs on stderr.
type ServeCmd struct {
	MetricsAddr string `help:"Expose Prometheus metrics on this address (overrides config)" name:"metrics-addr"`
}

func (c *ServeCmd) Run(cliCtx *Context) error {
	cfg, err := cliCtx.LoadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	met := metrics.NewDiscard()
	metricsAddr := cfg.MetricsAddr
	if c.MetricsAddr != "" {
		metricsAddr = c.MetricsAddr
	}
	if metricsAddr != "" {
		met = metrics.NewPrometheus()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				level.Error(cliCtx.Logger).Log("msg", "metrics listener failed", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
		level.Info(cliCtx.Logger).Log("msg", "metrics listening", "addr", metricsAddr)
	}

	gw := gateway.New(cfg, cliCtx.Logger, met)
	level.Info(cliCtx.Logger).Log("msg", "serving",
		"accounts", len(cfg.Accounts), "writes_enabled", cfg.WriteEnabled)

	return rpc.NewServer(gw, cliCtx.Logger).Serve(ctx, os.Stdin, os.Stdout)
}
