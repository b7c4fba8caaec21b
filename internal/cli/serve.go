package cli

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/matzehuels/aipgraph/pkg/observability/prom"
	"github.com/matzehuels/aipgraph/pkg/server"
)

// shutdownTimeout bounds the drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve queries and node reads and writes over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()
			if addr == "" {
				addr = b.cfg.Server.Addr
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			prom.New(reg).Install()

			s := server.New(b.executor(false), b.loader(nil), c.Logger)
			s.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
			return listen(ctx, &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}, c)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default [server] addr)")
	return cmd
}

// listen serves until ctx is cancelled, then drains in-flight requests.
func listen(ctx context.Context, srv *http.Server, c *CLI) error {
	errc := make(chan error, 1)
	go func() {
		c.Logger.Info("listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	c.Logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
