package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"shellcache/internal/shellcache"
)

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Run the caching proxy",
	Long: `
The "serve" command registers the configured cache generation (install, then
activate) and serves pages until interrupted.

EXIT STATUS
===========

Exit status is 0 on a clean shutdown, and non-zero if the configuration could
not be loaded or the listener failed. A failed app shell install is logged and
does not stop the server.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	cmdRoot.AddCommand(cmdServe)
}

func runServe(ctx context.Context) error {
	cfg, err := shellcache.LoadConfig(configPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	logger, err := shellcache.NewLogger(cfg, os.Stderr)
	if err != nil {
		return errors.Wrap(err, "init logger")
	}

	svc, err := shellcache.NewService(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "init service")
	}
	defer svc.Close()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}

	srv := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = svc.Start(ctx)

	go func() {
		logger.Infof("shellcache listening on %s, origin=%s, cache=%s", addr, cfg.Server.Origin, cfg.Cache.Name())
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Wrap(srv.Shutdown(shutdownCtx), "shutdown")
}
