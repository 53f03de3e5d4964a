package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type serveOptions struct {
	interval      time.Duration
	listen        string
	webhookSecret string
	webhookPath   string
	withHistory   bool
}

// serve runs sync all every interval and serves metrics and the GitHub
// webhook until ctx is cancelled
func (p *project) serve(ctx context.Context, opts serveOptions) error {
	if opts.interval <= 0 {
		return errors.New("sync interval must be positive")
	}

	// bind before the first sync run so a busy port fails right away
	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		return fmt.Errorf("unable to listen on %s err:%w", opts.listen, err)
	}

	server := &http.Server{
		Handler:           p.serveMux(ctx, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		p.log.Info("starting web server", "addr", ln.Addr().String())
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			p.log.Error("unable to shutdown web server", "err", err)
		}
	}()

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for {
		if err := p.syncAll(ctx, opts.withHistory); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// a failed run is retried on next tick
			p.log.Error("sync run failed", "err", err)
		}

		select {
		case <-ctx.Done():
			p.log.Info("shutting down")
			return nil
		case err, ok := <-serverErr:
			if ok {
				return err
			}
			return nil
		case <-ticker.C:
		}
	}
}

func (p *project) serveMux(ctx context.Context, opts serveOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	if opts.webhookSecret == "" {
		p.log.Info("webhook secret not set, webhook endpoint disabled")
		return mux
	}

	mux.Handle(opts.webhookPath, &GithubWebhookHandler{
		org:    p.conf.OrgLogin,
		secret: opts.webhookSecret,
		log:    p.log.With("handler", "webhook"),
		syncRepo: func(name string) {
			err := p.syncOne(ctx, name, opts.withHistory)
			switch {
			case errors.Is(err, errNotCached):
				p.log.Debug("ignoring push event of repo not in repo list", "repo", name)
			case err != nil:
				p.log.Error("unable to process push event", "repo", name, "err", err)
			default:
				p.log.Info("repo synced by push event", "repo", name)
			}
		},
	})
	return mux
}
