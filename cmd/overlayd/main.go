package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/you/liveoverlay/internal/auth"
	"github.com/you/liveoverlay/internal/config"
	"github.com/you/liveoverlay/internal/giftlog"
	"github.com/you/liveoverlay/internal/hub"
	"github.com/you/liveoverlay/internal/router"
	"github.com/you/liveoverlay/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("overlayd: .env: %v", err)
	}

	var (
		versionFlag bool
		listenAddr  string
		gatewayURL  string
		username    string
		authToken   string
		tokenFile   string
		ledgerPath  string
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&listenAddr, "listen-addr", "", "Fan-out listen address (e.g., :21213)")
	flag.StringVar(&gatewayURL, "gateway-url", "", "Upstream gateway WebSocket URL")
	flag.StringVar(&username, "username", "", "Platform username to auto-connect to")
	flag.StringVar(&authToken, "auth-token", "", "Upstream auth token")
	flag.StringVar(&tokenFile, "auth-token-file", "", "Path to file containing the upstream auth token")
	flag.StringVar(&ledgerPath, "gift-ledger", "", "Path to the SQLite gift ledger (empty disables archiving)")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"overlayd version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()
	if overrides["listen-addr"] {
		cfg.ListenAddr = strings.TrimSpace(listenAddr)
	}
	if overrides["gateway-url"] {
		cfg.Gateway.URL = strings.TrimSpace(gatewayURL)
	}
	if overrides["username"] {
		cfg.Gateway.Username = strings.TrimSpace(username)
		cfg.Gateway.AutoConnect = cfg.Gateway.Username != ""
	}
	if overrides["auth-token"] {
		cfg.Auth.Token = strings.TrimSpace(authToken)
	}
	if overrides["auth-token-file"] {
		cfg.Auth.TokenFile = strings.TrimSpace(tokenFile)
	}
	if overrides["gift-ledger"] {
		cfg.Ledger.Path = strings.TrimSpace(ledgerPath)
	}

	log.Printf("overlayd: config %s", cfg.RedactedJSON())

	var loader *auth.FileLoader
	if cfg.Auth.TokenFile != "" {
		loader = auth.NewFileLoader(cfg.Auth.TokenFile)
	}
	tokens := auth.NewSource(cfg.Auth.Token, loader)
	if tokens.Token() == "" {
		log.Printf("overlayd: WARNING: no upstream auth token configured; the session may be unstable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("overlayd: received %s, shutting down", sig)
		cancel()
	}()

	var (
		ledger   *giftlog.Ledger
		buffered *giftlog.BufferedWriter
	)
	if cfg.LedgerEnabled() {
		l, err := giftlog.Open(cfg.Ledger.Path)
		if err != nil {
			log.Fatalf("overlayd: open gift ledger: %v", err)
		}
		ledger = l
		if err := ledger.Ping(); err != nil {
			log.Fatalf("overlayd: ping gift ledger: %v", err)
		}
		defer func() {
			if err := ledger.Close(); err != nil {
				log.Printf("overlayd: closing gift ledger: %v", err)
			}
		}()
	}

	// wire the broadcast pipeline back to front: server/hub, then the
	// optional ledger tee, then the router that feeds it
	rt := &routerHolder{}
	api := hub.NewServer(rt, hub.Options{
		Addr:           cfg.ListenAddr,
		RateLimitRPS:   cfg.HTTP.RateRPS,
		RateLimitBurst: cfg.HTTP.RateBurst,
		EnableMetrics:  cfg.HTTP.Metrics,
		Leaderboard:    leaderboardStore(ledger),
	})

	var out router.Broadcaster = api.Hub()
	if ledger != nil {
		var writer giftlog.Writer = ledger
		if cfg.Batch() > 1 || cfg.FlushInterval() > 0 {
			buffered = giftlog.NewBufferedWriter(ledger, giftlog.BufferedOptions{
				BatchSize:     cfg.Batch(),
				FlushInterval: cfg.FlushInterval(),
			})
			writer = buffered
		}
		out = giftlog.Tee(api.Hub(), writer)
	}
	if buffered != nil {
		defer func() {
			if err := buffered.Close(); err != nil {
				log.Printf("overlayd: flush gift ledger: %v", err)
			}
		}()
	}

	rt.Router = router.New(router.Config{
		GatewayURL:    cfg.Gateway.URL,
		DialTimeout:   cfg.DialTimeout(),
		TokenProvider: tokens.Token,
		OnSuppressed: func(namespace string) {
			api.Metrics().IncSuppressed(namespace)
		},
	}, out)

	go func() {
		if err := api.Start(); err != nil {
			log.Fatalf("overlayd: fan-out server: %v", err)
		}
	}()

	if cfg.Auth.TokenFile != "" {
		onChange := func() {
			changed, err := tokens.Reload()
			if err != nil {
				if !errors.Is(err, auth.ErrEmptyToken) {
					slog.Error("overlayd: token reload", "err", err)
				}
				return
			}
			if !changed {
				return
			}
			slog.Info("overlayd: auth token rotated")
			if err := rt.Reconnect(context.Background()); err == nil {
				slog.Info("overlayd: reconnected with rotated token")
			}
		}
		if err := auth.Watch(onChange, cfg.Auth.TokenFile); err != nil {
			slog.Error("overlayd: watch token file", "err", err)
		}
	}

	if cfg.Gateway.AutoConnect {
		go func() {
			timer := time.NewTimer(cfg.ConnectDelay())
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			if err := rt.Connect(ctx, cfg.Gateway.Username); err != nil {
				log.Printf("overlayd: auto-connect %s: %v", cfg.Gateway.Username, err)
			}
		}()
	}

	<-ctx.Done()

	rt.Disconnect()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("overlayd: fan-out shutdown: %v", err)
	}
	cancelShutdown()

	log.Printf("overlayd: shutdown complete")
}

// routerHolder lets the hub server be constructed before the router that
// needs the server's hub as its broadcaster.
type routerHolder struct {
	*router.Router
}

func (h *routerHolder) Connect(ctx context.Context, username string) error {
	if h.Router == nil {
		return errors.New("router not ready")
	}
	return h.Router.Connect(ctx, username)
}

func (h *routerHolder) Disconnect() {
	if h.Router != nil {
		h.Router.Disconnect()
	}
}

func (h *routerHolder) Status() (bool, string) {
	if h.Router == nil {
		return false, ""
	}
	return h.Router.Status()
}

func (h *routerHolder) Reconnect(ctx context.Context) error {
	if h.Router == nil {
		return errors.New("router not ready")
	}
	return h.Router.Reconnect(ctx)
}

func leaderboardStore(l *giftlog.Ledger) hub.LeaderboardStore {
	if l == nil {
		return nil
	}
	return l
}
