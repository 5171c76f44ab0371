// lobby - local lobby client for classic RTS games
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/config"
	"github.com/DoyleJ11/rts-lobby/internal/filehash"
	"github.com/DoyleJ11/rts-lobby/internal/gameproc"
	"github.com/DoyleJ11/rts-lobby/internal/httpapi"
	"github.com/DoyleJ11/rts-lobby/internal/hub"
	"github.com/DoyleJ11/rts-lobby/internal/lobby"
	"github.com/DoyleJ11/rts-lobby/internal/maprepo"
	"github.com/DoyleJ11/rts-lobby/internal/maps"
	"github.com/DoyleJ11/rts-lobby/internal/mapshare"
	"github.com/DoyleJ11/rts-lobby/internal/storage"
	"github.com/DoyleJ11/rts-lobby/internal/transport"
	"github.com/DoyleJ11/rts-lobby/internal/tunnel"
)

var version = "dev"

const defaultConfigPath = "lobby.yml"

func main() {
	fs := flag.NewFlagSet("lobby", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to config file")
	envFile := fs.String("env", ".env", "optional env file with overrides")
	embedNATS := fs.Bool("embed-nats", false, "run a NATS server in-process for LAN play")
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("lobby %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, *embedNATS, log); err != nil {
		log.Fatal("lobby stopped", zap.Error(err))
	}
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

func run(cfg *config.Config, embedNATS bool, log *zap.Logger) error {
	log.Info("lobby starting", zap.String("version", version), zap.String("player", cfg.Player.Name))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	natsURL := cfg.Transport.NATSURL
	if embedNATS {
		ns, err := startNATS()
		if err != nil {
			return err
		}
		defer ns.Shutdown()
		natsURL = ns.ClientURL()
		log.Info("embedded nats running", zap.String("url", natsURL))
	}

	conn, err := transport.DialNATS(natsURL, cfg.Player.Name, cfg.Transport.SubjectPrefix, log.Named("transport"))
	if err != nil {
		return err
	}
	defer conn.Close()

	catalog := maps.NewCatalog(cfg.Maps.GameModes, cfg.Maps.CustomDir)
	if cfg.Maps.OfficialDir != "" {
		if err := catalog.LoadDir(cfg.Maps.OfficialDir, true); err != nil {
			return fmt.Errorf("loading official maps: %w", err)
		}
	}
	if cfg.Maps.CustomDir != "" {
		if err := catalog.LoadDir(cfg.Maps.CustomDir, false); err != nil {
			return fmt.Errorf("loading custom maps: %w", err)
		}
	}

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer store.Close()
	log.Info("database initialized", zap.String("path", cfg.Database.Path))

	tunnels := tunnel.NewCoordinator(cfg.Tunnel.MasterURL, nil, log.Named("tunnel"))
	if cfg.Tunnel.MasterURL != "" {
		refreshTunnels(ctx, tunnels, log)
		go func() {
			ticker := time.NewTicker(cfg.Tunnel.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					refreshTunnels(ctx, tunnels, log)
				}
			}
		}()
	} else {
		log.Warn("no tunnel master configured, games need a direct connection")
	}
	if cfg.Tunnel.Pinned != "" {
		if err := pinTunnel(tunnels, cfg.Tunnel.Pinned); err != nil {
			log.Warn("pinning tunnel", zap.String("tunnel", cfg.Tunnel.Pinned), zap.Error(err))
		}
	}

	deps := lobby.Deps{
		Catalog: catalog,
		Tunnels: tunnels,
		Game: &gameproc.Runner{
			Executable: cfg.Game.Executable,
			Args:       cfg.Game.Args,
			Dir:        cfg.Game.Dir,
			SpawnFile:  cfg.Game.SpawnFile,
			Log:        log.Named("game"),
		},
		Verifier: filehash.Calculator{Root: cfg.Game.Dir, Files: cfg.Game.VerifiedFiles},
		History:  store,
	}
	if cfg.MapSharing.Enabled {
		repo, err := maprepo.NewClient(cfg.MapSharing.RepositoryURL, &http.Client{Timeout: cfg.MapSharing.Timeout})
		if err != nil {
			return err
		}
		deps.Repo = repo
	}

	base := lobby.Config{
		Rules:            cfg.EngineRules(),
		Options:          cfg.GameOptions(),
		PlayerLimit:      cfg.Lobby.PlayerLimit,
		ProtocolRevision: cfg.Game.ProtocolRevision,
		GameVersion:      cfg.Game.Version,
		MapSharing: mapshare.Options{
			Enabled:      cfg.MapSharing.Enabled,
			AutoDownload: cfg.MapSharing.AutoDownload,
			Timeout:      cfg.MapSharing.Timeout,
		},
		AdvertDelay:       cfg.Lobby.AdvertDelay,
		AdvertInterval:    cfg.Lobby.AdvertInterval,
		AdvertAccelerated: cfg.Lobby.AdvertAccelerated,
	}
	if len(cfg.Maps.GameModes) > 0 {
		base.GameMode = cfg.Maps.GameModes[0].Name
	}

	h := hub.NewHub(ctx, conn, base, deps, log.Named("hub"))

	addr := net.JoinHostPort(cfg.Server.ListenAddr, strconv.Itoa(cfg.Server.HTTPPort))
	srv := &http.Server{
		Addr: addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:     h,
			Maps:    catalog,
			Tunnels: tunnels,
			History: store,
			Log:     log.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("control api listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-h.Done():
		log.Warn("hub stopped, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}

	select {
	case h.Inbox() <- hub.ShutdownHub{}:
	case <-h.Done():
	}
	<-h.Done()
	log.Info("shutdown complete")
	return nil
}

func startNATS() (*server.Server, error) {
	ns, err := server.NewServer(&server.Options{Host: "0.0.0.0", Port: 4222, NoSigs: true})
	if err != nil {
		return nil, fmt.Errorf("starting embedded nats: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, errors.New("embedded nats did not become ready")
	}
	return ns, nil
}

// refreshTunnels reloads the tunnel list and measures it. A tunnel is picked
// automatically when none is selected or the selected one filled up; host
// lobbies announce the switch on their next advertisement tick.
func refreshTunnels(ctx context.Context, c *tunnel.Coordinator, log *zap.Logger) {
	if err := c.Refresh(ctx); err != nil {
		log.Warn("refreshing tunnels", zap.Error(err))
		return
	}
	if err := c.PingAll(ctx); err != nil {
		log.Debug("pinging tunnels", zap.Error(err))
	}
	if _, ok := c.Current(); !ok {
		if t, ok := c.AutoSelect(); ok {
			log.Info("selected tunnel", zap.String("tunnel", t.Key()), zap.String("name", t.Name))
		}
	}
}

func pinTunnel(c *tunnel.Coordinator, hostport string) error {
	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return err
	}
	_, err = c.Pin(host, port)
	return err
}
