package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"safe-by-design/server/internal/config"
	"safe-by-design/server/internal/content"
	"safe-by-design/server/internal/debrief"
	"safe-by-design/server/internal/interfaces"
	"safe-by-design/server/internal/logger"
	"safe-by-design/server/internal/session"
	"safe-by-design/server/internal/storage"
	"safe-by-design/server/internal/web"
)

var rootCmd = &cobra.Command{
	Use:   "sbd-server",
	Short: "Safe by Design facilitation server",
	Long: `Runs the Safe by Design maternity-service game: teams spend a per-cycle
budget on service decisions over six cycles, the server scores each cycle
deterministically from the game's scenario seed, and the facilitator receives
debrief prompts drawn from what happened.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(simulateCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SBD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "configs/config.yaml", "config file")
	rootCmd.PersistentFlags().String("content", "", "directory with decisions/briefs/questions/events YAML (embedded tables when empty)")
	rootCmd.PersistentFlags().String("log-mode", "", "development or production (overrides config)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("content", rootCmd.PersistentFlags().Lookup("content"))
	_ = viper.BindPFlag("log-mode", rootCmd.PersistentFlags().Lookup("log-mode"))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if mode := viper.GetString("log-mode"); mode != "" {
		cfg.Logging.Mode = mode
	}
	return cfg, nil
}

func loadContent() (*content.Library, error) {
	if dir := viper.GetString("content"); dir != "" {
		return content.LoadDir(dir)
	}
	return content.Load()
}

func thresholds(cfg *config.Config) (debrief.Thresholds, error) {
	th, err := debrief.DefaultThresholds().WithOverrides(cfg.Debrief.Thresholds)
	if err != nil {
		return debrief.Thresholds{}, fmt.Errorf("debrief.thresholds: %w", err)
	}
	return th, nil
}

func openRepository(cfg *config.Config, log *logger.Logger) (interfaces.GameRepository, error) {
	db := cfg.Database
	switch db.Driver {
	case "mysql":
		return storage.NewMySQLStore(db.MySQL, cfg.Logging.GormLevel)
	case "sqlite":
		if db.SQLite.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(db.SQLite.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		return storage.NewSQLiteStore(db.SQLite.Path, cfg.Logging.GormLevel)
	default:
		log.Warn("using in-memory game store; games are lost on restart")
		return storage.NewMemoryStore(), nil
	}
}

// openCoordination returns the resolution guard and recent event log. Redis
// backs both when enabled and reachable; otherwise they live in memory.
func openCoordination(cfg *config.Config, log *logger.Logger) (interfaces.ResolutionGuard, interfaces.EventLog, func()) {
	rc := cfg.Database.Redis
	if rc.Enabled {
		redisStore, err := storage.NewRedisStore(rc, log)
		if err == nil {
			log.Info("redis connected", "host", rc.Host, "port", rc.Port)
			return redisStore, redisStore, func() { _ = redisStore.Close() }
		}
		log.Warn("redis unavailable, falling back to in-memory guard and event log", "error", err)
	}
	return storage.NewMemoryGuard(), storage.NewMemoryEventLog(rc.EventLogSize), func() {}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logging.Mode)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			defer log.Sync()

			lib, err := loadContent()
			if err != nil {
				return err
			}
			th, err := thresholds(cfg)
			if err != nil {
				return err
			}

			repo, err := openRepository(cfg, log)
			if err != nil {
				return err
			}
			defer repo.Close()
			log.Info("game store ready", "driver", cfg.Database.Driver)

			guard, events, closeCoordination := openCoordination(cfg, log)
			defer closeCoordination()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hub := web.NewHub(log)
			go hub.Run(ctx)

			store := content.NewStore(lib)
			manager := session.NewManager(
				repo,
				guard,
				web.NewBroadcaster(hub, events, log),
				store,
				session.RulesFromConfig(cfg.Game),
				log,
				session.WithThresholds(th),
			)
			go reloadOnHangup(ctx, store, log)

			addr := viper.GetString("addr")
			if addr == "" {
				addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			}
			handlers := web.NewHandlers(manager, hub, events, log)
			server := &http.Server{
				Addr:         addr,
				Handler:      web.NewRouter(handlers, cfg.Server.ClientURL),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("server starting", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
			case <-ctx.Done():
			}

			log.Info("server shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error("server shutdown error", "error", err)
			}
			log.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.host and server.port)")
	_ = viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	return cmd
}

// reloadOnHangup re-reads the content directory on SIGHUP. Embedded tables
// cannot change, so nothing happens without --content.
func reloadOnHangup(ctx context.Context, store *content.Store, log *logger.Logger) {
	dir := viper.GetString("content")
	if dir == "" {
		return
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := store.Reload(dir); err != nil {
				log.Error("content reload failed", "dir", dir, "error", err)
				continue
			}
			log.Info("content reloaded", "dir", dir)
		}
	}
}
