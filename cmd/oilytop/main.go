package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/oilytop/server/internal/broadcast"
	"github.com/oilytop/server/internal/config"
	"github.com/oilytop/server/internal/data"
	"github.com/oilytop/server/internal/handler"
	gamenet "github.com/oilytop/server/internal/net"
	"github.com/oilytop/server/internal/persist"
	"github.com/oilytop/server/internal/session"
	"github.com/oilytop/server/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, serverID int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            OilyTop  v0.1.0                \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m       即時多人連線 · Go 遊戲伺服器        \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(編號: %d)\033[0m\n\n", serverName, serverID)
}

func printSection(title string) {
	// Use display width for CJK characters (each CJK char = 2 columns)
	displayWidth := 0
	for _, r := range title {
		if r > 0x7F {
			displayWidth += 2
		} else {
			displayWidth++
		}
	}
	lineLen := 46 - displayWidth - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printWarn(msg string) {
	fmt.Printf("  \033[33m!\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m➤\033[0m %s\n", msg)
}

// ── Logger ─────────────────────────────────────────────────────────

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	// File logging with rotation when a path is configured.
	if cfg.File != "" {
		ws := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
		})
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		var enc zapcore.Encoder
		if cfg.Format == "json" {
			enc = zapcore.NewJSONEncoder(encCfg)
		} else {
			enc = zapcore.NewConsoleEncoder(encCfg)
		}
		return zap.New(zapcore.NewCore(enc, ws, level)), nil
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// ── Main wiring ────────────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("OILYTOP_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = config.Defaults()
		cfg.Server.StartTime = time.Now().Unix()
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.ID)

	// 3. Static data
	printSection("資料載入")
	spawnTable, err := data.LoadSpawnTable(cfg.World.SpawnFile)
	if err != nil {
		spawnTable = data.DefaultSpawnTable()
		printWarn(fmt.Sprintf("出生點設定載入失敗，使用預設範圍 (%v)", err))
	} else {
		printOK(fmt.Sprintf("出生區域 %d 筆", spawnTable.Count()))
	}

	store := world.NewStore(world.Config{
		Width:      cfg.World.Width,
		Height:     cfg.World.Height,
		MaxNameLen: cfg.World.MaxNameLen,
	}, spawnTable)

	// 4. Player store collaborator — optional; the server degrades to
	// memory-only when the database is off or unreachable.
	printSection("資料庫")
	var (
		db       *persist.DB
		saver    *persist.Saver
		profiles map[string]persist.PlayerRow
	)
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err = persist.NewDB(ctx, cfg.Database, log)
		if err == nil {
			err = persist.RunMigrations(ctx, db.Pool)
		}
		if err != nil {
			if db != nil {
				db.Close()
				db = nil
			}
			printWarn(fmt.Sprintf("資料庫不可用，改為純記憶體模式 (%v)", err))
			log.Warn("資料庫不可用，玩家進度不會保存", zap.Error(err))
		} else {
			printOK("PostgreSQL 連線成功，遷移完成")
			repo := persist.NewPlayerRepo(db)
			saver = persist.NewSaver(repo, cfg.Database.SaveQueueSize, log)

			rows, err := repo.LoadAll(ctx)
			if err != nil {
				printWarn(fmt.Sprintf("玩家記錄載入失敗 (%v)", err))
			} else {
				profiles = make(map[string]persist.PlayerRow, len(rows))
				for _, row := range rows {
					profiles[row.Name] = row
				}
				printOK(fmt.Sprintf("玩家記錄 %d 筆", len(rows)))
			}
		}
		cancel()
	} else {
		printWarn("資料庫已停用（純記憶體模式）")
	}
	fmt.Println()

	// 5. Session manager + broadcast engine + dispatcher
	mgr := session.NewManager(store, session.Config{
		HeartbeatTimeout: cfg.Network.HeartbeatTimeout,
		SweepInterval:    cfg.Network.SweepInterval,
	}, log)
	engine := broadcast.NewEngine(mgr, cfg.Network.SaturationLimit, log)
	mgr.SetBroadcast(engine)
	if saver != nil {
		mgr.SetSaver(saver)
	}

	deps := &handler.Deps{
		World:     store,
		Sessions:  mgr,
		Broadcast: engine,
		Config:    cfg,
		Log:       log,
		Profiles:  profiles,
	}
	reg := handler.NewRegistry(deps)
	handler.RegisterAll(reg)
	mgr.SetDispatcher(reg.Dispatch)

	// 6. Transport listener
	srv := gamenet.NewServer(gamenet.Config{
		BindAddress:  cfg.Network.BindAddress,
		WSPath:       cfg.Network.WSPath,
		OutQueueSize: cfg.Network.OutQueueSize,
		ReadLimit:    cfg.Network.ReadLimit,
		WriteTimeout: cfg.Network.WriteTimeout,
	}, mgr, log)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("net server: %w", err)
	}

	// 7. Background liveness sweep + periodic checkpoint
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go mgr.SweepLoop(bgCtx)
	if saver != nil {
		go func() {
			ticker := time.NewTicker(cfg.Database.CheckpointInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					saver.SaveAll(store.Snapshot())
				case <-bgCtx.Done():
					return
				}
			}
		}()
	}

	printSection("伺服器就緒")
	printReady(fmt.Sprintf("監聽位址 %s  路徑 %s", srv.Addr().String(), cfg.Network.WSPath))
	printReady(fmt.Sprintf("心跳逾時 %s  掃描間隔 %s", cfg.Network.HeartbeatTimeout, cfg.Network.SweepInterval))
	fmt.Println()

	// 8. Block until shutdown is requested
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdownCh
	log.Info("收到關閉信號", zap.String("signal", sig.String()))

	// 9. Shutdown: stop accepting, close every session through the normal
	// termination path (removal + leave broadcast), then release resources.
	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	mgr.TerminateAll()
	if saver != nil {
		saver.Close()
	}
	if db != nil {
		db.Close()
	}
	log.Info("伺服器已停止")
	return nil
}
