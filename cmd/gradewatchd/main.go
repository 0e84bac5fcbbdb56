package main

import (
	"database/sql"
	"flag"

	_ "modernc.org/sqlite"

	"gradewatch-backend/lib/configutil"
	"gradewatch-backend/lib/gradestore"
	"gradewatch-backend/lib/serviceutil"
	"gradewatch-backend/lib/telemetry"
	"gradewatch-backend/services/gradewatch"
)

func main() {
	configPath := flag.String("config", "config.json5", "Path to the daemon configuration.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	otel, err := telemetry.SetupFromEnv(ctx, "gradewatchd")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer otel.Shutdown(ctx)
	telemetry.InstrumentPerfStats(ctx)

	cfg, err := configutil.ReadConfig[Config](*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8300
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = "registry.json"
	}

	var store *gradestore.Store
	if cfg.DatabasePath != "" {
		db, err := sql.Open("sqlite", cfg.DatabasePath)
		if err != nil {
			serviceutil.Fatal("open database", err)
		}
		if _, err := db.ExecContext(ctx, gradestore.Schema); err != nil {
			serviceutil.Fatal("migrate database", err)
		}
		s := gradestore.NewStore(db)
		store = &s
	}

	service, err := gradewatch.NewService(gradewatch.Options{
		BrowserlessUrl: cfg.BrowserlessUrl,
		Students:       cfg.Students,
		RegistryPath:   cfg.RegistryPath,
		DebugDumpDir:   cfg.DebugHttpDir,
		Store:          store,
	})
	if err != nil {
		serviceutil.Fatal("init gradewatch", err)
	}

	go serviceutil.StartHttpServer(cfg.Port, service.Router(ctx))
	service.Run(ctx)
}
