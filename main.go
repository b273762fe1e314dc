package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chartvision/internal/ai"
	"chartvision/internal/api"
	"chartvision/internal/monitor"
	"chartvision/internal/risk"
	"chartvision/internal/session"
	"chartvision/pkg/config"
	"chartvision/pkg/db"
	"chartvision/pkg/i18n"
	"chartvision/pkg/sysid"
)

const buildVersion = "5.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}

	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port)

	instanceID := sysid.InstanceID()
	log.Printf(i18n.Get("InstanceIdentified"), instanceID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence is optional; the gateway degrades to in-memory risk
	// metrics and no signal audit when the DB cannot open.
	var database *db.Database
	if cfg.DBPath != "" {
		log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)
		database, err = db.New(cfg.DBPath)
		if err != nil {
			log.Printf(i18n.Get("DBInitFailed"), err)
			database = nil
		}
	}
	if database == nil {
		log.Println(i18n.Get("DBDisabled"))
	} else {
		defer database.Close()
	}

	riskCfg := risk.DefaultConfig()
	if cfg.RiskConfigPath != "" {
		if loaded, err := risk.LoadConfig(cfg.RiskConfigPath); err != nil {
			log.Printf(i18n.Get("RiskConfigLoadFailed"), err)
		} else {
			riskCfg = loaded
		}
	}
	var riskDB *sql.DB
	if database != nil {
		riskDB = database.DB
	}
	riskMgr := risk.NewManager(riskCfg, riskDB)
	log.Printf(i18n.Get("RiskConfigLoaded"), riskCfg.MaxDailyLoss)

	sessions := session.NewManager()
	go sessions.Sweep(ctx)
	log.Printf(i18n.Get("SessionSweeperStarted"), session.SweepInterval)

	metrics := monitor.NewSystemMetrics()
	log.Println(i18n.Get("MetricsInit"))

	var analyzer api.Analyzer
	if cfg.GeminiAPIKey != "" {
		client := ai.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel)
		log.Printf(i18n.Get("GeminiConfigured"), client.Model())
		analyzer = client
	} else {
		log.Println(i18n.Get("GeminiNotConfigured"))
	}

	server := api.NewServer(sessions, riskMgr, metrics, api.Options{
		DB:        database,
		AIClient:  analyzer,
		LTPMaxAge: time.Duration(cfg.LTPMaxAgeSec) * time.Second,
		JWTSecret: cfg.JWTSecret,
		Meta: api.SystemMeta{
			Version:    buildVersion,
			InstanceID: instanceID,
		},
	})

	go func() {
		log.Printf(i18n.Get("ServerListening"), cfg.Port)
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	sessions.Close(shutdownCtx)
	log.Println(i18n.Get("SessionsClosed"))
}
