package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gluk-w/claworc/sshdeck/internal/config"
	"github.com/gluk-w/claworc/sshdeck/internal/database"
	"github.com/gluk-w/claworc/sshdeck/internal/handlers"
	"github.com/gluk-w/claworc/sshdeck/internal/logging"
	"github.com/gluk-w/claworc/sshdeck/internal/middleware"
	"github.com/gluk-w/claworc/sshdeck/internal/sshaudit"
	"github.com/gluk-w/claworc/sshdeck/internal/sshclient"
	"github.com/gluk-w/claworc/sshdeck/internal/sshfiles"
	"github.com/gluk-w/claworc/sshdeck/internal/sshterminal"
)

func main() {
	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	sshaudit.InitGlobal(database.DB, config.Cfg.AuditRetentionDays)
	purgeCron, err := startAuditPurge(config.Cfg.AuditPurgeSchedule)
	if err != nil {
		log.Fatalf("Audit purge schedule: %v", err)
	}
	defer purgeCron.Stop()

	hostKeys, err := sshclient.HostKeyCallback(config.Cfg.KnownHostsPath)
	if err != nil {
		log.Fatalf("Known hosts: %v", err)
	}
	if config.Cfg.KnownHostsPath == "" {
		log.Printf("WARNING: SSHDECK_KNOWN_HOSTS_PATH not set, host keys are not verified")
	}

	mgr := sshterminal.NewSessionManager(sshterminal.ManagerConfig{
		Factory: sshclient.NewFactory(sshclient.Options{
			ConnectTimeout:    config.Cfg.ConnectTimeout,
			KeepaliveInterval: config.Cfg.KeepaliveInterval,
			HostKeyCallback:   hostKeys,
		}),
		ConnectTimeout:        config.Cfg.ConnectTimeout,
		TestConnectionTimeout: config.Cfg.TestConnectionTimeout,
		ScrollbackSize:        config.Cfg.ScrollbackBytes,
		RecordingDir:          config.Cfg.RecordingDir,
		BroadcastConcurrency:  config.Cfg.BroadcastConcurrency,
		ConnectLimiter: sshterminal.NewConnectLimiter(sshterminal.RateLimitConfig{
			MaxAttemptsPerMinute: config.Cfg.ConnectMaxAttempts,
			MaxConsecFailures:    config.Cfg.ConnectMaxFailures,
			BlockDuration:        config.Cfg.ConnectBlockDuration,
		}),
	})
	handlers.SessionMgr = mgr

	transferDir, err := sshfiles.OpenLocalDir(config.Cfg.TransferDir)
	if err != nil {
		log.Fatalf("Transfer dir: %v", err)
	}
	defer transferDir.Close()
	keyDir, err := sshfiles.OpenLocalDir(config.Cfg.KeyDir)
	if err != nil {
		log.Fatalf("Key dir: %v", err)
	}
	defer keyDir.Close()
	handlers.TransferDir = transferDir
	handlers.KeyDir = keyDir

	recorder := sshaudit.NewRecorder(sshaudit.GetAuditor(), func(id string) (sshterminal.Info, bool) {
		s, err := mgr.Session(id)
		if err != nil {
			return sshterminal.Info{}, false
		}
		return s.Info(), true
	})
	mgr.Subscribe(recorder.Listen)
	log.Printf("Session manager initialized (connect_timeout=%s, scrollback=%d bytes, recording=%q)",
		config.Cfg.ConnectTimeout, config.Cfg.ScrollbackBytes, config.Cfg.RecordingDir)

	allowList, err := middleware.ParseAllowedIPs(config.Cfg.AllowedIPs)
	if err != nil {
		log.Fatalf("Allowed IPs: %v", err)
	}
	if config.Cfg.APIToken == "" {
		log.Printf("WARNING: SSHDECK_API_TOKEN not set, API is unauthenticated")
	}

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: handlers.NewRouter(config.Cfg.APIToken, allowList),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Printf("Session manager shutdown: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
