// ejdb2-stress hammers a database over HTTP from concurrent workers while
// taking periodic online backups and verifying them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	ejdb2 "ejdb2.dev/ejdb2go"
	mbp "ejdb2.dev/ejdb2go/internal/mainboilerplate"
)

// Config is the ejdb2-stress configuration.
type Config struct {
	DB struct {
		Path    string `long:"path" env:"PATH" default:"stress_test.db" description:"Database file, optionally as a DSN"`
		Library string `long:"library" env:"LIBRARY" description:"Path of the libejdb2 shared library"`
	} `group:"Database" namespace:"db" env-namespace:"DB"`

	Stress struct {
		Addr           string        `long:"addr" env:"ADDR" default:":8080" description:"Address the stress HTTP endpoints are served on"`
		Workers        int           `long:"workers" env:"WORKERS" default:"10" description:"Number of concurrent stress workers"`
		Duration       time.Duration `long:"duration" env:"DURATION" description:"Stop after this long. Runs until interrupted if zero"`
		BackupInterval time.Duration `long:"backup-interval" env:"BACKUP_INTERVAL" default:"1s" description:"Interval between online backups"`
		VerifyInterval time.Duration `long:"verify-interval" env:"VERIFY_INTERVAL" default:"30s" description:"Interval between verifications of the latest backup"`
		BackupDir      string        `long:"backup-dir" env:"BACKUP_DIR" description:"Directory backups are written to. Defaults to a temporary directory"`
	} `group:"Stress" namespace:"stress" env-namespace:"STRESS"`

	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func main() {
	var cfg Config
	var parser = flags.NewParser(&cfg, flags.Default)
	mbp.MustParseArgs(parser)

	mbp.InitLog(cfg.Log)
	mbp.InitDiagnostics(cfg.Diagnostics)
	mbp.Must(ejdb2.InitLibrary(ejdb2.LibraryConfig{Path: cfg.DB.Library}), "failed to load libejdb2")

	opts, err := ejdb2.ParseDSN(cfg.DB.Path)
	mbp.Must(err, "invalid database path")
	opts.Truncate = true
	db, err := ejdb2.OpenOptions(opts)
	mbp.Must(err, "failed to open database", "path", opts.Path)
	defer func() { mbp.Must(db.Close(), "failed to close database") }()

	var backupDir = cfg.Stress.BackupDir
	if backupDir == "" {
		backupDir, err = os.MkdirTemp("", "ejdb2-stress-")
		mbp.Must(err, "failed to create backup directory")
		defer os.RemoveAll(backupDir)
	}

	var s = newStresser(db, backupDir)
	mbp.Must(s.prepare(), "failed to prepare database")

	log.WithFields(log.Fields{
		"path":           db.Path(),
		"library":        ejdb2.LibraryPath(),
		"backupInterval": cfg.Stress.BackupInterval,
		"verifyInterval": cfg.Stress.VerifyInterval,
	}).Info("database initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Stress.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Stress.Duration)
		defer cancel()
	}

	var server = &http.Server{Addr: cfg.Stress.Addr, Handler: s.mux()}

	go func() {
		var sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			log.Info("shutting down")
		case <-ctx.Done():
		}
		cancel()
		_ = server.Shutdown(context.Background())
	}()

	go s.every(ctx, "backup", cfg.Stress.BackupInterval, s.backup)
	go s.every(ctx, "verify", cfg.Stress.VerifyInterval, s.verify)
	go s.every(ctx, "report", 5*time.Second, func() error { s.report(); return nil })

	log.WithFields(log.Fields{"addr": cfg.Stress.Addr, "workers": cfg.Stress.Workers}).Info("serving stress endpoints")
	var baseURL = fmt.Sprintf("http://%s", localAddr(cfg.Stress.Addr))
	for i := 0; i < cfg.Stress.Workers; i++ {
		go s.worker(ctx, i, baseURL)
	}

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.WithField("err", err).Fatal("server error")
	}
	s.report()
	if s.stats.Errors.Load() != 0 {
		os.Exit(1)
	}
}

func localAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
