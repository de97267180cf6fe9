// Command sqlpage starts the HTTP server that renders .sql files under a
// web root as pages: it loads configuration, opens the database pool,
// applies pending migrations, and serves requests until the process is
// signalled to stop.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/SimonWaldherr/sqlpagego/internal/config"
	"github.com/SimonWaldherr/sqlpagego/internal/db"
	"github.com/SimonWaldherr/sqlpagego/internal/functions"
	"github.com/SimonWaldherr/sqlpagego/internal/migrate"
	"github.com/SimonWaldherr/sqlpagego/internal/request"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

func main() {
	configDir := flag.String("config-dir", config.ConfigurationDirectory(), "directory holding sqlpage.json/sqlpage.yaml, on_connect.sql, and migrations/")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("sqlpage: loading configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("sqlpage: opening database: %v", err)
	}
	defer pool.Close()

	migrationsDir := filepath.Join(*configDir, config.MigrationsDir)
	ran, err := migrate.Apply(ctx, pool.DB, pool.Dialect, migrationsDir)
	if err != nil {
		log.Fatalf("sqlpage: applying migrations: %v", err)
	}
	for _, m := range ran {
		log.Printf("sqlpage: applied migration %s", m.Name)
	}

	funcs := functions.New(cfg)
	coordinator := request.New(cfg, pool, funcs)

	addr := listenAddr(cfg)
	srv := &http.Server{
		Addr:              addr,
		Handler:           coordinator,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("sqlpage: listening on %s (web root %s, %s)", addr, cfg.WebRoot, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("sqlpage: %v", err)
		}
	}()

	waitForShutdown(srv)
}

// listenAddr combines listen_on and port into a net.Listen-style address,
// the way sqlpage's own config.listen_on/port pair does.
func listenAddr(cfg *config.Config) string {
	return net.JoinHostPort(cfg.ListenOn, strconv.Itoa(cfg.Port))
}

func waitForShutdown(srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("sqlpage: graceful shutdown failed: %v", err)
	}
}
