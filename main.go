package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomsync/internal/api"
	"roomsync/internal/commands"
	"roomsync/internal/config"
	"roomsync/internal/filestore"
	"roomsync/internal/http"
	"roomsync/internal/realtime"
	"roomsync/internal/storage"
	"roomsync/internal/ws"

	"golang.org/x/sync/errgroup"
)

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("roomsync", flag.ContinueOnError)
	dump := fs.String("dump", "", "Print the node at the given path (e.g. rooms/<id>/meta) and exit")
	createRoom := fs.String("create-room", "", "Create a public room with the given name and exit")
	flagged := fs.Bool("flagged", false, "List flagged messages and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	switch {
	case *dump != "":
		return commands.Dump(*dump, cfg)
	case *createRoom != "":
		return commands.CreatePublicRoom(*createRoom, cfg)
	case *flagged:
		return commands.Flagged(cfg)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	files, err := filestore.NewLocalFileStore(cfg.FilesDir)
	if err != nil {
		return err
	}

	db := realtime.New(bbStorage)
	adminConn := db.Connect()
	defer func() { _ = adminConn.Close() }()

	wsServer := ws.NewServer(func() ws.BackendConn { return db.Connect() })

	adminServer := http.NewAdminServer(adminConn, cfg.AdminAddr)
	apiServer := http.NewAPIServer(wsServer, api.NewFilesHandler(files, bbStorage), cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
