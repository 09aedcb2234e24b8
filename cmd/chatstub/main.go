package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/devserver"
)

// chatstub runs the development chat server and prints a ready-made bearer
// token per seeded user, so chatcli (or the portal frontend in dev mode) can
// connect immediately.
func main() {
	addr := flag.String("addr", ":8080", "listen address")
	secret := flag.String("secret", "", "token signing secret (default: built-in dev secret)")
	uploads := flag.String("uploads", "", "attachment directory (default: temp dir)")
	seed := flag.String("seed", "alice,bob", "comma-separated usernames to create")
	dev := flag.Bool("dev", true, "development logging")
	flag.Parse()

	_ = godotenv.Load()

	var zl *zap.Logger
	var err error
	if *dev {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	srv, err := devserver.New(devserver.Options{
		Secret:    *secret,
		UploadDir: *uploads,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalw("start devserver", "err", err)
	}
	defer srv.Close()

	for _, name := range strings.Split(*seed, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		u, err := srv.CreateUser(name)
		if err != nil {
			logger.Fatalw("seed user", "user", name, "err", err)
		}
		tok, err := srv.TokenFor(u.ID)
		if err != nil {
			logger.Fatalw("mint token", "user", name, "err", err)
		}
		fmt.Printf("user %-12s id=%d\n  CHAT_TOKEN=%s\n", u.Username, u.ID, tok)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infow("chatstub listening", "addr", *addr)
	if err := srv.Run(ctx, *addr); err != nil {
		logger.Fatalw("serve", "err", err)
	}
}
