package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ninzstore/storefront/config"
	"github.com/ninzstore/storefront/internal/app"
	"github.com/ninzstore/storefront/internal/auth"
	"github.com/ninzstore/storefront/internal/storeapi"
	"github.com/ninzstore/storefront/internal/webserver"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	h        = flag.Bool("h", false, "help usage")
	conffile = flag.String("c", "", "config yaml file")
	initdb   = flag.Bool("initdb", false, "drop and recreate all tables")
	token    = flag.String("token", "", "print a token for id,username,email,role and exit")
	tokenTTL = flag.Duration("token-ttl", 24*time.Hour, "lifetime of the token printed by -token")
)

func main() {
	flag.Parse()

	if *h {
		flag.Usage()
		return
	}

	cfg := config.LoadConfig(*conffile)

	if *token != "" {
		if err := printToken(cfg.Web.Secret, *token, *tokenTTL); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initdb {
		application.InitDb()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	webserver.Init(application)
	storeapi.Init()

	// the queue outlives the signal so the notifier can settle in-flight jobs,
	// Release closes it
	application.StartQueue(context.Background())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return webserver.Listen(gctx)
	})
	g.Go(func() error {
		return application.RunNotifier(gctx)
	})
	if err := g.Wait(); err != nil {
		zap.L().Error("storefront stopped", zap.Error(err))
		_ = zap.L().Sync()
		os.Exit(1)
	}
	zap.L().Info("storefront stopped")
}

func printToken(secret, identity string, ttl time.Duration) error {
	parts := strings.Split(identity, ",")
	if len(parts) != 4 {
		return fmt.Errorf("token identity must be id,username,email,role")
	}
	id := auth.Identity{
		ID:       strings.TrimSpace(parts[0]),
		Username: strings.TrimSpace(parts[1]),
		Email:    strings.TrimSpace(parts[2]),
		Role:     strings.TrimSpace(parts[3]),
	}
	if id.Role != auth.RoleAdmin && id.Role != auth.RoleUser {
		return fmt.Errorf("role must be %s or %s", auth.RoleAdmin, auth.RoleUser)
	}
	tok, err := auth.IssueToken(secret, id, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
