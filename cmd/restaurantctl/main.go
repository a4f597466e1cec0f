// Package main запускает операторскую утилиту ресторанного сервиса.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mmeshcher/restaurant-system/internal/cli"
	"github.com/mmeshcher/restaurant-system/internal/repository"
	"github.com/mmeshcher/restaurant-system/internal/service"
)

func open(dsn string, logger *zap.Logger) (cli.Operations, func() error, error) {
	repo, err := repository.NewPostgresRepository(dsn)
	if err != nil {
		return nil, nil, err
	}
	svc := service.NewService(repo, nil, nil, nil, logger, service.Options{})
	return svc, svc.Close, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
