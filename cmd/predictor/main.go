package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/civic-classifier/internal/app"
	"github.com/Brownie44l1/civic-classifier/internal/config"
	"github.com/Brownie44l1/civic-classifier/internal/handlers"
)

func main() {
	app.LoadEnv()

	a, err := app.New(config.Predictor, os.Getenv("CONFIG_DIR"))
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := handlers.NewPredictorHandler(a.Pipeline)

	a.Logger.WithFields(logrus.Fields{
		"addr":     a.Config.Addr(),
		"model":    a.Config.Model.Path,
		"best":     a.Config.Model.BestPath,
		"mappings": a.Config.Model.MappingsPath,
	}).Info("starting predictor")

	if err := a.Run(ctx, h.Register); err != nil {
		a.Logger.Fatalf("Server failed: %v", err)
	}
}
