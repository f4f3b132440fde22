package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/civic-classifier/internal/app"
	"github.com/Brownie44l1/civic-classifier/internal/category"
	"github.com/Brownie44l1/civic-classifier/internal/config"
	"github.com/Brownie44l1/civic-classifier/internal/handlers"
)

func main() {
	app.LoadEnv()

	a, err := app.New(config.Classifier, os.Getenv("CONFIG_DIR"))
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	table := category.DefaultTable()
	if path := a.Config.Model.CategoriesPath; path != "" {
		table, err = category.LoadTable(path)
		if err != nil {
			a.Logger.Fatalf("Failed to load category table: %v", err)
		}
	}
	if table.Len() != a.Config.Model.NumClasses {
		a.Logger.WithFields(logrus.Fields{
			"categories":  table.Len(),
			"num_classes": a.Config.Model.NumClasses,
		}).Warn("category table size differs from model output size")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := handlers.NewClassifierHandler(a.Pipeline, table)

	a.Logger.WithFields(logrus.Fields{
		"addr":       a.Config.Addr(),
		"model":      a.Config.Model.Path,
		"categories": table.Codes(),
	}).Info("starting classifier")

	if err := a.Run(ctx, h.Register); err != nil {
		a.Logger.Fatalf("Server failed: %v", err)
	}
}
