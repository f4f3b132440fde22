// Command mkmapping writes the class mapping file the predictor loads next to
// its weights, derived from a dataset with one folder per class.
package main

import (
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/civic-classifier/internal/category"
	"github.com/Brownie44l1/civic-classifier/internal/logger"
)

func main() {
	dataset := flag.String("dataset", "dataset", "directory with one subdirectory per class")
	out := flag.String("out", "model/class_mappings.json", "output mapping file")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logger.New("mkmapping", *level, "text")

	folders, err := category.DatasetFolders(*dataset)
	if err != nil {
		log.Fatalf("Failed to scan dataset: %v", err)
	}

	m, err := category.BuildMapping(folders)
	if err != nil {
		log.Fatalf("Failed to build mapping: %v", err)
	}

	for _, idx := range m.Indices() {
		e, _ := m.Lookup(idx)
		fields := logrus.Fields{
			"index":      idx,
			"folder":     e.OriginalName,
			"category":   e.Category,
			"department": e.Department,
		}
		if _, known := category.FolderCategories[e.OriginalName]; !known {
			log.WithFields(fields).Warn("unknown class folder, derived category code from its name")
			continue
		}
		log.WithFields(fields).Info("mapped class")
	}

	if err := category.SaveMapping(*out, m); err != nil {
		log.Fatalf("Failed to write mapping: %v", err)
	}
	log.WithFields(logrus.Fields{"path": *out, "num_classes": m.NumClasses}).Info("class mappings written")
}
