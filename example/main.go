package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"gopkg.in/yaml.v3"

	"github.com/dpotapov/go-khala"
)

type ShoppingItem struct {
	Name     string `yaml:"name"`
	Quantity int    `yaml:"quantity"`
}

type ShoppingList struct {
	Name  string         `yaml:"name"`
	Items []ShoppingItem `yaml:"items"`
}

// Empty is used by the template as `data-if="empty"`.
func (l *ShoppingList) Empty() bool {
	return len(l.Items) == 0
}

func loadList(path string) (*ShoppingList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list ShoppingList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &list, nil
}

func render(reg *khala.Registry, dataPath, outPath string) error {
	list, err := loadList(dataPath)
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := reg.Render(out, "shopping", list); err != nil {
		return err
	}
	return out.Close()
}

func main() {
	configPath := flag.String("config", "example/khala.yaml", "configuration file")
	dataPath := flag.String("data", "example/shopping.yaml", "view model data")
	outPath := flag.String("out", "example/result.html", "output file")
	watch := flag.Bool("watch", false, "render again when a template changes")
	flag.Parse()

	cfg, err := khala.LoadConfig(*configPath, os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *watch {
		cfg.Watch = true
	}

	logger, err := khala.NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	reg := khala.NewRegistry(cfg, logger)

	if err := render(reg, *dataPath, *outPath); err != nil {
		logger.Error("Render shopping list", "error", err)
		os.Exit(1)
	}
	logger.Info("Rendered shopping list", "out", *outPath)

	if !cfg.Watch {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = reg.Watch(ctx, func(path string) {
		if err := render(reg, *dataPath, *outPath); err != nil {
			logger.Error("Render shopping list", "path", path, "error", err)
			return
		}
		logger.Info("Rendered shopping list", "out", *outPath, "changed", path)
	})
	if err != nil {
		logger.Error("Watch templates", "error", err)
		os.Exit(1)
	}
}
