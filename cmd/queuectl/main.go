package main

import (
	"log"
	"os"
	"queuectl/internal/config"
	"queuectl/internal/repository"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Printf("failed to prepare %s: %v", cfg.Home, err)
		return 1
	}

	repo, err := repository.NewSQLiteRepository(cfg.DBPath)
	if err != nil {
		log.Printf("failed to initialize repository: %v", err)
		return 1
	}
	defer repo.Close()

	root := newRootCmd(newApp(cfg, repo))
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
