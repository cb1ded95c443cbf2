package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/arnavshah/shift-planner/internal/config"
	"github.com/arnavshah/shift-planner/pkg/auth"
)

func main() {
	configPath := flag.String("config", os.Getenv("PLANNER_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// Load .env from project root
	config.LoadDotEnv()

	if flag.NArg() < 1 {
		fmt.Println("Usage: keygen [-config file] <clientID>")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.MasterSecret == "" {
		fmt.Println("Error: API_MASTER_SECRET not set")
		os.Exit(1)
	}

	clientID := flag.Arg(0)
	apiKey, err := auth.New(cfg.Auth).GenerateHMACKey(clientID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated Key for %s:\n%s\n", clientID, apiKey)
}
