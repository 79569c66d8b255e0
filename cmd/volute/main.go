// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command volute is the Volute supervisor daemon: it loads volute.hjson,
// wires every component in internal/app, and runs until a shutdown signal
// arrives.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/volute/volute/internal/app"
	"github.com/volute/volute/internal/config"
)

var version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	var (
		configPath  string
		homeDir     string
		host        string
		port        int
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect volute.hjson/volute.json)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&homeDir, "home", "", "Daemon home directory (default: ~/.volute)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("volute %s\n", version)
		os.Exit(0)
	}

	loader := config.NewLoader()
	if configPath == "" {
		found, err := loader.FindConfig()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		configPath = found
	}

	log.Printf("Using config: %s", configPath)

	cfg, err := loader.LoadWithDefaults(context.Background(), configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	if homeDir == "" {
		homeDir, err = defaultHomeDir()
		if err != nil {
			log.Fatalf("Failed to resolve daemon home: %v", err)
		}
	}

	daemon, err := app.New(homeDir, cfg)
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	if err := daemon.Initialize(); err != nil {
		// Port-in-use / already-running is reported via exit 1 without
		// touching any existing PID/config files (spec §6 exit codes).
		log.Fatalf("Failed to initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.Start(ctx); err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	if err := daemon.Run(ctx); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// defaultHomeDir returns ~/.volute, creating nothing (App.New creates it).
func defaultHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".volute"), nil
}

// runInit handles the "volute init" command: scaffold a commented
// volute.hjson in the current directory from a short interactive prompt.
func runInit() error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(os.Args[2:])

	if *showHelp {
		fmt.Println(`Usage: volute init [options]

Create a new volute.hjson configuration file in the current directory.

Options:
  -h, -help    Show this help message

Examples:
  volute init
  cd /srv/volute && volute init

After running init:
  1. Review and edit volute.hjson as needed
  2. Run: volute`)
		return nil
	}

	configFile := "volute.hjson"
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Volute Configuration Setup")
	fmt.Println("==========================")
	fmt.Println()
	fmt.Println("This will create a volute.hjson configuration file in the current directory.")
	fmt.Println("Press Enter to accept defaults shown in [brackets].")
	fmt.Println()

	portStr := prompt(reader, "Server port", "8420")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 8420
	}

	isolation := strings.ToLower(prompt(reader, "Run each mind under its own OS user? (y/n)", "n")) == "y"

	webhookURL := prompt(reader, "Activity-event webhook URL (or empty to skip)", "")

	content := generateConfig(port, isolation, webhookURL)
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Created %s\n", configFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit volute.hjson as needed")
	fmt.Println("  2. Run: volute")
	fmt.Println("  3. API listens on http://127.0.0.1:" + strconv.Itoa(port))
	fmt.Println()

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// escapeHJSONValue escapes a string for safe inclusion in an HJSON
// double-quoted value.
func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func generateConfig(port int, isolation bool, webhookURL string) string {
	var sb strings.Builder

	sb.WriteString(`{
  // =============================================================================
  // Volute Configuration
  // =============================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax). Per-mind
  // routing (routes.json) and schedules (schedules.json) are plain JSON and
  // live under each mind's state directory instead.

  // ---------------------------------------------------------------------------
  // HTTP API
  // ---------------------------------------------------------------------------
  server: {
    host: "127.0.0.1"
    port: `)
	sb.WriteString(strconv.Itoa(port))
	sb.WriteString(`

    // Bearer token every /api request must carry. Leave empty to generate
    // and persist a random one on first start (see daemon.json).
    // token: "changeme"
  }

  // ---------------------------------------------------------------------------
  // Crash-restart backoff (per mind, via RestartTracker)
  // ---------------------------------------------------------------------------
  restart: {
    max_attempts: 5
    base_delay: "3s"
    max_delay: "60s"
  }

  // ---------------------------------------------------------------------------
  // Mind process isolation
  // ---------------------------------------------------------------------------
  isolation: {
    enabled: `)
	sb.WriteString(strconv.FormatBool(isolation))
	sb.WriteString(`

    // Spawned minds run as "<user_prefix><mind-name>", e.g. "mind-alpha".
    user_prefix: "mind-"
  }

  // ---------------------------------------------------------------------------
  // Activity events
  // ---------------------------------------------------------------------------
  events: {
    history: {
      max_events: 10000
      max_age: "1h"
    }

    webhooks: [
`)
	if webhookURL == "" {
		sb.WriteString(`      // {
      //   id: "alerts"
      //   url: "https://example.com/hooks/volute"
      //   token: "changeme"
      //   patterns: ["mind.stopped", "mind.done"]
      //   timeout: "5s"
      // }
`)
	} else {
		sb.WriteString(`      {
        id: "default"
        url: "`)
		sb.WriteString(escapeHJSONValue(webhookURL))
		sb.WriteString(`"
        patterns: ["mind.started", "mind.stopped", "mind.idle", "mind.active", "mind.done"]
        timeout: "5s"
      }
`)
	}
	sb.WriteString(`    ]
  }

  // ---------------------------------------------------------------------------
  // Config hot-reload
  // ---------------------------------------------------------------------------
  watch: {
    // Settle time before a routes.json/schedules.json edit is reloaded.
    debounce: "200ms"
  }

  // ---------------------------------------------------------------------------
  // Daemon logging
  // ---------------------------------------------------------------------------
  logging: {
    level: "info"   // debug, info, warn, error
    format: "text"  // text, json
  }
}
`)

	return sb.String()
}
