// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wingedpig/localdock/internal/app"
	"github.com/wingedpig/localdock/internal/config"
)

var (
	version = "0.9"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Parse flags
	var (
		configPath  string
		host        string
		port        int
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("localdock %s\n", version)
		os.Exit(0)
	}

	// Find config file if not specified; running without one uses defaults.
	if configPath == "" {
		loader := config.NewLoader()
		if found, err := loader.FindConfig(); err == nil {
			configPath = found
		}
	}

	if configPath != "" {
		log.Printf("Using config: %s", configPath)
	} else {
		log.Printf("No config file found, using defaults")
	}

	// Create and run app
	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	ctx := context.Background()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// runInit handles the "localdock init" command
func runInit() error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(os.Args[2:])

	if *showHelp {
		fmt.Println(`Usage: localdock init [options]

Create a new localdock.hjson configuration file in the current directory.

Options:
  -h, -help    Show this help message

The command will ask about:
  - API server port (defaults to 4777)
  - Proxy daemon admin endpoint and domain suffix
  - Where to keep the app registry database

Examples:
  localdock init            Create config with interactive prompts

After running init:
  1. Review and edit localdock.hjson as needed
  2. Run: localdock
  3. Register apps: localdock-ctl add`)
		return nil
	}

	configFile := "localdock.hjson"

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("localdock Configuration Setup")
	fmt.Println("=============================")
	fmt.Println()
	fmt.Println("This will create a localdock.hjson configuration file in the current directory.")
	fmt.Println("Press Enter to accept defaults shown in [brackets].")
	fmt.Println()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	defaultName := filepath.Base(cwd)

	projectName := prompt(reader, "Project name", defaultName)

	portStr := prompt(reader, "API server port", "4777")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 4777
	}

	adminURL := prompt(reader, "Proxy daemon admin endpoint", "http://127.0.0.1:2019")
	domain := prompt(reader, "Domain suffix for app routes", "local")

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	registryPath := prompt(reader, "App registry database", filepath.Join(home, ".localdock", "apps.db"))

	configContent := generateConfig(projectName, port, adminURL, domain, registryPath)

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Created %s\n", configFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit localdock.hjson as needed")
	fmt.Println("  2. Run: localdock")
	fmt.Println("  3. Register apps: localdock-ctl add -name myapp -path . -command \"npm start\"")
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

// escapeHJSONValue escapes a string for safe inclusion in an HJSON double-quoted value.
func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func generateConfig(projectName string, port int, adminURL, domain, registryPath string) string {
	var sb strings.Builder

	sb.WriteString(`{
  // ===========================================================================
  // localdock Configuration
  // ===========================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax).

  // ---------------------------------------------------------------------------
  // Project Metadata
  // ---------------------------------------------------------------------------
  project: {
    name: "`)
	sb.WriteString(escapeHJSONValue(projectName))
	sb.WriteString(`"
  }

  // ---------------------------------------------------------------------------
  // API Server
  // ---------------------------------------------------------------------------
  server: {
    // Host to bind to (use "0.0.0.0" to allow remote access)
    host: "127.0.0.1"

    // Port for the control API
    port: `)
	sb.WriteString(strconv.Itoa(port))
	sb.WriteString(`

    // For HTTPS, uncomment and set paths to your certificates:
    // tls_cert: "~/.localdock/cert.pem"
    // tls_key: "~/.localdock/key.pem"

    // Or fetch certificates from the local Tailscale daemon:
    // tls_tailscale: true
  }

  // ---------------------------------------------------------------------------
  // App Registry
  // ---------------------------------------------------------------------------
  registry: {
    // SQLite database holding registered app definitions
    path: "`)
	sb.WriteString(escapeHJSONValue(registryPath))
	sb.WriteString(`"
  }

  // ---------------------------------------------------------------------------
  // Reverse Proxy Daemon
  // ---------------------------------------------------------------------------
  //
  // localdock publishes a route per running app so it is reachable at
  // http://<subdomain>.<domain> through the proxy daemon.
  proxy: {
    // Admin endpoint of the proxy daemon
    admin_url: "`)
	sb.WriteString(escapeHJSONValue(adminURL))
	sb.WriteString(`"

    // Hostname suffix routes are published under
    domain: "`)
	sb.WriteString(escapeHJSONValue(domain))
	sb.WriteString(`"

    // Daemon process name, for liveness detection
    process_name: "caddy"

    // How often to resync the routing table ("0" disables)
    reconcile: "30s"
  }

  // ---------------------------------------------------------------------------
  // Ports
  // ---------------------------------------------------------------------------
  //
  // Apps without a pinned port get a random free port from this range.
  ports: {
    min: 10000
    max: 60000
  }

  // ---------------------------------------------------------------------------
  // Log Capture
  // ---------------------------------------------------------------------------
  logs: {
    // Lines retained per app
    buffer_size: 200

    // Grace period before a stubborn process is force-killed
    stop_timeout: "10s"
  }

  // ---------------------------------------------------------------------------
  // File Watching
  // ---------------------------------------------------------------------------
  watch: {
    // Change coalescing window before an auto-restart fires
    debounce: "200ms"
  }
}
`)
	return sb.String()
}
