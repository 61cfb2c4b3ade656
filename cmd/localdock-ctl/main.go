// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// localdock-ctl is a command-line tool for controlling a running localdock daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/wingedpig/localdock/pkg/client"
)

var (
	version    = "0.9"
	apiURL     = "http://localhost:4777"
	jsonOutput = false

	// API client instance
	apiClient *client.Client
)

func main() {
	// Check for LOCALDOCK_API environment variable
	if env := os.Getenv("LOCALDOCK_API"); env != "" {
		apiURL = strings.TrimSuffix(env, "/")
	}

	// Parse global flags and filter them out
	var filteredArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "-json" {
			jsonOutput = true
		} else {
			filteredArgs = append(filteredArgs, arg)
		}
	}

	// Initialize API client
	apiClient = client.New(apiURL)

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := filteredArgs[0]
	args := filteredArgs[1:]

	var err error
	switch cmd {
	case "status", "apps":
		err = cmdStatus(args)
	case "add":
		err = cmdAdd(args)
	case "rm":
		err = cmdRemove(args)
	case "start":
		err = cmdStart(args)
	case "stop":
		err = cmdStop(args)
	case "restart":
		err = cmdRestart(args)
	case "logs":
		err = cmdLogs(args)
	case "running":
		err = cmdRunning(args)
	case "routes":
		err = cmdRoutes(args)
	case "route":
		err = cmdRoute(args)
	case "proxy":
		err = cmdProxy(args)
	case "events":
		err = cmdEvents(args)
	case "version", "-v", "--version":
		fmt.Printf("localdock-ctl %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`localdock-ctl - Control a running localdock daemon

Usage:
  localdock-ctl [-json] <command> [arguments]

Global Flags:
  -json          Output in JSON format

Environment:
  LOCALDOCK_API  Base URL of the daemon API (default: http://localhost:4777)

Commands:
  status [app]             Show all registered apps or a specific app
  add [options]            Register a new app
    -name <name>           App name (required)
    -path <dir>            Working directory (required)
    -command <cmd>         Launch command (required)
    -port N                Pin to a fixed port (default: random per start)
    -startup               Launch when the daemon starts
    -subdomain <label>     Host label for the proxy route
    -watch <path>          Restart when this path changes (can repeat)
  rm <app>                 Remove an app (stops it first when running)

  start <app>              Start an app
  stop <app>               Stop an app
  restart <app>            Restart an app

  logs <app> [options]     Show captured output for a running app
    -n N                   Number of lines (default: 100)
    -f                     Stream new lines in real-time

  running                  Show ports of all running apps
  routes                   Show the active proxy routing table
  route <app> <subdomain>  Assign an app's subdomain
  route -clear <app>       Remove an app's subdomain and route
  proxy                    Show reverse-proxy daemon status

  events [-n N]            Show recent events (default: 50)

  version                  Show version
  help                     Show this help`)
}

// printJSON outputs any value as formatted JSON
func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

// resolveApp accepts an app id or name and returns the app.
func resolveApp(ctx context.Context, ref string) (*client.App, error) {
	if app, err := apiClient.Apps.Get(ctx, ref); err == nil {
		return app, nil
	}

	apps, err := apiClient.Apps.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range apps {
		if apps[i].Name == ref {
			return &apps[i], nil
		}
	}
	return nil, fmt.Errorf("no app with id or name %q", ref)
}

func printAppsTable(apps []client.App) {
	fmt.Printf("%-20s %-10s %-8s %-8s %-15s %s\n", "NAME", "STATE", "PID", "PORT", "SUBDOMAIN", "COMMAND")
	fmt.Println(strings.Repeat("-", 90))
	for _, app := range apps {
		state := app.State
		if state == "" {
			state = "stopped"
		}
		pid := "-"
		if app.PID > 0 {
			pid = strconv.Itoa(app.PID)
		}
		port := "-"
		if app.CurrentPort > 0 {
			port = strconv.Itoa(app.CurrentPort)
		} else if app.Port != nil {
			port = strconv.Itoa(*app.Port)
		}
		subdomain := "-"
		if app.Subdomain != nil && *app.Subdomain != "" {
			subdomain = *app.Subdomain
		}
		command := app.Command
		if len(command) > 30 {
			command = command[:30] + "..."
		}
		fmt.Printf("%-20s %-10s %-8s %-8s %-15s %s\n", app.Name, state, pid, port, subdomain, command)
	}
}

func cmdStatus(args []string) error {
	ctx := context.Background()

	if len(args) > 0 {
		app, err := resolveApp(ctx, args[0])
		if err != nil {
			return err
		}

		if jsonOutput {
			printJSON(app)
			return nil
		}
		printAppsTable([]client.App{*app})
		return nil
	}

	apps, err := apiClient.Apps.List(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(apps)
		return nil
	}
	printAppsTable(apps)
	return nil
}

// stringList collects repeated -watch flags.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func cmdAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	name := fs.String("name", "", "App name")
	path := fs.String("path", "", "Working directory")
	command := fs.String("command", "", "Launch command")
	port := fs.Int("port", 0, "Pinned port (0 means random per start)")
	startup := fs.Bool("startup", false, "Launch when the daemon starts")
	subdomain := fs.String("subdomain", "", "Host label for the proxy route")
	var watch stringList
	fs.Var(&watch, "watch", "Restart when this path changes (can repeat)")
	fs.Parse(args)

	if *name == "" || *path == "" || *command == "" {
		return fmt.Errorf("-name, -path and -command are required")
	}

	def := client.NewApp{
		Name:         *name,
		Path:         *path,
		Command:      *command,
		RunOnStartup: *startup,
		WatchPaths:   watch,
	}
	if *port > 0 {
		def.Port = port
	}
	if *subdomain != "" {
		def.Subdomain = subdomain
	}

	app, err := apiClient.Apps.Create(context.Background(), def)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(app)
		return nil
	}
	fmt.Printf("Registered %s (%s)\n", app.Name, app.ID)
	return nil
}

func cmdRemove(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: localdock-ctl rm <app>")
	}
	ctx := context.Background()

	app, err := resolveApp(ctx, args[0])
	if err != nil {
		return err
	}

	if err := apiClient.Apps.Delete(ctx, app.ID); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", app.Name)
	return nil
}

func cmdStart(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: localdock-ctl start <app>")
	}
	ctx := context.Background()

	app, err := resolveApp(ctx, args[0])
	if err != nil {
		return err
	}

	port, err := apiClient.Apps.Start(ctx, app.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Started %s on port %d\n", app.Name, port)
	return nil
}

func cmdStop(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: localdock-ctl stop <app>")
	}
	ctx := context.Background()

	app, err := resolveApp(ctx, args[0])
	if err != nil {
		return err
	}

	if err := apiClient.Apps.Stop(ctx, app.ID); err != nil {
		return err
	}
	fmt.Printf("Stopped %s\n", app.Name)
	return nil
}

func cmdRestart(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: localdock-ctl restart <app>")
	}
	ctx := context.Background()

	app, err := resolveApp(ctx, args[0])
	if err != nil {
		return err
	}

	port, err := apiClient.Apps.Restart(ctx, app.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Restarted %s on port %d\n", app.Name, port)
	return nil
}

func cmdLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	lines := fs.Int("n", 100, "Number of lines")
	follow := fs.Bool("f", false, "Stream new lines in real-time")

	// The app reference may come before the flags
	var ref string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		ref = args[0]
		args = args[1:]
	}
	fs.Parse(args)
	if ref == "" {
		return fmt.Errorf("usage: localdock-ctl logs <app> [-n N] [-f]")
	}

	ctx := context.Background()
	app, err := resolveApp(ctx, ref)
	if err != nil {
		return err
	}

	if *follow {
		return followLogs(app.ID, *lines)
	}

	logs, err := apiClient.Apps.Logs(ctx, app.ID, *lines)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(logs.Lines)
		return nil
	}
	for _, line := range logs.Lines {
		printLogLine(line)
	}
	return nil
}

func printLogLine(line client.LogLine) {
	if line.Stream == "stderr" {
		fmt.Fprintln(os.Stderr, line.Text)
		return
	}
	fmt.Println(line.Text)
}

// followLogs streams an app's output over the daemon's log WebSocket until
// interrupted.
func followLogs(id string, lines int) error {
	wsURL := strings.Replace(apiURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = fmt.Sprintf("%s/api/v1/apps/%s/logs/stream?lines=%d", wsURL, id, lines)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect to log stream: %w", err)
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		conn.Close()
	}()

	for {
		var line client.LogLine
		if err := conn.ReadJSON(&line); err != nil {
			// Closed by interrupt or the app stopping
			return nil
		}
		if jsonOutput {
			printJSON(line)
		} else {
			printLogLine(line)
		}
	}
}

func cmdRunning(args []string) error {
	running, err := apiClient.Apps.Running(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(running)
		return nil
	}

	if len(running) == 0 {
		fmt.Println("No apps running")
		return nil
	}
	fmt.Printf("%-40s %s\n", "APP", "PORT")
	fmt.Println(strings.Repeat("-", 48))
	for id, port := range running {
		fmt.Printf("%-40s %d\n", id, port)
	}
	return nil
}

func cmdRoutes(args []string) error {
	routes, err := apiClient.Routes.List(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(routes)
		return nil
	}

	if len(routes) == 0 {
		fmt.Println("No routes registered")
		return nil
	}
	fmt.Printf("%-15s %-8s %s\n", "LABEL", "PORT", "URL")
	fmt.Println(strings.Repeat("-", 55))
	for _, route := range routes {
		fmt.Printf("%-15s %-8d %s\n", route.Label, route.Port, route.URL)
	}
	return nil
}

func cmdRoute(args []string) error {
	ctx := context.Background()

	if len(args) >= 2 && args[0] == "-clear" {
		app, err := resolveApp(ctx, args[1])
		if err != nil {
			return err
		}
		if err := apiClient.Routes.Clear(ctx, app.ID); err != nil {
			return err
		}
		fmt.Printf("Cleared route for %s\n", app.Name)
		return nil
	}

	if len(args) < 2 {
		return fmt.Errorf("usage: localdock-ctl route <app> <subdomain> | route -clear <app>")
	}

	app, err := resolveApp(ctx, args[0])
	if err != nil {
		return err
	}

	assignment, err := apiClient.Routes.Set(ctx, app.ID, args[1])
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(assignment)
		return nil
	}
	fmt.Printf("%s -> %s\n", app.Name, assignment.URL)
	return nil
}

func cmdProxy(args []string) error {
	status, err := apiClient.Routes.ProxyStatus(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(status)
		return nil
	}

	fmt.Printf("Installed:  %v\n", status.Installed)
	fmt.Printf("Running:    %v\n", status.Running)
	fmt.Printf("Responsive: %v\n", status.Responsive)
	return nil
}

func cmdEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	limit := fs.Int("n", 50, "Number of events")
	fs.Parse(args)

	events, err := apiClient.Events.List(context.Background(), &client.ListOptions{Limit: *limit})
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(events)
		return nil
	}

	for _, ev := range events {
		payload := ""
		if len(ev.Payload) > 0 {
			raw, _ := json.Marshal(ev.Payload)
			payload = string(raw)
		}
		fmt.Printf("%s  %-18s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, payload)
	}
	return nil
}
