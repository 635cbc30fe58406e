// ABOUTME: Entry point for the coven-voyage supervisor
// ABOUTME: Runs the agent fleet and offers client commands against its status server

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-voyage/internal/agent"
	"github.com/2389/coven-voyage/internal/config"
	"github.com/2389/coven-voyage/internal/supervisor"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __      __   _____  _   _  __ _  __ _  ___
 / __/ _ \ \ / / _ \ '_ \ ____\ \ / / _ \| | | |/ _' |/ _' |/ _ \
| (_| (_) \ V /  __/ | | |_____\ V / (_) | |_| | (_| | (_| |  __/
 \___\___/ \_/ \___|_| |_|      \_/ \___/ \__, |\__,_|\__, |\___|
                                          |___/       |___/
`

// getConfigPath returns the path to the supervisor config file.
// Priority: COVEN_VOYAGE_CONFIG env var > XDG_CONFIG_HOME/coven/voyage.yaml > ~/.config/coven/voyage.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_VOYAGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "voyage.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "voyage.yaml")
}

func usage() {
	fmt.Println("Usage: coven-voyage <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the supervisor and its agents")
	fmt.Println("  init                           Write a starter config file")
	fmt.Println("  health                         Check supervisor health")
	fmt.Println("  agents                         List agents and their states")
	fmt.Println("  events [-agent ID] [-limit N]  Show recent session events")
	fmt.Println("  version                        Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, cancel)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "agents":
		err = runAgents(ctx)
	case "events":
		err = runEvents(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		errorf("Unknown command: %s", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		errorf("Error: %v", err)
		os.Exit(1)
	}
}

// runServe blocks until the first SIGINT/SIGTERM, then shuts down. The
// signal handler is released once shutdown begins, so a second signal
// terminates the process immediately.
func runServe(ctx context.Context, releaseSignals context.CancelFunc) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Agents:    %d (%s1.. on ports %d-%d)\n", cfg.Agents.Count, cfg.Agents.IDPrefix,
		cfg.Agents.BasePort, cfg.Agents.BasePort+cfg.Agents.Count-1)
	green.Print("    ▶ ")
	if cfg.Game.Server.Enabled() {
		fmt.Printf("Game:      managed server ")
		gray.Printf("(%s)\n", strings.Join(cfg.Game.Server.Command, " "))
	} else {
		fmt.Printf("Game:      port %d\n", cfg.Game.Port)
	}
	green.Print("    ▶ ")
	fmt.Printf("Skills:    %s\n", cfg.Skills.Dir)
	green.Print("    ▶ ")
	if cfg.Status.HTTPAddr != "" {
		fmt.Printf("Status:    %s\n", cfg.Status.HTTPAddr)
	} else {
		fmt.Printf("Status:    ")
		yellow.Println("disabled")
	}
	fmt.Println()

	logger.Info("starting coven-voyage",
		"config", configPath,
		"agents", cfg.Agents.Count,
		"http_addr", cfg.Status.HTTPAddr,
	)

	sup, err := supervisor.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating supervisor: %w", err)
	}

	go func() {
		<-ctx.Done()
		releaseSignals()
	}()

	return sup.Run(ctx)
}

// statusURL resolves path against the configured status server.
func statusURL(path string, query url.Values) (string, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	if cfg.Status.HTTPAddr == "" {
		return "", fmt.Errorf("status.http_addr is not configured")
	}

	u := url.URL{Scheme: "http", Host: cfg.Status.HTTPAddr, Path: path}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// getStatus performs a GET against the status server and returns the
// status code with the body.
func getStatus(ctx context.Context, path string, query url.Values) (int, []byte, error) {
	target, err := statusURL(path, query)
	if err != nil {
		return 0, nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func runHealth(ctx context.Context) error {
	status, _, err := getStatus(ctx, "/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	fmt.Println("healthy")
	return nil
}

func runAgents(ctx context.Context) error {
	status, body, err := getStatus(ctx, "/api/agents", nil)
	if err != nil {
		return fmt.Errorf("agents check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("agents check failed: status %d", status)
	}

	var resp supervisor.AgentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(resp.Agents) == 0 {
		fmt.Println("no agents")
		return nil
	}

	gray := color.New(color.FgHiBlack)
	fmt.Printf("%-12s %-6s %-10s %-8s %s\n", "ID", "PORT", "STATE", "RESTARTS", "LAST ERROR")
	for _, a := range resp.Agents {
		fmt.Printf("%-12s %-6d %s %-8d ", a.ID, a.ServerPort, stateColor(a.State).Sprintf("%-10s", a.State), a.Restarts)
		gray.Println(a.LastError)
	}
	if resp.Shutdown {
		color.Yellow("shutdown in progress")
	}
	return nil
}

// stateColor picks the terminal colour for an agent state. Pad before
// colouring; escape codes count toward %-Ns widths.
func stateColor(s agent.State) *color.Color {
	switch s {
	case agent.StateLearning:
		return color.New(color.FgGreen)
	case agent.StateBackoff:
		return color.New(color.FgYellow)
	case agent.StateStopped:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}

func runEvents(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	agentID := fs.String("agent", "", "only show events for this agent ID")
	limit := fs.Int("limit", 20, "maximum number of events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit < 1 {
		return fmt.Errorf("-limit must be a positive integer")
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(*limit))
	if *agentID != "" {
		query.Set("agent", *agentID)
	}

	status, body, err := getStatus(ctx, "/api/events", query)
	if err != nil {
		return fmt.Errorf("listing events failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("listing events failed: status %d: %s", status, strings.TrimSpace(string(body)))
	}

	var events []supervisor.EventResponse
	if err := json.Unmarshal(body, &events); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)
	// Oldest first reads naturally in a terminal.
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		ts := ev.CreatedAt
		if t, err := time.Parse(time.RFC3339Nano, ev.CreatedAt); err == nil {
			ts = t.Local().Format("2006-01-02 15:04:05")
		}
		gray.Printf("%s ", ts)
		fmt.Printf("%-8s ", ev.AgentID)
		cyan.Printf("%-20s ", ev.Kind)
		fmt.Println(ev.Detail)
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-voyage configuration setup")
	fmt.Println("================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(config.Sample), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("Edit worker.command and skills.dir, then start the supervisor:")
	fmt.Printf("  coven-voyage serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
