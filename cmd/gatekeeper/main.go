// ABOUTME: Entry point for the gatekeeper authentication server and its admin commands
// ABOUTME: Dispatches subcommands and prints the startup banner

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/gatekeeper/internal/config"
	"github.com/2389/gatekeeper/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
              _       _
   __ _  __ _| |_ ___| | _____  ___ _ __   ___ _ __
  / _' |/ _' | __/ _ \ |/ / _ \/ _ \ '_ \ / _ \ '__|
 | (_| | (_| | ||  __/   <  __/  __/ |_) |  __/ |
  \__, |\__,_|\__\___|_|\_\___|\___| .__/ \___|_|
  |___/                            |_|
`

// stdout receives command output; tests replace it.
var stdout io.Writer = os.Stdout

// getConfigPath returns the path to the config file.
// Priority: GATEKEEPER_CONFIG env var > XDG_CONFIG_HOME/gatekeeper/gatekeeper.yaml > ~/.config/gatekeeper/gatekeeper.yaml
func getConfigPath() string {
	if envPath := os.Getenv("GATEKEEPER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gatekeeper.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "gatekeeper", "gatekeeper.yaml")
}

func usage() {
	fmt.Println("Usage: gatekeeper <command> [-config PATH] [flags] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                                 Start the HTTP and gRPC servers")
	fmt.Println("  init                                  Create a new config file interactively")
	fmt.Println("  init-db                               Create the default database tables")
	fmt.Println("  hash-password [-cost N] [-argon2id] [PASSWORD]")
	fmt.Println("                                        Hash a Basic password (reads stdin if omitted)")
	fmt.Println("  acl-check ROLE CONTROLLER ACTION      Evaluate one ACL decision")
	fmt.Println("  invalidate-cache                      Drop cached principals and ACL table")
	fmt.Println("  sign-jwt -sub ID [-ttl 1h] [-alg HS256] [-aud A] [-iss I] [-secret S]")
	fmt.Println("                                        Issue a bearer token")
	fmt.Println("  health                                Check server health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit()
	case "init-db":
		err = runInitDB(ctx, args)
	case "hash-password":
		err = runHashPassword(args, os.Stdin)
	case "acl-check":
		err = runACLCheck(ctx, args)
	case "invalidate-cache":
		err = runInvalidateCache(ctx, args)
	case "sign-jwt":
		err = runSignJWT(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// stderr receives flag errors and usage; tests replace it.
var stderr io.Writer = os.Stderr

// newFlagSet returns a subcommand flag set carrying the shared -config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (default $GATEKEEPER_CONFIG or $XDG_CONFIG_HOME/gatekeeper/gatekeeper.yaml)")
	return fs, configPath
}

// loadConfig loads path, or the default config path when path is empty.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		path = getConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, args []string) error {
	fs, configFlag := newFlagSet("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	logger, logFile := setupLogger(cfg.Logging, stdout)
	defer logFile.Close()

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:       %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Mechanisms: ")
	for i, m := range cfg.Auth.Mechanisms {
		if i > 0 {
			fmt.Print(", ")
		}
		cyan.Print(m.String())
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("ACL:        ")
	if cfg.ACL.Enable {
		cyan.Printf("%s", cfg.ACL.Backend)
		gray.Printf(" (default %s)", cfg.ACL.DefaultPolicy)
	} else {
		yellow.Print("disabled")
	}
	fmt.Println()
	fmt.Println()

	logger.Info("starting gatekeeper",
		"config", configPath,
		"version", version,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("gatekeeper configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	grpcAddr := prompt(reader, "gRPC address (leave empty to disable)", "")

	fmt.Println("\n--- Authentication ---")
	mechanisms := prompt(reader, "Mechanisms (comma separated: hawk, basic, bearer)", "hawk, basic, bearer")

	dataDir := filepath.Join(filepath.Dir(outputFile), "data")
	fmt.Println("\n--- Principals and ACL ---")
	usersDir := prompt(reader, "Users directory (*.users files)", filepath.Join(dataDir, "users"))
	enableACL := isYes(prompt(reader, "Enable ACL?", "yes"))
	aclDir := ""
	if enableACL {
		aclDir = prompt(reader, "ACL directory (*.roles, *.inherits, *.resources, *.rules)", filepath.Join(dataDir, "acl"))
	}
	nonceDir := prompt(reader, "Hawk nonce directory", filepath.Join(dataDir, "nonces"))

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# gatekeeper configuration\n")
	cfg.WriteString("# Generated by gatekeeper init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	if grpcAddr != "" {
		cfg.WriteString(fmt.Sprintf("  grpc_addr: \"%s\"\n", grpcAddr))
	}
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString("  mechanisms:\n")
	for _, m := range strings.Split(mechanisms, ",") {
		if m = strings.TrimSpace(m); m != "" {
			cfg.WriteString(fmt.Sprintf("    - %s\n", m))
		}
	}
	cfg.WriteString("\n")

	cfg.WriteString("hawk:\n")
	cfg.WriteString("  algorithms: [sha256]\n")
	cfg.WriteString("  expire: 60s\n")
	cfg.WriteString("  backend: file\n")
	cfg.WriteString(fmt.Sprintf("  nonce_dir: \"%s\"\n", nonceDir))
	cfg.WriteString("\n")

	cfg.WriteString("users:\n")
	cfg.WriteString("  backend: file\n")
	cfg.WriteString(fmt.Sprintf("  dir: \"%s\"\n", usersDir))
	cfg.WriteString("\n")

	cfg.WriteString("acl:\n")
	cfg.WriteString(fmt.Sprintf("  enable: %t\n", enableACL))
	if enableACL {
		cfg.WriteString("  backend: file\n")
		cfg.WriteString("  default_policy: deny\n")
		cfg.WriteString(fmt.Sprintf("  dir: \"%s\"\n", aclDir))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	for _, dir := range []string{filepath.Dir(outputFile), usersDir, aclDir, nonceDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  gatekeeper hash-password        # hash a Basic password for a *.users file")
	fmt.Println("  gatekeeper serve                # start the server")

	return nil
}

func isYes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
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
