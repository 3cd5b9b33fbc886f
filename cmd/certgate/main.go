// ABOUTME: Entry point for the certgate HTTP gateway
// ABOUTME: Serves the protected certificate behind backend token checks and captcha verification

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/certgate/internal/authclient"
	"github.com/2389/certgate/internal/config"
	"github.com/2389/certgate/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                _              _
  ___ ___ _ __| |_ __ _  __ _| |_ ___
 / __/ _ \ '__| __/ _' |/ _' | __/ _ \
| (_|  __/ |  | || (_| | (_| | ||  __/
 \___\___|_|   \__\__, |\__,_|\__\___|
                  |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: CERTGATE_CONFIG env var > XDG_CONFIG_HOME/certgate/gateway.yaml > ~/.config/certgate/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CERTGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "certgate", "gateway.yaml")
}

// loadConfig reads path, falling back to the environment when the file
// does not exist. The returned source names where the config came from.
func loadConfig(path string) (cfg *config.Config, source string, err error) {
	cfg, err = config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.FromEnv()
		return cfg, "environment", err
	}
	return cfg, path, err
}

func usage() {
	fmt.Println("Usage: certgate <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the gateway server")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  health                 Check gateway health")
	fmt.Println("  verify --token TOKEN   Ask the auth backend whether TOKEN is valid")
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
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "verify":
		err = runVerify(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, source, err := loadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("    ▶ ")
	if cfg.Tailscale.Enabled {
		fmt.Printf("HTTP:      tailnet (%s)\n", cfg.Tailscale.Hostname)
	} else {
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Backend:   ")
	if cfg.Backend.Address == "" {
		yellow.Println("not configured")
	} else {
		fmt.Printf("%s (%s)\n", cfg.Backend.Address, cfg.Backend.Connection)
	}
	green.Print("    ▶ ")
	fmt.Printf("Captcha:   ")
	if cfg.Captcha.Secret == "" {
		yellow.Println("no secret")
	} else {
		fmt.Println(cfg.Captcha.VerifyURL)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting certgate",
		"config", source,
		"http_addr", cfg.Server.HTTPAddr,
		"backend", cfg.Backend.Address,
		"connection", cfg.Backend.Connection,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// healthURL turns the listen address into a URL a local client can reach.
func healthURL(httpAddr string) string {
	host, port, err := net.SplitHostPort(httpAddr)
	if err != nil {
		return fmt.Sprintf("http://%s/health-check", httpAddr)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s/health-check", net.JoinHostPort(host, port))
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg.Server.HTTPAddr), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runVerify performs one VerifyToken call against the configured backend.
func runVerify(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("verify", flag.ContinueOnError)
	token := fset.String("token", "", "session token to verify")
	address := fset.String("address", "", "backend address (overrides config)")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		return errors.New("--token is required")
	}

	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *address != "" {
		cfg.Backend.Address = *address
	}

	logger := setupLogger(cfg.Logging)
	client, err := authclient.New(ctx, cfg.Backend, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	valid, err := client.VerifyToken(ctx, *token)
	if err != nil {
		return err
	}

	if valid {
		color.Green("valid")
		return nil
	}
	color.Red("invalid")
	return errors.New("token rejected by backend")
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("certgate configuration setup")
	fmt.Println("============================")
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
	httpAddr := prompt(reader, "HTTP address", config.DefaultHTTPAddr)
	trustProxy := isYes(prompt(reader, "Behind a reverse proxy?", "no"))

	fmt.Println("\n--- Auth Backend ---")
	backendAddr := prompt(reader, "Backend address (https:// for TLS)", "localhost:50051")
	authHost := prompt(reader, "Login service URL", "")

	fmt.Println("\n--- Captcha ---")
	siteKey := prompt(reader, "Site key", "")

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(prompt(reader, "Enable Tailscale?", "no"))

	var tsHostname string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "certgate")
		tsEphemeral = isYes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = isYes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	content := renderConfig(initAnswers{
		HTTPAddr:    httpAddr,
		TrustProxy:  trustProxy,
		BackendAddr: backendAddr,
		AuthHost:    authHost,
		SiteKey:     siteKey,
		Tailscale:   tailscaleEnabled,
		TSHostname:  tsHostname,
		TSEphemeral: tsEphemeral,
		TSFunnel:    tsFunnel,
		LogLevel:    logLevel,
		LogFormat:   logFormat,
	})

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("The captcha secret is read from RECAPTCHA_SECRET_KEY.")
	fmt.Println("\nTo start the server:")
	fmt.Printf("  certgate serve\n")

	return nil
}

type initAnswers struct {
	HTTPAddr    string
	TrustProxy  bool
	BackendAddr string
	AuthHost    string
	SiteKey     string
	Tailscale   bool
	TSHostname  string
	TSEphemeral bool
	TSFunnel    bool
	LogLevel    string
	LogFormat   string
}

// renderConfig produces the YAML written by init.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# certgate configuration\n")
	cfg.WriteString("# Generated by certgate init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	cfg.WriteString(fmt.Sprintf("  trust_proxy_headers: %t\n", a.TrustProxy))
	cfg.WriteString("\n")

	cfg.WriteString("backend:\n")
	cfg.WriteString(fmt.Sprintf("  address: %q\n", a.BackendAddr))
	cfg.WriteString("  connection: \"shared\"\n")
	cfg.WriteString("  rpc_timeout: \"5s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("auth_service:\n")
	cfg.WriteString(fmt.Sprintf("  host: %q\n", a.AuthHost))
	cfg.WriteString("\n")

	cfg.WriteString("captcha:\n")
	cfg.WriteString("  secret: \"${RECAPTCHA_SECRET_KEY}\"\n")
	cfg.WriteString(fmt.Sprintf("  site_key: %q\n", a.SiteKey))
	cfg.WriteString("  timeout: \"5s\"\n")
	cfg.WriteString("  replay_ttl: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.Tailscale))
	if a.Tailscale {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", a.TSHostname))
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", a.TSEphemeral))
		cfg.WriteString(fmt.Sprintf("  funnel: %t\n", a.TSFunnel))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.LogFormat))

	return cfg.String()
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
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
