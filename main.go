package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Warxim/deluder/config"
	"github.com/Warxim/deluder/core"
	dhttp "github.com/Warxim/deluder/http"
	"github.com/Warxim/deluder/http/handler"
	"github.com/Warxim/deluder/log"
	"github.com/Warxim/deluder/metrics"
	"github.com/Warxim/deluder/socks5"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var (
	cfg          = config.NewConfig()
	relayCfg     = socks5.DefaultConfig
	verboseFlag  string
	showVersion  bool
	exampleOut   string
	exampleYAML  bool
	replaceFlags []string
	Version      = "dev"
	Commit       = "none"
	Date         = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "deluder",
	Short: "Deluder network interception tool",
	Long:  `Deluder receives traffic from capture points inside target processes and passes it through a chain of interceptors`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			printVersion()
			return nil
		}
		return cmd.Help()
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent server and the interceptor chain",
	RunE:  runDeluder,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print an example config with every interceptor and script",
	RunE:  runConfig,
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a SOCKS5 relay that dumps (and optionally rewrites) relayed traffic",
	RunE:  runRelay,
}

func init() {
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version and exit")
	rootCmd.PersistentFlags().StringVar(&verboseFlag, "verbose", "info", "Set verbosity level (debug, trace, info, error, silent), default: info")

	// Bind all configuration flags
	cfg.BindFlags(runCmd)

	configCmd.Flags().StringVarP(&exampleOut, "output", "o", "", "Write the example config to this file instead of stdout")
	configCmd.Flags().BoolVar(&exampleYAML, "yaml", false, "Print YAML instead of JSON")

	relayCmd.Flags().StringVar(&relayCfg.Host, "host", relayCfg.Host, "Relay listen address")
	relayCmd.Flags().IntVar(&relayCfg.Port, "port", relayCfg.Port, "Relay listen port")
	relayCmd.Flags().StringVar(&relayCfg.Username, "username", "", "Require username/password authentication")
	relayCmd.Flags().StringVar(&relayCfg.Password, "password", "", "Password for --username")
	relayCmd.Flags().StringArrayVar(&replaceFlags, "replace", nil, "Rewrite relayed bytes, FROM=TO (repeatable)")

	rootCmd.AddCommand(runCmd, configCmd, relayCmd)
}

func main() {
	// Initialize timezone from TZ environment variable
	initTimezone()

	if err := rootCmd.Execute(); err != nil {
		var cerr *core.ConfigError
		if errors.As(err, &cerr) {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("Deluder version: %s (%s) %s\n", Version, Commit, Date)
}

func runDeluder(cmd *cobra.Command, args []string) error {
	if cfg.ConfigPath != "" {
		if err := cfg.LoadFromFile(cfg.ConfigPath); err != nil {
			return err
		}
	}
	cfg.ApplyFlags(cmd.Flags())
	if cmd.Flags().Changed("verbose") {
		cfg.ApplyLogLevel(verboseFlag)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize logging first thing
	logger, err := initLogging(&cfg)
	if err != nil {
		return fmt.Errorf("logging initialization failed: %w", err)
	}
	defer logger.Close()

	logger.Infof("Starting Deluder %s", Version)
	logger.Infof("Config: %s", cfg.LogString())
	printConfigDefaults(cmd, logger)

	m := metrics.GetMetricsCollector()
	m.RecordEvent("info", "Deluder starting up")

	c, err := core.New(&cfg, logger)
	if err != nil {
		m.RecordEvent("error", err.Error())
		return err
	}
	logger.Infof("Interceptor chain: %s", strings.Join(c.InterceptorNames(), " -> "))

	if err := c.Start(); err != nil {
		m.RecordEvent("error", fmt.Sprintf("Failed to start interceptors: %v", err))
		return logger.Errorf("failed to start interceptors: %w", err)
	}

	httpServer, err := dhttp.StartServer(&cfg, c, handler.VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: Date,
	}, logger)
	if err != nil {
		c.Destroy()
		m.RecordEvent("error", fmt.Sprintf("Failed to start web server: %v", err))
		return logger.Errorf("failed to start web server: %w", err)
	}

	logger.Infof("Deluder is running, capture points connect to ws://%s/api/agent. Press Ctrl+C to stop", httpServer.Addr())
	m.RecordEvent("info", "Deluder is fully operational")

	sig := waitForSignal()
	logger.Infof("Received signal: %v, shutting down gracefully", sig)
	m.RecordEvent("info", fmt.Sprintf("Shutdown initiated by signal: %v", sig))

	return gracefulShutdown(c, httpServer, logger)
}

func gracefulShutdown(c *core.Core, httpServer *dhttp.Server, logger *log.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	shutdownErrors := make(chan error, 2)

	// Shutdown HTTP server and agent sessions
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Infof("Shutting down web server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Web server shutdown error: %v", err)
			shutdownErrors <- fmt.Errorf("HTTP shutdown: %w", err)
		} else {
			logger.Infof("Web server stopped")
		}
	}()

	// Destroy interceptors
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Infof("Destroying interceptors...")
		c.Destroy()
		logger.Infof("Interceptors destroyed")
	}()

	shutdownDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		close(shutdownErrors)
		var errs []error
		for err := range shutdownErrors {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			logger.Errorf("Shutdown completed with %d errors", len(errs))
			for _, err := range errs {
				logger.Errorf("  - %v", err)
			}
		} else {
			logger.Infof("Deluder stopped successfully")
		}

	case <-shutdownCtx.Done():
		logger.Errorf("Shutdown timeout reached, forcing exit")
		logger.Flush()
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}

	// Log viewers go last so they see the shutdown lines
	dhttp.Shutdown()
	logger.Flush()
	return nil
}

func runConfig(cmd *cobra.Command, args []string) error {
	example := core.ExampleConfig()

	if exampleOut != "" {
		if err := example.SaveToFile(exampleOut); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Example config written to %s\n", exampleOut)
		return nil
	}

	var (
		data []byte
		err  error
	)
	if exampleYAML {
		data, err = yaml.Marshal(&example)
	} else {
		data, err = json.MarshalIndent(&example, "", "    ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal example config: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func runRelay(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(verboseFlag)
	if err != nil {
		return err
	}
	logger := log.New(os.Stderr, level, true)
	defer logger.Close()

	for _, r := range replaceFlags {
		from, to, ok := strings.Cut(r, "=")
		if !ok || from == "" {
			return fmt.Errorf("invalid --replace %q, expected FROM=TO", r)
		}
		relayCfg.Replacements = append(relayCfg.Replacements, socks5.Replacement{From: from, To: to})
	}

	printConfigDefaults(cmd, logger)

	relay := socks5.NewServer(relayCfg, logger)
	if err := relay.Start(); err != nil {
		return logger.Errorf("failed to start SOCKS5 relay: %w", err)
	}
	logger.Infof("SOCKS5 relay listening on %s. Press Ctrl+C to stop", relay.Addr())

	sig := waitForSignal()
	logger.Infof("Received signal: %v, stopping relay", sig)
	if err := relay.Stop(); err != nil {
		return logger.Errorf("SOCKS5 relay shutdown error: %w", err)
	}
	logger.Infof("SOCKS5 relay stopped")
	return nil
}

func waitForSignal() os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	return <-sigChan
}

func initTimezone() {
	// Load timezone from TZ environment variable, default to UTC
	tzName := os.Getenv("TZ")
	if tzName == "" {
		tzName = "UTC"
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Failed to load timezone %s: %v, using UTC\n", tzName, err)
		loc, _ = time.LoadLocation("UTC")
	}

	time.Local = loc
}

func initLogging(cfg *config.Config) (*log.Logger, error) {
	var w io.Writer = io.MultiWriter(os.Stderr, dhttp.LogWriter())
	logger := log.New(w, cfg.System.Logging.Level, cfg.System.Logging.Instaflush)

	if cfg.System.Logging.Syslog {
		if err := logger.EnableSyslog("deluder"); err != nil {
			return nil, logger.Errorf("Failed to enable syslog: %w", err)
		}
		logger.Infof("Syslog enabled")
	}

	if cfg.System.Logging.ErrorFile != "" {
		if err := logger.OpenErrorFile(cfg.System.Logging.ErrorFile); err != nil {
			logger.Errorf("Failed to open error log file: %v", err)
		} else {
			logger.Infof("Error logging to file: %s", cfg.System.Logging.ErrorFile)
		}
	}

	return logger, nil
}

func printConfigDefaults(cmd *cobra.Command, logger *log.Logger) {
	var all []*pflag.Flag
	cmd.InheritedFlags().VisitAll(func(f *pflag.Flag) { all = append(all, f) })
	cmd.Flags().VisitAll(func(f *pflag.Flag) { all = append(all, f) })
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	logger.Infof("Effective CLI flags:")
	line := ""
	for _, f := range all {
		if f.Name == "password" {
			continue
		}
		if line == "" {
			line = fmt.Sprintf("--%s=%s", f.Name, f.Value.String())
		} else {
			line += " " + fmt.Sprintf("--%s=%s", f.Name, f.Value.String())
		}
	}
	logger.Infof("  %s", line)
}
