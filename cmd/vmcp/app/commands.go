// Package app provides the entry point for the vmcp command-line application.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oss-vmcp/vmcp/pkg/logger"
	"github.com/oss-vmcp/vmcp/pkg/vmcp/config"
)

// version is replaced at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:               "vmcp",
	DisableAutoGenTag: true,
	Short:             "Virtual MCP Server - aggregate many MCP servers behind one endpoint",
	Long: `Virtual MCP Server (vmcp) composes tools, resources, and prompts from many
upstream MCP servers plus user-defined custom tools into a single MCP
endpoint per vMCP composition.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the vmcp CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the vMCP configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeTestCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the Virtual MCP Server",
		Long: `Start the Virtual MCP Server: load every vMCP definition under the data
directory, open the upstream registry, and serve JSON-RPC at
/private/{vmcp_name}/vmcp until interrupted.`,
		RunE: runServe,
	}
	cmd.Flags().Int("port", 0, "Port to listen on (overrides PORT/config)")
	cmd.Flags().String("log-level", "", "Log level (overrides LOG_LEVEL/config)")
	return cmd
}

func newServeTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-test",
		Short: "Start the server on an ephemeral port for integration testing",
		Long: `Like run, but binds an ephemeral localhost port and prints the chosen
address to stdout before blocking, so test harnesses can discover where
to connect without reserving a port in advance.`,
		RunE: runServeTest,
	}
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and vMCP definitions",
		Long: `Validate the process configuration file and every vMCP definition under
its data directory: YAML syntax, required fields, and upstream
references that resolve to a declared server.`,
		RunE: runValidate,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("vmcp version: %s", version)
		},
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading configuration: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	logger.InitializeWithLevel(cfg.LogLevel)
	return cfg, nil
}

// runServe implements the `run` command.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	defs, err := config.LoadDefinitions(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading vmcp definitions: %w", err)
	}
	logger.Infof("loaded %d vmcp definition(s) from %s", len(defs), cfg.DataDir)

	srv, err := buildServer(cfg, defs)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}
	defer srv.Close()

	addr := fmt.Sprintf(":%d", cfg.Port)
	return serveUntilDone(ctx, addr, srv)
}

// runServeTest implements the `serve-test` command: same wiring as run,
// but on an ephemeral port, with the bound address printed to stdout so
// an integration test harness can dial it.
func runServeTest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	defs, err := config.LoadDefinitions(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading vmcp definitions: %w", err)
	}

	srv, err := buildServer(cfg, defs)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}
	defer srv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("binding ephemeral port: %w", err)
	}
	fmt.Printf("listening on %s\n", ln.Addr())
	return serveListenerUntilDone(ctx, ln, srv)
}

func serveUntilDone(ctx context.Context, addr string, srv *vmcpServer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	return serveListenerUntilDone(ctx, ln, srv)
}

func serveListenerUntilDone(ctx context.Context, ln net.Listener, srv *vmcpServer) error {
	httpSrv := &http.Server{Handler: srv.Adapter.Router()}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Infof("virtual mcp server listening at %s", ln.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// runValidate implements the `validate` command.
func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	defs, err := config.LoadDefinitions(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading vmcp definitions: %w", err)
	}

	logger.Infof("✓ configuration and %d vmcp definition(s) are valid", len(defs))
	return renderDefinitionsTable(defs)
}

func renderDefinitionsTable(defs []config.Definition) error {
	if len(defs) == 0 {
		fmt.Println("No vMCP definitions found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Options(
		tablewriter.WithHeader([]string{"Name", "Upstreams", "Custom Tools", "Resources", "Prompts"}),
		tablewriter.WithRendition(
			tw.Rendition{
				Borders: tw.Border{
					Left:   tw.State(1),
					Top:    tw.State(1),
					Right:  tw.State(1),
					Bottom: tw.State(1),
				},
			},
		),
	)

	for _, def := range defs {
		if err := table.Append([]string{
			def.VMCP.Name,
			fmt.Sprintf("%d", len(def.VMCP.Upstreams)),
			fmt.Sprintf("%d", len(def.VMCP.Tools)),
			fmt.Sprintf("%d", len(def.VMCP.Resources)),
			fmt.Sprintf("%d", len(def.VMCP.Prompts)),
		}); err != nil {
			return fmt.Errorf("appending row: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("rendering table: %w", err)
	}
	return nil
}
