package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/flowmesh"
	"github.com/hupe1980/flowmesh/config"
	"github.com/spf13/cobra"
)

// Version is reported by --version.
var Version = "dev"

type rootFlags struct {
	configPath string
	verbose    bool
	provider   string
	model      string
	store      string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "flowmesh",
		Short: "Chat with MCP tools and orchestrate conversation flows",
		Long: `flowmesh drives chats against an OpenAI-compatible or Anthropic model,
lets the model call MCP tools through a text protocol and runs flows:
graphs of steps that inject prompts, branch on token counts, call tools
directly and consolidate alternative answers.

Quick Start:
  flowmesh mock-backend --addr :8080      # scripted OpenAI-compatible backend
  flowmesh chat "What's the current date and time?"
  flowmesh run examples/flows/loop.json
  flowmesh serve --addr :8081`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (default ./flowmesh.yaml)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&flags.provider, "provider", "", "model provider override (openai, anthropic, mock)")
	pf.StringVar(&flags.model, "model", "", "model name override")
	pf.StringVar(&flags.store, "store", "", "store driver override (memory, sqlite, redis)")

	root.AddCommand(
		runCMD(flags),
		chatCMD(flags),
		regenerateCMD(flags),
		serveCMD(flags),
		modelsCMD(flags),
		exportCMD(flags),
		importCMD(flags),
		mcpServeCMD(flags),
		mockBackendCMD(flags),
	)
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig reads the config file and applies the persistent flag overrides.
func (f *rootFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.verbose {
		cfg.Log.Level = "debug"
	}
	if f.provider != "" {
		cfg.Model.Provider = f.provider
	}
	if f.model != "" {
		cfg.Model.Name = f.model
	}
	if f.store != "" {
		cfg.Store.Driver = f.store
	}
	return cfg, cfg.Validate()
}

// openApp builds the application with logs going to the command's stderr.
func (f *rootFlags) openApp(cmd *cobra.Command, optFns ...func(o *flowmesh.Options)) (*flowmesh.App, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger(cmd.ErrOrStderr())
	optFns = append([]func(o *flowmesh.Options){func(o *flowmesh.Options) { o.Logger = logger }}, optFns...)
	return flowmesh.New(cmd.Context(), cfg, optFns...)
}
