package cli

import (
	"fmt"

	"github.com/Harshitk-cp/leandeep/internal/config"
	"github.com/Harshitk-cp/leandeep/internal/engine"
	"github.com/Harshitk-cp/leandeep/internal/registry"
	"github.com/Harshitk-cp/leandeep/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	registryPath string
	output       string
	verbose      bool
}

// NewRootCmd builds the ldctl command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "ldctl",
		Short: "Run the LeanDeep marker engine from the command line",
		Long: `ldctl loads a marker registry and runs the four-layer detection
pipeline (ATO, SEM, CLU, MEMA) against text or conversations without
starting the HTTP server.

Examples:
  ldctl analyze "Du hörst mir nie zu!"
  ldctl conversation --file chat.yaml --dynamics
  ldctl markers --layer SEM --search anger
  ldctl validate build/markers_rated/marker_registry.json
  ldctl keys add acme --file api_keys.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(); err != nil {
				return err
			}
			switch g.output {
			case outputTable, outputJSON, outputYAML:
				return nil
			default:
				return fmt.Errorf("unknown output format %q (valid: table, json, yaml)", g.output)
			}
		},
	}

	root.PersistentFlags().StringVar(&g.registryPath, "registry", "", "marker registry file (default $REGISTRY_PATH)")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", outputTable, "output format: table, json or yaml")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log registry loading and engine diagnostics")

	root.AddCommand(newAnalyzeCmd(g))
	root.AddCommand(newConversationCmd(g))
	root.AddCommand(newMarkersCmd(g))
	root.AddCommand(newValidateCmd(g))
	root.AddCommand(newKeysCmd(g))
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (g *globals) logger() *zap.Logger {
	if !g.verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func (g *globals) registry() string {
	if g.registryPath != "" {
		return g.registryPath
	}
	return config.RegistryPath()
}

// loadEngine loads the registry and wraps it in an engine.
func (g *globals) loadEngine() (*engine.Engine, *registry.LoadStats, error) {
	logger := g.logger()
	reg := registry.New(logger.Named("registry"))
	stats, err := reg.LoadFile(g.registry())
	if err != nil {
		return nil, nil, fmt.Errorf("load registry %s: %w", g.registry(), err)
	}
	return engine.New(reg, engine.DefaultGateConfig(), logger.Named("engine")), stats, nil
}

func (g *globals) analysisService() (*service.AnalysisService, error) {
	e, _, err := g.loadEngine()
	if err != nil {
		return nil, err
	}
	limits := service.Limits{
		DefaultThreshold: config.DefaultThreshold(),
		MaxTextLength:    config.MaxTextLength(),
		MaxMessages:      config.MaxConversationMessages(),
		MaxBatch:         config.MaxBatchSize(),
		BatchConcurrency: config.BatchConcurrency(),
	}
	return service.NewAnalysisService(e, limits, g.logger()), nil
}
