package commands

import (
	"github.com/spf13/cobra"

	"waitroom-intake/internal/config"
)

var (
	policyFile string
	verbose    bool
)

// NewRootCmd creates the root command with its subcommands.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Conversational patient intake",
		Long: `intake interviews a patient one question at a time, builds a structured
clinical profile from the answers and hands a summary to the clinician.

Configuration is read from the environment (and a .env file if present).
See "intake chat --help" to run an interview in the terminal.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&policyFile, "policy", "", "completion policy YAML file (overrides COMPLETION_POLICY_FILE)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log oracle steps to stderr")

	cmd.AddCommand(NewChatCmd())
	cmd.AddCommand(NewPolicyCmd())
	cmd.AddCommand(NewVersionCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads the environment and applies the --policy flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if policyFile != "" {
		cfg.PolicyFile = policyFile
	}
	return cfg, nil
}
