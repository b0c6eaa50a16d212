package commands

import (
	"github.com/spf13/cobra"

	"waitroom-intake/internal/core"
)

// NewPolicyCmd creates the policy command
func NewPolicyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the effective completion policy",
		Long: `Print the completion policy the interview will use, as YAML.

The policy comes from --policy, then COMPLETION_POLICY_FILE, then the built-in
defaults. TURN_CAP overrides the turn cap of any of them.`,
		RunE: runPolicy,
	}
}

func runPolicy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	out, err := core.MarshalPolicy(policy)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
