package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jaakkos/sharedstore/internal/domain"
	"github.com/jaakkos/sharedstore/internal/lifecycle"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the store with the remote container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcess(cmd.Context(), rootOpts, runOptions{role: domain.RoleApplication, waitSetup: true}, func(ctx context.Context, p *lifecycle.Process) error {
				if !p.Coordinator.Ready() {
					return NewExitError(ExitCommandError, "sync disabled: no remote account available")
				}
				// Setup already ran one sync; run again so the result reflects
				// anything written since.
				if err := p.Coordinator.Synchronize(ctx); err != nil {
					return WrapExitError(ExitFailure, "sync", err)
				}
				n := len(p.Accessor.FetchAll(ctx, domain.KindRecord))
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "synchronized, %d records\n", n)
				return err
			})
		},
	}
	return cmd
}

// NewEraseCommand creates the erase command.
func NewEraseCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase all records locally and in the remote container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "refusing to erase without --yes")
			}
			return withProcess(cmd.Context(), rootOpts, runOptions{role: domain.RoleApplication, waitSetup: true}, func(ctx context.Context, p *lifecycle.Process) error {
				if !p.Coordinator.Ready() {
					return NewExitError(ExitCommandError, "erase needs a remote account; sync is disabled")
				}
				if err := p.Coordinator.Erase(ctx); err != nil {
					return WrapExitError(ExitFailure, "erase", err)
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "erased")
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm erasing all data")
	return cmd
}
