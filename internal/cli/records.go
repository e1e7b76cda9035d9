package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaakkos/sharedstore/internal/domain"
	"github.com/jaakkos/sharedstore/internal/lifecycle"
)

// roleFlag adds --role to cmd, defaulting to def.
func roleFlag(cmd *cobra.Command, role *string, def domain.Role) {
	cmd.Flags().StringVar(role, "role", string(def), "process role (application|extension)")
}

func parseRole(s string) (domain.Role, error) {
	role, ok := domain.ParseRole(s)
	if !ok {
		return "", NewExitError(ExitCommandError, fmt.Sprintf("invalid role %q: must be application or extension", s))
	}
	return role, nil
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "create [name...]",
		Short: "Create records and save",
		Long: `Create one record per name and save. Without names a single record
called "Object: <count>" is created. Duplicate names are allowed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			return withProcess(cmd.Context(), rootOpts, runOptions{role: r, waitSetup: true}, func(ctx context.Context, p *lifecycle.Process) error {
				if len(args) == 0 {
					args = []string{p.Accessor.NextName(ctx)}
				}
				var created []domain.Record
				for _, name := range args {
					created = append(created, p.Accessor.Insert(name))
				}
				p.Accessor.Save(ctx)
				if p.Accessor.Context().HasChanges() {
					return NewExitError(ExitFailure, "save failed; see log")
				}
				return writeRecords(cmd.OutOrStdout(), rootOpts.Format, created)
			})
		},
	}
	roleFlag(cmd, &role, domain.RoleApplication)
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "delete <id-or-name>...",
		Short: "Delete records by id or name and save",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			return withProcess(cmd.Context(), rootOpts, runOptions{role: r, waitSetup: true}, func(ctx context.Context, p *lifecycle.Process) error {
				want := make(map[string]bool, len(args))
				for _, a := range args {
					want[a] = true
				}
				var deleted []domain.Record
				for _, rec := range p.Accessor.FetchAll(ctx, domain.KindRecord) {
					if want[rec.ID] || want[rec.Name] {
						p.Accessor.Delete(rec.ID)
						deleted = append(deleted, rec)
					}
				}
				if len(deleted) == 0 {
					return NewExitError(ExitFailure, "no matching records")
				}
				p.Accessor.Save(ctx)
				if p.Accessor.Context().HasChanges() {
					return NewExitError(ExitFailure, "save failed; see log")
				}
				return writeRecords(cmd.OutOrStdout(), rootOpts.Format, deleted)
			})
		},
	}
	roleFlag(cmd, &role, domain.RoleApplication)
	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcess(cmd.Context(), rootOpts, runOptions{role: domain.RoleExtension}, func(ctx context.Context, p *lifecycle.Process) error {
				return writeRecords(cmd.OutOrStdout(), rootOpts.Format, p.Accessor.FetchAll(ctx, domain.KindRecord))
			})
		},
	}
	return cmd
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcess(cmd.Context(), rootOpts, runOptions{role: domain.RoleExtension}, func(ctx context.Context, p *lifecycle.Process) error {
				return writeCount(cmd.OutOrStdout(), rootOpts.Format, len(p.Accessor.FetchAll(ctx, domain.KindRecord)))
			})
		},
	}
	return cmd
}

type recordJSON struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

func writeRecords(w io.Writer, format string, recs []domain.Record) error {
	if format == "json" {
		out := make([]recordJSON, 0, len(recs))
		for _, r := range recs {
			out = append(out, recordJSON{ID: r.ID, Name: r.Name, Created: r.Created})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	for _, r := range recs {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.Created.Format(time.RFC3339), r.Name); err != nil {
			return err
		}
	}
	return nil
}

func writeCount(w io.Writer, format string, n int) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(map[string]int{"count": n})
	}
	_, err := fmt.Fprintln(w, n)
	return err
}
