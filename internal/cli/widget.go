package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jaakkos/sharedstore/internal/app"
	"github.com/jaakkos/sharedstore/internal/domain"
	"github.com/jaakkos/sharedstore/internal/lifecycle"
)

// NewWidgetCommand creates the widget command: a lightweight extension that
// shows the record count and refreshes it on every store change.
func NewWidgetCommand(rootOpts *RootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "widget",
		Short: "Run as an extension and print the record count on every change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProcess(cmd.Context(), rootOpts, runOptions{role: domain.RoleExtension}, func(ctx context.Context, p *lifecycle.Process) error {
				return runWidget(ctx, p, cmd.OutOrStdout(), cmd.ErrOrStderr(), rootOpts.Format, once)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "print the count once and exit")
	return cmd
}

func runWidget(ctx context.Context, p *lifecycle.Process, out, errOut io.Writer, format string, once bool) error {
	changed := make(chan struct{}, 1)
	sub := p.Notifier.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer sub.Unsubscribe()

	show := func() error {
		return writeCount(out, format, len(p.Accessor.FetchAll(ctx, domain.KindRecord)))
	}
	if err := show(); err != nil {
		return err
	}
	if once {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-changed:
				if err := show(); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		reportFailures(gctx, p.Errors, errOut)
		return nil
	})
	return g.Wait()
}

// reportFailures prints reported failures other than cancellations until ctx is done.
func reportFailures(ctx context.Context, errs *app.ErrorChannel, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs.C():
			var opErr *app.OpError
			if errors.As(err, &opErr) && opErr.Kind == app.FailureCancelled {
				continue
			}
			fmt.Fprintf(w, "warning: %v\n", err)
		}
	}
}
