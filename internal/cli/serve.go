package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikhailWahib/stablestore/internal/handler"
	"github.com/MikhailWahib/stablestore/internal/logging"
	"github.com/MikhailWahib/stablestore/internal/router"
	"github.com/MikhailWahib/stablestore/internal/ticket"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ticket API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := opts.cfg.ListenAddr
			if cmd.Flags().Changed("addr") {
				addr = opts.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return opts.withService(func(svc *ticket.Service) error {
				h := handler.NewTicketHandler(svc, nil)
				if err := router.Run(ctx, router.New(h), addr); err != nil {
					return WrapExitError(ExitCommandError, "http server failed", err)
				}
				logging.Info("http server stopped")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	return cmd
}
