package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/MikhailWahib/stablestore/internal/btree"
	"github.com/MikhailWahib/stablestore/internal/record"
	"github.com/MikhailWahib/stablestore/internal/ticket"
)

// PayloadOptions holds the business field flags of add and update.
type PayloadOptions struct {
	*RootOptions
	Event string
	Price uint64
	Seat  string
}

func (o *PayloadOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Event, "event", "", "event name")
	cmd.Flags().Uint64Var(&o.Price, "price", 0, "ticket price")
	cmd.Flags().StringVar(&o.Seat, "seat", "", "seat label")
}

func (o *PayloadOptions) payload() record.Payload {
	return record.Payload{Event: o.Event, Price: o.Price, Seat: o.Seat}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	From  uint64
	Limit int
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			id, err := parseID(f, args[0])
			if err != nil {
				return err
			}
			return rootOpts.withService(func(svc *ticket.Service) error {
				t, err := svc.GetTicket(id)
				if err != nil {
					return report(f, err)
				}
				return f.Success(ticketOutput(t))
			})
		},
	}
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PayloadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a ticket",
		Long: `Create a ticket and print it with its assigned id.

Example:
  stablestore add --event Gig --price 50 --seat A1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			return opts.withService(func(svc *ticket.Service) error {
				t, err := svc.AddTicket(opts.payload())
				if err != nil {
					return report(f, err)
				}
				return f.Success(ticketOutput(t))
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PayloadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace the event, price and seat of a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			id, err := parseID(f, args[0])
			if err != nil {
				return err
			}
			return opts.withService(func(svc *ticket.Service) error {
				t, err := svc.UpdateTicket(id, opts.payload())
				if err != nil {
					return report(f, err)
				}
				return f.Success(ticketOutput(t))
			})
		},
	}
	opts.bind(cmd)
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a ticket and print its last state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			id, err := parseID(f, args[0])
			if err != nil {
				return err
			}
			return rootOpts.withService(func(svc *ticket.Service) error {
				t, err := svc.DeleteTicket(id)
				if err != nil {
					return report(f, err)
				}
				return f.Success(ticketOutput(t))
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print tickets in id order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			return opts.withService(func(svc *ticket.Service) error {
				tickets, err := svc.ListTickets(opts.From, opts.Limit)
				if err != nil {
					return report(f, err)
				}
				out := make(ticketListOutput, len(tickets))
				for i, t := range tickets {
					out[i] = ticketOutput(t)
				}
				return f.Success(out)
			})
		},
	}
	cmd.Flags().Uint64Var(&opts.From, "from", 0, "first id to include")
	cmd.Flags().IntVar(&opts.Limit, "limit", ticket.DefaultListLimit, "maximum number of tickets")
	return cmd
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print region and partition statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return rootOpts.withService(func(svc *ticket.Service) error {
				stats, err := svc.Stats()
				if err != nil {
					return report(f, err)
				}
				return f.Success(statsOutput(stats))
			})
		},
	}
}

func parseID(f *OutputFormatter, arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		msg := fmt.Sprintf("invalid id %q", arg)
		_ = f.Error(CodeInvalidInput, msg)
		return 0, WrapExitError(ExitCommandError, msg, err)
	}
	return id, nil
}

// report writes err in the output format and returns the matching ExitError.
func report(f *OutputFormatter, err error) error {
	var nf *ticket.NotFoundError
	switch {
	case errors.As(err, &nf):
		_ = f.Error(CodeNotFound, nf.Msg)
		return WrapExitError(ExitFailure, "ticket not found", err)
	case errors.Is(err, record.ErrCapacityExceeded),
		errors.Is(err, btree.ErrValueTooLarge),
		errors.Is(err, record.ErrInvalidPayload):
		_ = f.Error(CodeInvalidInput, err.Error())
		return WrapExitError(ExitCommandError, "invalid ticket", err)
	}
	_ = f.Error(CodeStorage, "storage failure")
	return WrapExitError(ExitStorageFailure, "storage failure", err)
}
