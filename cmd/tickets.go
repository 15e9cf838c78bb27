package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/psds-microservice/support-chat/internal/model"
	"github.com/psds-microservice/support-chat/pkg/logger"
)

var ticketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "Create, list and move support tickets through the REST API",
}

var ticketsCreateCmd = &cobra.Command{
	Use:   "create <subject> <first message>",
	Short: "Open a ticket",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, _, err := clientSetup(logger.Nop())
		if err != nil {
			return err
		}
		id, err := client.CreateTicket(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ticket #%d created\n", id)
		return nil
	},
}

var ticketsMineCmd = &cobra.Command{
	Use:   "mine",
	Short: "List your tickets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, _, err := clientSetup(logger.Nop())
		if err != nil {
			return err
		}
		items, err := client.MyTickets(cmd.Context())
		if err != nil {
			return err
		}
		printTickets(cmd.OutOrStdout(), items)
		return nil
	},
}

var queueStatus string

var ticketsQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List the operator queue (operators and admins)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, _, err := clientSetup(logger.Nop())
		if err != nil {
			return err
		}
		items, err := client.OperatorTickets(cmd.Context(), model.TicketStatus(queueStatus))
		if err != nil {
			return err
		}
		printTickets(cmd.OutOrStdout(), items)
		return nil
	},
}

var ticketsInfoCmd = &cobra.Command{
	Use:   "info <ticket-id>",
	Short: "Show ticket metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTicketID(args[0])
		if err != nil {
			return err
		}
		_, client, _, err := clientSetup(logger.Nop())
		if err != nil {
			return err
		}
		info, err := client.TicketInfo(cmd.Context(), id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "#%d %s\n", info.ID, info.Subject)
		fmt.Fprintf(out, "status:    %s\n", info.Status.Label())
		fmt.Fprintf(out, "user:      %s (#%d)\n", info.UserName, info.UserID)
		if info.OperatorID != nil {
			name := ""
			if info.OperatorName != nil {
				name = *info.OperatorName
			}
			fmt.Fprintf(out, "operator:  %s (#%d)\n", name, *info.OperatorID)
		}
		fmt.Fprintf(out, "activity:  %s\n", info.LastMessageAt.Local().Format(time.DateTime))
		return nil
	},
}

var ticketsAssignCmd = &cobra.Command{
	Use:   "assign <ticket-id>",
	Short: "Take a new ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTicketID(args[0])
		if err != nil {
			return err
		}
		_, client, _, err := clientSetup(logger.Nop())
		if err != nil {
			return err
		}
		if err := client.AssignTicket(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ticket #%d assigned to you\n", id)
		return nil
	},
}

var ticketsCloseCmd = &cobra.Command{
	Use:   "close <ticket-id>",
	Short: "Close an active ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTicketID(args[0])
		if err != nil {
			return err
		}
		_, client, _, err := clientSetup(logger.Nop())
		if err != nil {
			return err
		}
		if err := client.CloseTicket(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ticket #%d closed\n", id)
		return nil
	},
}

func init() {
	ticketsQueueCmd.Flags().StringVar(&queueStatus, "status", string(model.TicketStatusNew), "ticket status: new, active or closed")
	ticketsCmd.AddCommand(ticketsCreateCmd, ticketsMineCmd, ticketsQueueCmd, ticketsInfoCmd, ticketsAssignCmd, ticketsCloseCmd)
}

func parseTicketID(s string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid ticket id %q", s)
	}
	return id, nil
}

func printTickets(w io.Writer, items []model.TicketSummary) {
	if len(items) == 0 {
		fmt.Fprintln(w, "no tickets")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSUBJECT\tUSER\tLAST ACTIVITY")
	for _, t := range items {
		user := t.UserName
		if user == "" && t.UserID != 0 {
			user = "#" + strconv.FormatUint(t.UserID, 10)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", t.ID, t.Status.Label(), t.Subject, user, t.LastMessageAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}
