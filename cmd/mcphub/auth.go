package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rowanlm/mcphub/internal/domain"
	"github.com/rowanlm/mcphub/shared/backoff"
)

// connectCmd starts an OAuth authorization and waits for the user to finish it
func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <user> <server>",
		Short: "Authorize a user against a remote MCP server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, serverID := args[0], args[1]
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, url, err := a.ctrl.Start(ctx, userID, serverID)
			if err != nil {
				return err
			}

			fmt.Println("Open this URL in your browser to authorize:")
			fmt.Println()
			fmt.Printf("  %s\n", url)
			fmt.Println()
			fmt.Println("Waiting for authorization...")

			var final *domain.AuthSession
			err = backoff.Poll(ctx, backoff.Polling, sess.ExpiresAt, func(ctx context.Context) (bool, error) {
				s, err := a.ctrl.Poll(ctx, sess.ID)
				if err != nil {
					return false, err
				}
				if s.Status == domain.AuthPending {
					return false, nil
				}
				final = s
				return true, nil
			})
			if err != nil {
				return fmt.Errorf("authorization did not complete: %w", err)
			}

			switch final.Status {
			case domain.AuthCompleted:
				fmt.Printf("Connected: %s is authorized for %s\n", userID, serverID)
				return nil
			case domain.AuthExpired:
				return fmt.Errorf("authorization expired before it was completed")
			default:
				return fmt.Errorf("authorization failed: %s", final.Error)
			}
		},
	}
}

// connectionsCmd lists a user's stored server credentials
func connectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connections <user>",
		Short: "List a user's authorized servers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			statuses, err := a.tokens.List(ctx, args[0])
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No connections.")
				return nil
			}

			fmt.Printf("%-24s %-10s %s\n", "SERVER", "STATUS", "EXPIRES")
			for _, cs := range statuses {
				expires := "-"
				if !cs.ExpiresAt.IsZero() {
					expires = cs.ExpiresAt.Format("2006-01-02 15:04:05")
				}
				fmt.Printf("%-24s %-10s %s\n", cs.ServerID, cs.Status, expires)
			}
			return nil
		},
	}
}

// disconnectCmd deletes a stored credential
func disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <user> <server>",
		Short: "Remove a user's credential for a server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.tokens.Delete(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Disconnected %s from %s\n", args[0], args[1])
			return nil
		},
	}
}
