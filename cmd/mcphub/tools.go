package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rowanlm/mcphub/internal/engine"
)

// toolsCmd groups the tool discovery and invocation commands
func toolsCmd() *cobra.Command {
	var agent, user string
	var servers []string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Discover and invoke MCP tools",
	}
	cmd.PersistentFlags().StringVar(&agent, "agent", "cli", "agent name the connection acts as")
	cmd.PersistentFlags().StringVar(&user, "user", "default_user", "user the connection acts for")
	cmd.PersistentFlags().StringSliceVar(&servers, "servers", nil, "server ids to attach (default: all registered)")

	binding := func(a *app) engine.AgentBinding {
		attached := servers
		if len(attached) == 0 {
			attached = a.reg.IDs()
		}
		return engine.AgentBinding{Agent: agent, User: user, Servers: attached}
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Discover tools and print their documentation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			eng, mgr := a.engine()
			defer mgr.Close()

			doc, err := eng.ListTools(ctx, binding(a))
			if err != nil {
				return err
			}
			fmt.Print(doc)
			return nil
		},
	}

	var argsJSON string
	callCmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke one tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var toolArgs map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
					return fmt.Errorf("invalid --args JSON: %w", err)
				}
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			eng, mgr := a.engine()
			defer mgr.Close()

			result, err := eng.Invoke(ctx, binding(a), args[0], toolArgs)
			if err != nil {
				return err
			}

			for _, item := range result.Content {
				switch item.Type {
				case "text":
					fmt.Println(item.Text)
				default:
					fmt.Printf("[%s content", item.Type)
					if item.MimeType != "" {
						fmt.Printf(", %s", item.MimeType)
					}
					fmt.Println("]")
				}
			}
			return nil
		},
	}
	callCmd.Flags().StringVar(&argsJSON, "args", "", "tool arguments as a JSON object")

	cmd.AddCommand(listCmd, callCmd)
	return cmd
}
