package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/councilhq/quorum/pkg/platform"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agent definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newPlatformClient()
		if err != nil {
			return err
		}
		agents, err := api.ListAgents(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tROLE\tMODEL")
		for _, a := range agents {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Role, a.Model)
		}
		return w.Flush()
	},
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List agent groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newPlatformClient()
		if err != nil {
			return err
		}
		groups, err := api.ListGroups(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tAGENTS")
		for _, g := range groups {
			fmt.Fprintf(w, "%s\t%s\t%d\n", g.ID, g.Name, len(g.AgentIDs))
		}
		return w.Flush()
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates [id]",
	Short: "List workflow templates, or show one with its graph",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newPlatformClient()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			tpl, err := api.GetTemplate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", tpl.ID, tpl.Name)
			if tpl.Description != "" {
				fmt.Println(tpl.Description)
			}
			for _, n := range tpl.Graph.Nodes {
				fmt.Printf("  %s (%s) %s\n", n.ID, n.Type, n.Name)
			}
			for _, e := range tpl.Graph.Edges {
				fmt.Printf("  %s -> %s\n", e.Source, e.Target)
			}
			return nil
		}
		templates, err := api.ListTemplates(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tNODES")
		for _, t := range templates {
			fmt.Fprintf(w, "%s\t%s\t%d\n", t.ID, t.Name, len(t.Graph.Nodes))
		}
		return w.Flush()
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session <id>",
	Short: "Print the server's current snapshot of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, err := newPlatformClient()
		if err != nil {
			return err
		}
		snap, err := api.GetSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("session %s  workflow=%s  status=%s\n", snap.SessionID, snap.WorkflowID, snap.Status)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tTYPE\tNAME\tSTATUS")
		for _, n := range snap.Nodes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.ID, n.Type, n.Name, n.Status)
		}
		return w.Flush()
	},
}

func newPlatformClient() (*platform.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return platform.NewClient(cfg.ServerURL, cfg.APIToken), nil
}

func init() {
	rootCmd.AddCommand(agentsCmd, groupsCmd, templatesCmd, sessionCmd)
}
