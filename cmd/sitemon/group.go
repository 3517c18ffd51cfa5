package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
)

type groupAddOptions struct {
	name    string
	preset  string
	mode    string
	sites   []string
	windows []string
}

func newGroupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage rule groups",
	}
	cmd.AddCommand(newGroupListCmd())
	cmd.AddCommand(newGroupAddCmd())
	cmd.AddCommand(newGroupRemoveCmd())
	cmd.AddCommand(newGroupToggleCmd(true))
	cmd.AddCommand(newGroupToggleCmd(false))
	return cmd
}

func newGroupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rule groups with their sites and windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			cfg, err := store.Load()
			if err != nil {
				return err
			}

			fmt.Println("\n=== Rule Groups ===")
			if len(cfg.RuleGroups) == 0 {
				fmt.Println("\nNo rule groups. Add one with 'sitemon group add'.")
			}
			for _, g := range cfg.RuleGroups {
				printGroup(g)
			}
			fmt.Println("\n===================")
			return nil
		},
	}
}

func printGroup(g domain.RuleGroup) {
	enabled := "enabled"
	if !g.Enabled {
		enabled = "disabled"
	}
	fmt.Printf("\n[%s] %s (%s, %s)\n", g.ID, g.Name, g.Mode, enabled)
	if err := g.Validate(); err != nil {
		fmt.Printf("  INVALID: %v\n", err)
	}
	fmt.Println("  Sites:")
	for _, p := range g.Patterns {
		fmt.Printf("    - %s\n", p)
	}
	fmt.Println("  Windows:")
	if len(g.Windows) == 0 {
		fmt.Println("    (none, never active)")
	}
	for _, w := range g.Windows {
		fmt.Printf("    - %s\n", w)
	}
}

func newGroupAddCmd() *cobra.Command {
	opts := &groupAddOptions{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a rule group",
		Long: `Adds a rule group from explicit sites, a preset, or both.
Sites may be exact hostnames ("reddit.com") or wildcards ("*.reddit.com").
Windows are daily HH:MM-HH:MM ranges; 22:00-06:00 wraps past midnight.

Example:
  sitemon group add --preset video --window 09:00-17:00
  sitemon group add --name focus --mode allow --site docs.go.dev --window 09:00-12:00`,
		RunE: func(cmd *cobra.Command, args []string) error {
			group, err := buildGroup(opts, policy.NewRegistry())
			if err != nil {
				return err
			}

			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			added, err := store.AddGroup(group)
			if err != nil {
				return err
			}
			fmt.Printf("Added rule group %s\n", added.ID)
			printGroup(added)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name")
	cmd.Flags().StringVar(&opts.preset, "preset", "", "Seed sites from a preset (see 'sitemon presets')")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "deny or allow (default deny, or the preset's mode)")
	cmd.Flags().StringSliceVar(&opts.sites, "site", nil, "Site pattern, repeatable")
	cmd.Flags().StringSliceVar(&opts.windows, "window", nil, "Active window HH:MM-HH:MM, repeatable")
	return cmd
}

// buildGroup turns add flags into an enabled rule group.
func buildGroup(opts *groupAddOptions, presets *policy.Registry) (domain.RuleGroup, error) {
	windows, err := policy.ParseWindows(opts.windows)
	if err != nil {
		return domain.RuleGroup{}, err
	}

	group := domain.RuleGroup{Enabled: true, Mode: domain.ModeDeny, Windows: windows}
	if opts.preset != "" {
		p, err := presets.Get(opts.preset)
		if err != nil {
			return domain.RuleGroup{}, err
		}
		group = policy.ToGroup(p, windows)
	}

	if opts.mode != "" {
		mode, err := domain.ParseMode(opts.mode)
		if err != nil {
			return domain.RuleGroup{}, err
		}
		group.Mode = mode
	}
	if opts.name != "" {
		group.Name = opts.name
	}

	for _, s := range opts.sites {
		p := policy.NormalizePattern(s)
		if p == "" {
			return domain.RuleGroup{}, fmt.Errorf("invalid site %q", s)
		}
		group.Patterns = append(group.Patterns, p)
	}

	if len(group.Patterns) == 0 && group.Mode == domain.ModeDeny {
		return domain.RuleGroup{}, fmt.Errorf("a deny group needs at least one --site or a --preset")
	}
	if group.Name == "" {
		group.Name = strings.ToLower(string(group.Mode))
	}
	return group, nil
}

func newGroupRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a rule group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.RemoveGroup(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed rule group %s\n", args[0])
			return nil
		},
	}
}

func newGroupToggleCmd(enable bool) *cobra.Command {
	use, short := "disable <id>", "Disable a rule group"
	if enable {
		use, short = "enable <id>", "Enable a rule group"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			cfg, err := store.Load()
			if err != nil {
				return err
			}
			for _, g := range cfg.RuleGroups {
				if g.ID != args[0] {
					continue
				}
				g.Enabled = enable
				if err := store.UpdateGroup(g); err != nil {
					return err
				}
				fmt.Printf("Rule group %s %s\n", g.ID, toggleWord(enable))
				return nil
			}
			return fmt.Errorf("%w: %s", domain.ErrGroupNotFound, args[0])
		},
	}
}

// newEnableCmd builds the top-level switch for all blocking.
func newEnableCmd(enable bool) *cobra.Command {
	use, short := "disable", "Turn all blocking off"
	if enable {
		use, short = "enable", "Turn blocking on"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetEnabled(enable); err != nil {
				return err
			}
			fmt.Printf("Blocking %s\n", toggleWord(enable))
			return nil
		},
	}
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List built-in site presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := policy.NewRegistry()

			fmt.Println("\n=== Presets ===")
			for _, p := range registry.GetAll() {
				fmt.Printf("\n[%s] %s (%s)\n", p.ID(), p.Name(), p.DefaultMode())
				for _, s := range p.Patterns() {
					fmt.Printf("    - %s\n", s)
				}
			}
			fmt.Println("\n===============")
			return nil
		},
	}
}

func toggleWord(enable bool) string {
	if enable {
		return "enabled"
	}
	return "disabled"
}
