package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Open-WP-Club/plugin-hub/internal/api"
	"github.com/Open-WP-Club/plugin-hub/internal/auth"
	"github.com/Open-WP-Club/plugin-hub/internal/config"
	"github.com/Open-WP-Club/plugin-hub/internal/hub"
	"github.com/Open-WP-Club/plugin-hub/internal/status"
)

// rootFlags are shared by every subcommand
type rootFlags struct {
	configPath string
	logLevel   string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "pluginhub",
		Short: "Install and manage plugins published by a GitHub organization",
		Long: `Plugin Hub lists the plugins an organization publishes, shows whether each
one is installed, active, disabled or outdated and runs the lifecycle actions.

"pluginhub serve" runs the HTTP API. Every other command runs one action
locally as the CLI user configured under "cli".`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default: CONFIG_PATH or <data>/config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newServeCmd(flags),
		newListCmd(flags),
		newRefreshCmd(flags),
		newUpdatesCmd(flags),
		newBulkCmd(flags),
		newVerifyCmd(flags),
		newChangelogCmd(flags),
		newUninstallCmd(flags),
		newTokenCmd(flags),
	)
	root.AddCommand(newActionCmds(flags)...)
	return root
}

// withApp opens the app for a local command. Local commands log to stderr
// so stdout only carries results.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, a *app) error) error {
	level := flags.logLevel
	if level == "" {
		level = "warn"
	}
	a, err := newApp(cmd.Context(), appOptions{ConfigPath: flags.configPath, LogLevel: level, LogOutput: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult writes an action result as JSON or as its message
func printResult(cmd *cobra.Command, flags *rootFlags, res hub.Result) error {
	if flags.jsonOutput {
		return printJSON(cmd.OutOrStdout(), res)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return err
}

func newListCmd(flags *rootFlags) *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the organization's plugins with their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				listing, err := a.svc.Listing(ctx, a.cliPrincipal(), status.ParseFilter(filter))
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(cmd.OutOrStdout(), listing)
				}
				return writeListing(cmd.OutOrStdout(), listing)
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", string(status.FilterAll), "one of all, active, inactive, update, beta, disabled")
	return cmd
}

func writeListing(w io.Writer, listing status.Listing) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLUGIN\tNAME\tINSTALLED\tLATEST\tSTATUS\tACTIONS")
	for _, v := range listing.Plugins {
		actions := make([]string, 0, len(v.Actions))
		for _, act := range v.Actions {
			actions = append(actions, string(act))
		}
		label := string(v.Status)
		if v.Beta {
			label += " (beta)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.Plugin.ID, v.Plugin.DisplayName, v.State.InstalledVersion, v.Plugin.Version, label, strings.Join(actions, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	parts := make([]string, 0, len(status.Filters))
	for _, f := range status.Filters {
		parts = append(parts, fmt.Sprintf("%s (%d)", filterLabels[f], listing.Counts[f]))
	}
	_, err := fmt.Fprintf(w, "\n%s\n", strings.Join(parts, " | "))
	return err
}

var filterLabels = map[status.Filter]string{
	status.FilterAll:      "All",
	status.FilterActive:   "Active",
	status.FilterInactive: "Inactive",
	status.FilterUpdate:   "Update Available",
	status.FilterBeta:     "Beta",
	status.FilterDisabled: "Disabled",
}

func newRefreshCmd(flags *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the cached plugin list",
		Long: `Refresh drops the cached plugin list and fetches it again. With --force the
latest release of every listed plugin is looked up on GitHub instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				var (
					res hub.Result
					err error
				)
				if force {
					res, err = a.svc.Do(ctx, a.cliPrincipal(), hub.ActionForceRefresh, hub.Params{})
				} else {
					res, err = a.svc.RefreshCache(ctx, a.cliPrincipal())
				}
				if err != nil {
					return err
				}
				return printResult(cmd, flags, res)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "look up the latest release of every plugin")
	return cmd
}

// actionSpec describes a single-plugin lifecycle command
type actionSpec struct {
	use     string
	short   string
	action  string
	version bool
}

var actionSpecs = []actionSpec{
	{use: "install", short: "Install a plugin from its GitHub release", action: hub.ActionInstall, version: true},
	{use: "update", short: "Update an installed plugin to a release", action: hub.ActionUpdate, version: true},
	{use: "activate", short: "Activate an installed plugin", action: hub.ActionActivate},
	{use: "deactivate", short: "Deactivate a plugin", action: hub.ActionDeactivate},
	{use: "disable", short: "Deactivate a plugin and mark it disabled", action: hub.ActionDisable},
	{use: "delete", short: "Delete an inactive plugin", action: hub.ActionDelete},
}

func newActionCmds(flags *rootFlags) []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(actionSpecs))
	for _, spec := range actionSpecs {
		spec := spec
		var in hub.Params
		cmd := &cobra.Command{
			Use:   spec.use + " <plugin>",
			Short: spec.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				in.Repo = args[0]
				return withApp(cmd, flags, func(ctx context.Context, a *app) error {
					if spec.version && in.Version == "" && in.URL == "" {
						in.Version, _ = a.svc.ListedVersion(ctx, in.Repo)
					}
					res, err := a.svc.Do(ctx, a.cliPrincipal(), spec.action, in)
					if err != nil {
						return err
					}
					return printResult(cmd, flags, res)
				})
			},
		}
		if spec.version {
			cmd.Flags().StringVar(&in.Version, "version", "", "release version (default: the listed version)")
			cmd.Flags().StringVar(&in.URL, "url", "", "package URL to install instead of the release archive")
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

func newBulkCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk <action> <plugin>...",
		Short: "Run one action over several plugins in order",
		Long: `Bulk runs install, update, activate, deactivate, disable or delete for each
plugin one after another. A failing plugin does not stop the run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items := make([]hub.BulkItem, 0, len(args)-1)
			for _, repo := range args[1:] {
				items = append(items, hub.BulkItem{Repo: repo})
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if action, ok := hub.ResolveBulkAction(args[0]); ok && (action == hub.ActionInstall || action == hub.ActionUpdate) {
					for i := range items {
						items[i].Version, _ = a.svc.ListedVersion(ctx, items[i].Repo)
					}
				}
				ctx, cancel := context.WithTimeout(ctx, hub.BulkTimeout)
				defer cancel()

				report, err := a.svc.RunBulk(ctx, a.cliPrincipal(), args[0], items, api.ValidateBulkItem)
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(cmd.OutOrStdout(), report)
				}
				out := cmd.OutOrStdout()
				for _, r := range report.Results {
					mark := "ok"
					if !r.Success {
						mark = "failed"
					}
					fmt.Fprintf(out, "%-8s %s: %s\n", mark, r.Repo, r.Message)
				}
				_, err = fmt.Fprintln(out, report.Message)
				return err
			})
		},
	}
}

func newVerifyCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <plugin> <version>",
		Short: "Check that a plugin is installed at the expected version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				res, err := a.svc.Do(ctx, a.cliPrincipal(), hub.ActionVerify, hub.Params{Repo: args[0], Version: args[1]})
				if err != nil {
					return err
				}
				return printResult(cmd, flags, res)
			})
		},
	}
}

func newChangelogCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "changelog <plugin> <current-version> <new-version>",
		Short: "Show release notes between two versions",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				res, err := a.svc.Do(ctx, a.cliPrincipal(), hub.ActionChangelog, hub.Params{
					Repo:           args[0],
					CurrentVersion: args[1],
					NewVersion:     args[2],
				})
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Changelog)
				return err
			})
		},
	}
}

func newUpdatesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "updates",
		Short: "List update offers for installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				offers, err := a.svc.UpdateOffers(ctx, a.cliPrincipal())
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(cmd.OutOrStdout(), offers)
				}
				out := cmd.OutOrStdout()
				if len(offers) == 0 {
					_, err := fmt.Fprintln(out, "All plugins are up to date.")
					return err
				}
				for _, o := range offers {
					fmt.Fprintf(out, "%s -> %s (%s)\n", o.Slug, o.NewVersion, o.Package)
				}
				return nil
			})
		},
	}
}

func newUninstallCmd(flags *rootFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove every option the hub has stored",
		Long: `Uninstall removes the tracked plugin list, the beta preference, the cached
plugin list and every disabled flag. Installed plugins are left in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to remove hub state without --yes")
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				n, err := a.svc.Purge(ctx, a.cliPrincipal())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stored options.\n", n)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm removal")
	return cmd
}

func newTokenCmd(flags *rootFlags) *cobra.Command {
	var (
		role string
		caps []string
	)
	cmd := &cobra.Command{
		Use:   "token <user>",
		Short: "Create or rotate an API token for a user",
		Long: `Token generates a new API token for the user, stores it encrypted in the
config file and prints it once. A running server picks the change up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !auth.ValidRole(auth.Role(role)) {
				return fmt.Errorf("unknown role %q", role)
			}
			path := resolveConfigPath(flags.configPath)
			cfg, err := config.LoadOrDefault(path)
			if err != nil {
				return err
			}
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Creating config file %s\n", path)
			}

			token := uuid.NewString()
			if err := cfg.UpsertUser(config.UserConfig{Name: args[0], Token: token, Role: role, Capabilities: caps}); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&role, "role", string(auth.RoleAdministrator), "administrator, operator or viewer")
	cmd.Flags().StringSliceVar(&caps, "capability", nil, "extra capability to grant (repeatable)")
	return cmd
}
