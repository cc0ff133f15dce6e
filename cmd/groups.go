package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"onebridge/pkg/logger"
	"onebridge/pkg/policy"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Inspect and change per-group reply policy",
	Long:  "Groups without an explicit setting are answered. Use disable to silence the bridge in a group.",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups with an explicit setting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store policy.AdminStore) error {
			return listGroups(cmd.Context(), store, cmd.OutOrStdout())
		})
	},
}

var groupsEnableCmd = &cobra.Command{
	Use:   "enable <group-id>",
	Short: "Answer messages in a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGroupFromArgs(cmd, args[0], true)
	},
}

var groupsDisableCmd = &cobra.Command{
	Use:   "disable <group-id>",
	Short: "Stop answering messages in a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGroupFromArgs(cmd, args[0], false)
	},
}

var groupsResetCmd = &cobra.Command{
	Use:   "reset <group-id>",
	Short: "Remove a group's setting so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, err := parseGroupID(args[0])
		if err != nil {
			return err
		}
		return withStore(func(store policy.AdminStore) error {
			return resetGroup(cmd.Context(), store, cmd.OutOrStdout(), groupID)
		})
	},
}

func init() {
	groupsCmd.AddCommand(groupsListCmd, groupsEnableCmd, groupsDisableCmd, groupsResetCmd)
	rootCmd.AddCommand(groupsCmd)
}

func withStore(fn func(policy.AdminStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := policy.Open(cfg.Groups, logger.Discard())
	if err != nil {
		return fmt.Errorf("open group store: %w", err)
	}
	defer store.Close()

	return fn(store)
}

func setGroupFromArgs(cmd *cobra.Command, raw string, enabled bool) error {
	groupID, err := parseGroupID(raw)
	if err != nil {
		return err
	}
	return withStore(func(store policy.AdminStore) error {
		return setGroup(cmd.Context(), store, cmd.OutOrStdout(), groupID, enabled)
	})
}

func parseGroupID(raw string) (int64, error) {
	groupID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || groupID <= 0 {
		return 0, fmt.Errorf("invalid group id %q", raw)
	}
	return groupID, nil
}

func listGroups(ctx context.Context, store policy.AdminStore, w io.Writer) error {
	settings, err := store.ListGroupSettings(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}

	yellow := color.New(color.FgYellow)
	if len(settings) == 0 {
		yellow.Fprintln(w, "No explicit group settings; every group is answered.")
		return nil
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	dim := color.New(color.Faint)

	yellow.Fprintf(w, "%-14s %-9s %s\n", "GROUP", "STATE", "UPDATED")
	for _, setting := range settings {
		fmt.Fprintf(w, "%-14d ", setting.GroupID)
		if setting.Enabled {
			green.Fprintf(w, "%-9s ", "enabled")
		} else {
			red.Fprintf(w, "%-9s ", "disabled")
		}
		dim.Fprintln(w, formatUpdated(setting.UpdatedAt))
	}
	return nil
}

func setGroup(ctx context.Context, store policy.AdminStore, w io.Writer, groupID int64, enabled bool) error {
	setting := policy.GroupSetting{GroupID: groupID, Enabled: enabled, UpdatedAt: time.Now().UTC()}
	if err := store.SetGroupSetting(ctx, setting); err != nil {
		return fmt.Errorf("update group %d: %w", groupID, err)
	}

	if enabled {
		color.New(color.FgGreen).Fprintf(w, "Group %d enabled\n", groupID)
	} else {
		color.New(color.FgRed).Fprintf(w, "Group %d disabled\n", groupID)
	}
	return nil
}

func resetGroup(ctx context.Context, store policy.AdminStore, w io.Writer, groupID int64) error {
	err := store.DeleteGroupSetting(ctx, groupID)
	if errors.Is(err, policy.ErrNotFound) {
		color.New(color.FgYellow).Fprintf(w, "Group %d has no explicit setting\n", groupID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reset group %d: %w", groupID, err)
	}

	color.New(color.FgCyan).Fprintf(w, "Group %d reset to default (enabled)\n", groupID)
	return nil
}

func formatUpdated(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
