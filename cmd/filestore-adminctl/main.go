// Command filestore-adminctl is a read-only inspector of a filestore
// server's on-disk state: the users.txt registry mirror and its effective
// configuration. It never talks to a running server over the wire; it
// reads the same files the server itself reads.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/nabbar/filestore/internal/config"
)

var (
	configPath  string
	storageRoot string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "filestore-adminctl",
		Short:        "Inspect a filestore server's registry and configuration offline",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the server's config file")
	root.PersistentFlags().StringVar(&storageRoot, "storage-root", "", "override the storage root (defaults to the config's value)")

	root.AddCommand(newUsersCommand())
	root.AddCommand(newQuotaCommand())
	root.AddCommand(newConfigCommand())
	return root
}

func resolveStorageRoot() (string, error) {
	if storageRoot != "" {
		return storageRoot, nil
	}
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.StorageRoot, nil
}

func newUsersCommand() *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Inspect registered accounts",
	}

	usersCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every registered account and its quota usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveStorageRoot()
			if err != nil {
				return err
			}
			rows, err := loadUsers(filepath.Join(root, "users.txt"))
			if err != nil {
				return err
			}

			out := colorable.NewColorableStdout()
			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"Username", "Quota Used"})
			table.SetAutoFormatHeaders(true)
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetBorder(false)
			table.SetHeaderLine(false)
			table.SetCenterSeparator("")
			table.SetColumnSeparator("")
			table.SetRowSeparator("")
			table.SetTablePadding("  ")
			table.SetNoWhiteSpace(true)

			for _, r := range rows {
				table.Append([]string{r.Username, fmt.Sprintf("%d bytes", r.QuotaUsed)})
			}
			table.Render()
			fmt.Fprintln(out, color.CyanString("%d account(s)", len(rows)))
			return nil
		},
	})

	usersCmd.AddCommand(&cobra.Command{
		Use:   "show <username>",
		Short: "Show one account's recorded quota usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveStorageRoot()
			if err != nil {
				return err
			}
			rows, err := loadUsers(filepath.Join(root, "users.txt"))
			if err != nil {
				return err
			}
			row, ok := findUser(rows, args[0])
			if !ok {
				return fmt.Errorf("no such user: %s", args[0])
			}

			out := colorable.NewColorableStdout()
			fmt.Fprintf(out, "%s: %s\n", color.CyanString("username"), row.Username)
			fmt.Fprintf(out, "%s: %d bytes\n", color.CyanString("quota_used"), row.QuotaUsed)
			return nil
		},
	})

	return usersCmd
}

func newQuotaCommand() *cobra.Command {
	quotaCmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect per-account quota usage against the configured limit",
	}

	quotaCmd.AddCommand(&cobra.Command{
		Use:   "show <username>",
		Short: "Show one account's quota usage against the configured limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(configPath)
			if err != nil {
				return err
			}
			root := storageRoot
			if root == "" {
				root = cfg.StorageRoot
			}
			rows, err := loadUsers(filepath.Join(root, "users.txt"))
			if err != nil {
				return err
			}
			row, ok := findUser(rows, args[0])
			if !ok {
				return fmt.Errorf("no such user: %s", args[0])
			}

			pct := 0.0
			if cfg.UserQuota > 0 {
				pct = float64(row.QuotaUsed) / float64(cfg.UserQuota) * 100
			}

			out := colorable.NewColorableStdout()
			fmt.Fprintf(out, "%s: %s\n", color.CyanString("username"), row.Username)
			fmt.Fprintf(out, "%s: %d bytes\n", color.CyanString("quota_used"), row.QuotaUsed)
			fmt.Fprintf(out, "%s: %d bytes\n", color.CyanString("quota_limit"), cfg.UserQuota)
			fmt.Fprintf(out, "%s: %.1f%%\n", color.CyanString("quota_used_pct"), pct)
			return nil
		},
	})

	return quotaCmd
}

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective server configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (env > file > defaults)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(configPath)
			if err != nil {
				return err
			}

			out := colorable.NewColorableStdout()
			fmt.Fprintf(out, "%s: %d\n", color.CyanString("port"), cfg.Port)
			fmt.Fprintf(out, "%s: %d\n", color.CyanString("session_pool_size"), cfg.SessionPoolSize)
			fmt.Fprintf(out, "%s: %d\n", color.CyanString("file_pool_size"), cfg.FilePoolSize)
			fmt.Fprintf(out, "%s: %d\n", color.CyanString("connection_queue_capacity"), cfg.ConnectionQueueCapacity)
			fmt.Fprintf(out, "%s: %d\n", color.CyanString("task_queue_capacity"), cfg.TaskQueueCapacity)
			fmt.Fprintf(out, "%s: %s\n", color.CyanString("storage_root"), cfg.StorageRoot)
			fmt.Fprintf(out, "%s: %d\n", color.CyanString("user_quota"), cfg.UserQuota)
			fmt.Fprintf(out, "%s: %d\n", color.CyanString("max_users"), cfg.MaxUsers)
			fmt.Fprintf(out, "%s: %d\n", color.CyanString("max_upload_size"), cfg.MaxUploadSize)
			fmt.Fprintf(out, "%s: %d\n", color.CyanString("metrics_port"), cfg.MetricsPort)
			return nil
		},
	})

	return configCmd
}
