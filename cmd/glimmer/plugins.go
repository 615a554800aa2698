package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ayusman/glimmer/internal/plugin"
	"github.com/ayusman/glimmer/internal/store"
)

func newPluginsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage animation plugins",
	}
	cmd.AddCommand(
		newPluginsListCmd(flags),
		newPluginsInstallCmd(flags),
		newPluginsRemoveCmd(flags),
		newPluginsPackCmd(),
	)
	return cmd
}

// openManager builds a manager for catalog work. Instances are never made,
// so the light positions do not matter.
func openManager(flags *rootFlags) (*plugin.Manager, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, err
	}
	manager := plugin.NewManager(plugin.Config{
		Dir:    cfg.PluginDir,
		Logger: setupLogger(cfg.LogLevel, flags.logFormat),
	})
	if err := manager.Discover(); err != nil {
		manager.Close()
		return nil, err
	}
	return manager, nil
}

func newPluginsListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := openManager(flags)
			if err != nil {
				return err
			}
			defer manager.Close()

			plugins := manager.List()
			if len(plugins) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no plugins in %s\n", manager.PluginDir())
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tVERSION\tTAGS")
			for _, p := range plugins {
				m := p.Manifest
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.DisplayName, m.PluginType, m.Version, strings.Join(m.Tags, ","))
			}
			return w.Flush()
		},
	}
}

func newPluginsInstallCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "install ARCHIVE...",
		Short: "Install .crab plugin archives into the plugin directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := openManager(flags)
			if err != nil {
				return err
			}
			defer manager.Close()

			for _, archive := range args {
				p, err := manager.Install(archive)
				if err != nil {
					return fmt.Errorf("install %s: %w", archive, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "installed %s %s\n", p.Manifest.ID, p.Manifest.Version)
			}
			return nil
		},
	}
}

func newPluginsRemoveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove an installed plugin and its saved parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := openManager(flags)
			if err != nil {
				return err
			}
			defer manager.Close()

			id := args[0]
			if err := manager.Remove(id); err != nil {
				return err
			}

			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Database); err == nil {
				st, err := store.New(cfg.Database)
				if err != nil {
					return err
				}
				defer st.Close()
				if err := st.Forget(context.Background(), id); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			return nil
		},
	}
}

func newPluginsPackCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "pack DIR",
		Short: "Pack a wasm plugin directory into a .crab archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			raw, err := os.ReadFile(filepath.Join(dir, plugin.ManifestFile))
			if err != nil {
				return err
			}
			manifest, err := plugin.ValidateManifest(raw)
			if err != nil {
				return err
			}
			if manifest.PluginType != plugin.TypeWasm {
				return fmt.Errorf("only wasm plugins can be packed, %s is %s", manifest.ID, manifest.PluginType)
			}
			module, err := os.ReadFile(filepath.Join(dir, plugin.ModuleFile))
			if err != nil {
				return err
			}

			if out == "" {
				out = manifest.ID + plugin.ArchiveSuffix
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := plugin.WriteArchive(f, *manifest, module); err != nil {
				f.Close()
				os.Remove(out)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "archive path (default <id>.crab)")
	return cmd
}
