package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/tidemark/pkg/config"
	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/connector/registry"
	"github.com/ajitpratap0/tidemark/pkg/connector/sources/erp"
	"github.com/ajitpratap0/tidemark/pkg/connector/sources/gdrive"

	// Import all available connectors to register them
	_ "github.com/ajitpratap0/tidemark/pkg/connector/destinations"
	_ "github.com/ajitpratap0/tidemark/pkg/connector/sources"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = config.LoadEnvFiles(".env")

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "tidemark",
		Short: "tidemark - incremental extraction from Visma.net ERP and Google Drive",
		Long: `tidemark pulls the rows that changed since the last run from the Visma.net ERP
API and from Google Drive folders, writes them to a destination and advances the
stored watermarks once each stream has completed.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the YAML configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tidemark v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "streams",
		Short: "List the streams the configuration defines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			printStreams(cmd, cfg)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "connectors",
		Short: "List registered sources and destinations",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Sources:")
			for _, name := range registry.ListSources() {
				fmt.Fprintf(out, "  - %s\n", name)
			}
			fmt.Fprintln(out, "\nDestinations:")
			for _, name := range registry.ListDestinations() {
				fmt.Fprintf(out, "  - %s\n", name)
			}
		},
	})

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	root.AddCommand(configCmd)

	root.AddCommand(newRunCommand(&configFile))
	return root
}

// configuredStreams returns the streams of every enabled source, in run order.
func configuredStreams(cfg *config.Config) map[string][]*core.Stream {
	out := make(map[string][]*core.Stream)
	if cfg.ERP.Enabled {
		out[erp.SourceName] = erp.Streams(cfg.ERP.InitialWatermark)
	}
	if cfg.Drive.Enabled {
		out[gdrive.SourceName] = gdrive.Streams(cfg.Drive)
	}
	return out
}

func printStreams(cmd *cobra.Command, cfg *config.Config) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tSTREAM\tTABLE\tMODE\tPRIMARY KEY\tCURSOR\tPAGE SIZE\tWATERMARKS")
	streams := configuredStreams(cfg)
	for _, name := range enabledSources(cfg) {
		for _, s := range streams[name] {
			pageSize := "-"
			if s.Paginated {
				pageSize = fmt.Sprint(s.PageSize)
			}
			cursor := s.Cursor.Field
			if cursor == "" {
				cursor = "-"
			}
			scope := "shared"
			if s.PerTenant {
				scope = "per-tenant"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				name, s.Name, s.TableName(), s.WriteMode, strings.Join(s.PrimaryKey, ","), cursor, pageSize, scope)
		}
	}
	_ = w.Flush()
}

// enabledSources returns the names of the enabled sources, in run order.
func enabledSources(cfg *config.Config) []string {
	var names []string
	if cfg.ERP.Enabled {
		names = append(names, erp.SourceName)
	}
	if cfg.Drive.Enabled {
		names = append(names, gdrive.SourceName)
	}
	return names
}
