package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-ems/internal/bridges/ems"
	"github.com/nerrad567/gray-logic-ems/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ems/internal/infrastructure/database"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// newTable returns a bordered table with the shared styles.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the built-in device profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printProfiles(cmd.OutOrStdout(), ems.DefaultFactory().Profiles())
		},
	}
}

func printProfiles(w io.Writer, profiles []ems.Profile) error {
	t := newTable("TYPE", "DESCRIPTION")
	for _, p := range profiles {
		t.Row(p.Type, p.Description)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func newTypesCmd(configPath func() string) *cobra.Command {
	var unhandled bool

	cmd := &cobra.Command{
		Use:   "types",
		Short: "Show telegram types recorded on the bus",
		Long: `Types lists the telegram types the recorder has seen, per source address.
Recording is enabled with protocols.ems.record_types or recorder.enabled in
the bridge configuration. Use --unhandled to show only types no device
profile decodes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			db, err := database.Open(cmd.Context(), database.Config{
				Path:        cfg.Database.Path,
				WALMode:     cfg.Database.WALMode,
				BusyTimeout: cfg.Database.BusyTimeout,
			})
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close() //nolint:errcheck // read-only command

			if err := db.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}

			seen, err := ems.NewTypeRecorder(db.DB).Seen(cmd.Context(), unhandled)
			if err != nil {
				return fmt.Errorf("reading recorded types: %w", err)
			}
			return printTypes(cmd.OutOrStdout(), seen)
		},
	}
	cmd.Flags().BoolVar(&unhandled, "unhandled", false, "Only show types no profile decodes")
	return cmd
}

func printTypes(w io.Writer, seen []ems.SeenType) error {
	if len(seen) == 0 {
		_, err := fmt.Fprintln(w, "no telegram types recorded")
		return err
	}

	t := newTable("SOURCE", "TYPE", "COUNT", "HANDLED", "LAST SEEN", "LAST DATA")
	for _, s := range seen {
		handled := "no"
		if s.Handled {
			handled = "yes"
		}
		t.Row(
			fmt.Sprintf("0x%02X", s.Source),
			fmt.Sprintf("0x%X", s.TypeID),
			strconv.FormatInt(s.MessageCount, 10),
			handled,
			s.LastSeen.Local().Format(time.DateTime),
			s.LastData,
		)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}
