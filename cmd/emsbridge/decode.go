package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-ems/internal/bridges/ems"
)

var (
	frameStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	kindStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Width(28)
	valueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func newDecodeCmd() *cobra.Command {
	var (
		profile string
		busID   string
	)

	cmd := &cobra.Command{
		Use:   "decode [frame...]",
		Short: "Decode hex frames captured from the bus",
		Long: `Decode parses EMS frames written as hex (spaces optional, '#' starts a
comment). Frames are taken from the arguments, or from stdin one per line.

With --profile the frames are also dispatched to a device of that profile,
and every value they change is printed.`,
		Example: `  emsbridge decode "15 00 FF 00 08 37 2C 01 51"
  emsbridge decode --profile extension --bus-id 0x15 < capture.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var dev *ems.Device
			if profile != "" {
				var err error
				if dev, err = buildDevice(profile, busID); err != nil {
					return err
				}
			}

			var in io.Reader = strings.NewReader(strings.Join(args, "\n"))
			if len(args) == 0 {
				in = cmd.InOrStdin()
			}
			return decodeFrames(cmd.OutOrStdout(), in, dev)
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "Device profile to decode values with")
	cmd.Flags().StringVar(&busID, "bus-id", "", "Bus address of the profiled device (e.g. 0x15)")
	return cmd
}

// buildDevice creates a standalone device of profile at busID.
func buildDevice(profile, busID string) (*ems.Device, error) {
	if busID == "" {
		return nil, fmt.Errorf("--bus-id is required with --profile")
	}
	id, err := strconv.ParseUint(busID, 0, 7)
	if err != nil {
		return nil, fmt.Errorf("invalid bus id %q: %w", busID, err)
	}
	factory := ems.DefaultFactory()
	factory.Freeze()
	return factory.Build(ems.DeviceInfo{
		ID:    profile,
		Type:  profile,
		BusID: byte(id),
	}, nil)
}

// decodeFrames decodes one frame per non-empty line of in.
// Bad frames are reported inline; the error return is for I/O only.
func decodeFrames(w io.Writer, in io.Reader, dev *ems.Device) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		frame, err := ems.DecodeHexFrame(line)
		if err == nil {
			var t ems.Telegram
			if t, err = ems.ParseTelegram(frame); err == nil {
				fmt.Fprintln(w, describeTelegram(t, dev))
				continue
			}
		}
		fmt.Fprintf(w, "%s %s\n", errStyle.Render("ERR"), err)
	}
	return scanner.Err()
}

// describeTelegram renders the header of t and, when dev owns its source,
// the values it changed.
func describeTelegram(t ems.Telegram, dev *ems.Device) string {
	kind := "broadcast"
	switch {
	case t.IsRead:
		kind = "read"
	case t.IsWrite:
		kind = "write"
	}

	var sb strings.Builder
	sb.WriteString(frameStyle.Render(fmt.Sprintf("%02X -> %02X  type 0x%X  offset %d", t.Source, t.Dest, t.TypeID, t.Offset)))
	sb.WriteString("  ")
	sb.WriteString(kindStyle.Render(fmt.Sprintf("%s, %d bytes", kind, len(t.Data))))

	if dev == nil || t.IsRead || t.Source != dev.BusID {
		return sb.String()
	}

	handled, changed := dev.Dispatch(&t)
	if !handled {
		sb.WriteString("\n  ")
		sb.WriteString(kindStyle.Render("type not handled by " + dev.Type))
		return sb.String()
	}
	if tt, ok := dev.Dispatcher().Lookup(t.TypeID); ok {
		sb.WriteString("  ")
		sb.WriteString(kindStyle.Render(tt.Name))
	}
	for _, id := range changed {
		v, ok := dev.Value(id)
		if !ok {
			continue
		}
		text := v.String()
		if unit := v.Field.Unit.String(); unit != "" {
			text += " " + unit
		}
		sb.WriteString("\n  ")
		sb.WriteString(keyStyle.Render(v.Field.Key()))
		sb.WriteString(valueStyle.Render(text))
	}
	return sb.String()
}
