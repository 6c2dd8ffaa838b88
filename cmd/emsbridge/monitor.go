package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-ems/internal/api"
)

const (
	defaultMonitorURL = "ws://localhost:8090/api/v1/ws"
	monitorDialWait   = 10 * time.Second
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	tableStyle  = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("241"))
)

func newMonitorCmd() *cobra.Command {
	var (
		wsURL  string
		device string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live view of the values a running bridge reports",
		Long: `Monitor connects to the WebSocket endpoint of a running bridge and shows
every value change as it arrives. Use --device to follow a single device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			channel := api.ChannelValues
			if device != "" {
				channel = api.DeviceChannel(device)
			}

			conn, err := dialMonitor(cmd.Context(), wsURL, channel)
			if err != nil {
				return err
			}
			defer conn.Close()

			events := make(chan tea.Msg, 64)
			go readEvents(conn, events)

			p := tea.NewProgram(newMonitorModel(wsURL, channel, events), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&wsURL, "url", defaultMonitorURL, "WebSocket endpoint of the bridge API")
	cmd.Flags().StringVar(&device, "device", "", "Only show values of this device")
	return cmd
}

// dialMonitor opens the WebSocket with channel pre-subscribed.
func dialMonitor(ctx context.Context, rawURL, channel string) (*websocket.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set("channels", channel)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, monitorDialWait)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // handshake response body
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", u.Redacted(), err)
	}
	return conn, nil
}

// Messages
type connClosedMsg struct{ err error }

// monitorValue is the subset of the API's value view the monitor shows.
type monitorValue struct {
	Key     string     `json:"key"`
	Value   any        `json:"value"`
	Text    string     `json:"text"`
	Unit    string     `json:"unit"`
	Updated *time.Time `json:"updated"`
}

type monitorEvent struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	Values    []monitorValue `json:"values"`
}

// readEvents forwards value events from conn to out until the connection
// fails, then sends a connClosedMsg and closes out.
func readEvents(conn *websocket.Conn, out chan<- tea.Msg) {
	defer close(out)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			out <- connClosedMsg{err: err}
			return
		}
		if msg, ok := parseEvent(data); ok {
			out <- msg
		}
	}
}

// parseEvent decodes a value change event. Responses, pongs and malformed
// frames are dropped.
func parseEvent(data []byte) (monitorEvent, bool) {
	var envelope struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type != api.WSTypeEvent {
		return monitorEvent{}, false
	}
	var ev monitorEvent
	if err := json.Unmarshal(envelope.Payload, &ev); err != nil || ev.DeviceID == "" {
		return monitorEvent{}, false
	}
	return ev, true
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return connClosedMsg{}
		}
		return msg
	}
}

type monitorRow struct {
	device  string
	key     string
	value   string
	updated time.Time
}

// TUI model
type monitorModel struct {
	source  string
	channel string
	events  <-chan tea.Msg
	rows    map[string]monitorRow
	table   table.Model
	changes int
	status  string
}

func newMonitorModel(source, channel string, events <-chan tea.Msg) monitorModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Device", Width: 14},
			{Title: "Field", Width: 30},
			{Title: "Value", Width: 18},
			{Title: "Updated", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	return monitorModel{
		source:  source,
		channel: channel,
		events:  events,
		rows:    make(map[string]monitorRow),
		table:   t,
		status:  "waiting for values",
	}
}

func (m monitorModel) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		if h := msg.Height - 6; h > 3 {
			m.table.SetHeight(h)
		}

	case monitorEvent:
		m.apply(msg)
		return m, waitForEvent(m.events)

	case connClosedMsg:
		m.status = "connection closed"
		if msg.err != nil {
			m.status += ": " + msg.err.Error()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// apply merges ev into the rows and refreshes the table.
func (m *monitorModel) apply(ev monitorEvent) {
	for _, v := range ev.Values {
		text := v.Text
		if text == "" {
			text = fmt.Sprint(v.Value)
		}
		if v.Unit != "" {
			text += " " + v.Unit
		}
		updated := ev.Timestamp
		if v.Updated != nil {
			updated = *v.Updated
		}
		m.rows[ev.DeviceID+"/"+v.Key] = monitorRow{
			device:  ev.DeviceID,
			key:     v.Key,
			value:   text,
			updated: updated,
		}
		m.changes++
	}
	m.status = fmt.Sprintf("%d values, %d changes", len(m.rows), m.changes)
	m.table.SetRows(m.tableRows())
}

// tableRows returns the rows ordered by device, then key.
func (m *monitorModel) tableRows() []table.Row {
	keys := make([]string, 0, len(m.rows))
	for k := range m.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]table.Row, 0, len(keys))
	for _, k := range keys {
		r := m.rows[k]
		out = append(out, table.Row{r.device, r.key, r.value, r.updated.Local().Format(time.TimeOnly)})
	}
	return out
}

func (m monitorModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("EMS monitor"))
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  %s  [%s]", m.source, m.channel)))
	sb.WriteString("\n")
	sb.WriteString(tableStyle.Render(m.table.View()))
	sb.WriteString("\n")
	sb.WriteString(statusStyle.Render(m.status + "  (q to quit)"))
	return sb.String()
}
