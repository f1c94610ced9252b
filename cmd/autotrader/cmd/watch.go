package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"autotrader/internal/engine"
	"autotrader/internal/performance"
	"autotrader/pkg/autotrader"
)

// Styles.
var (
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("10"))
	haltedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("9"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	symbolStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	buyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	sellStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live console of trading state, the last cycle and today's performance",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p := tea.NewProgram(newWatchModel(newClient(), watchInterval), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "refresh interval")
}

// Messages.
type tickMsg time.Time

type refreshedMsg struct {
	status *engine.Status
	perf   *performance.Snapshot
	err    error
}

type cycleDoneMsg struct{ err error }

type watchModel struct {
	client   *autotrader.Client
	interval time.Duration

	status  *engine.Status
	perf    *performance.Snapshot
	lastErr error
	updated time.Time
	note    string

	viewport      viewport.Model
	ready         bool
	width, height int
}

func newWatchModel(c *autotrader.Client, interval time.Duration) watchModel {
	return watchModel{client: c, interval: interval}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.tickCmd())
}

func (m watchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) refreshCmd() tea.Cmd {
	c, d := m.client, timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), d)
		defer cancel()
		st, err := c.Status(ctx)
		if err != nil {
			return refreshedMsg{err: err}
		}
		perf, err := c.Performance(ctx)
		return refreshedMsg{status: st, perf: perf, err: err}
	}
}

func (m watchModel) cycleCmd() tea.Cmd {
	c, d := m.client, timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), d)
		defer cancel()
		_, err := c.RunCycle(ctx)
		return cycleDoneMsg{err: err}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		case "c":
			m.note = "running cycle..."
			return m, m.cycleCmd()
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		vpHeight := max(1, m.height-2)
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.viewport.SetContent(m.renderContent())
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), m.tickCmd())

	case refreshedMsg:
		m.lastErr = msg.err
		if msg.status != nil {
			m.status = msg.status
			m.updated = time.Now()
		}
		if msg.perf != nil {
			m.perf = msg.perf
		}
		if m.ready {
			m.viewport.SetContent(m.renderContent())
		}
		return m, nil

	case cycleDoneMsg:
		m.note = "cycle complete"
		if msg.err != nil {
			m.note = "cycle: " + msg.err.Error()
		}
		return m, m.refreshCmd()
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m watchModel) View() string {
	if !m.ready {
		return "Connecting..."
	}
	return m.header() + "\n" + m.viewport.View() + "\n" + m.footer()
}

func (m watchModel) header() string {
	if m.status == nil {
		return footerStyle.Render(padOrTrunc(" waiting for "+serverURL, m.width))
	}
	r := m.status.Risk
	style, state := activeStyle, "ACTIVE"
	if !r.TradingActive {
		style, state = haltedStyle, "HALTED"
	}
	text := fmt.Sprintf(" %s  market: %s  daily P&L: %s (%s, limit %.0f%%)  running: %v ",
		state, m.status.Market, formatMoney(r.DailyPnL), formatPct(r.DailyPnLFraction), r.LossLimit*100, m.status.Running)
	return style.Render(padOrTrunc(text, m.width))
}

func (m watchModel) footer() string {
	left := " q quit  r refresh  c run cycle  pgup/dn scroll"
	right := ""
	if !m.updated.IsZero() {
		right = "updated " + m.updated.Format("15:04:05") + " "
	}
	if m.note != "" {
		right = m.note + "  " + right
	}
	gap := max(0, m.width-len(left)-len(right))
	return footerStyle.Render(padOrTrunc(left+strings.Repeat(" ", gap)+right, m.width))
}

func (m watchModel) renderContent() string {
	var b strings.Builder
	if m.lastErr != nil {
		b.WriteString(sellStyle.Render("error: "+m.lastErr.Error()) + "\n\n")
	}
	if m.status == nil {
		return b.String()
	}
	st := m.status

	if st.Risk.HaltReason != "" {
		fmt.Fprintf(&b, "halted: %s\n\n", st.Risk.HaltReason)
	}
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("Pending orders:"), listOrDash(st.PendingOrders))
	fmt.Fprintf(&b, "%s %s\n\n", titleStyle.Render("Pending emergency closes:"), listOrDash(st.PendingEmergency))

	if p := m.perf; p != nil {
		b.WriteString(titleStyle.Render("Today") + "\n")
		fmt.Fprintf(&b, "  trades %d  closed lots %d  win rate %.0f%%  avg return %s  realized %s  portfolio %s\n\n",
			p.TradesToday, p.ClosedLots, p.WinRate*100, formatPct(p.AvgReturnPerTrade), formatMoney(p.RealizedPnL), formatPct(p.PortfolioChange))
	}

	c := st.LastCycle
	if c == nil {
		b.WriteString(dimStyle.Render("no cycle yet") + "\n")
		return b.String()
	}
	fmt.Fprintf(&b, "%s %s  %s  (%s)\n", titleStyle.Render("Last cycle"), c.ID,
		c.StartedAt.Local().Format("15:04:05"), c.FinishedAt.Sub(c.StartedAt).Round(time.Millisecond))
	if c.Skipped != "" {
		fmt.Fprintf(&b, "  skipped: %s\n", c.Skipped)
	}
	if c.Breached {
		b.WriteString(haltedStyle.Render(" daily loss limit breached ") + "\n")
	}
	for _, o := range c.Symbols {
		action := dimStyle.Render(fmt.Sprintf("%-5s", o.Action))
		switch o.Action {
		case engine.ActionBuy:
			action = buyStyle.Render(fmt.Sprintf("%-5s", o.Action))
		case engine.ActionSell:
			action = sellStyle.Render(fmt.Sprintf("%-5s", o.Action))
		}
		detail := o.Reason
		if o.Order != nil {
			detail = fmt.Sprintf("%s %d @ %.2f %s", o.Order.Side, o.Order.Qty, o.Order.FillPrice(), o.Order.Status)
		}
		fmt.Fprintf(&b, "  %s %s %s\n", symbolStyle.Render(fmt.Sprintf("%-6s", o.Symbol)), action, detail)
	}
	return b.String()
}

func listOrDash(s []string) string {
	if len(s) == 0 {
		return dimStyle.Render("-")
	}
	return strings.Join(s, ", ")
}

// padOrTrunc pads s with spaces or truncates it to exactly width columns.
func padOrTrunc(s string, width int) string {
	if width <= 0 {
		return s
	}
	if len(s) > width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}
