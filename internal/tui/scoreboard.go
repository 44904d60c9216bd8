// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package tui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mevog/warden/internal/i18n"
	"github.com/mevog/warden/internal/strategy"
)

// scoreboardModel renders the persisted strategy ranking as a table. The
// board file is written by the scoring engine; this view only reads it.
type scoreboardModel struct {
	path  string
	table table.Model
	board []strategy.Score
	err   error
}

func newScoreboardModel(path string) *scoreboardModel {
	m := &scoreboardModel{path: path}

	columns := []table.Column{
		{Title: "#", Width: 3},
		{Title: i18n.T("scoreboard.header.strategy"), Width: 22},
		{Title: i18n.T("scoreboard.header.score"), Width: 10},
		{Title: i18n.T("scoreboard.header.pnl"), Width: 10},
		{Title: i18n.T("scoreboard.header.sharpe"), Width: 8},
		{Title: i18n.T("scoreboard.header.win_rate"), Width: 7},
		{Title: i18n.T("scoreboard.header.status"), Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorSubtle).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(colorWhite).
		Background(colorHighlight).
		Bold(false)
	t.SetStyles(s)

	m.table = t
	m.reload()
	return m
}

// reload re-reads the board file. A missing file is an empty board, not an
// error; the scoring engine may simply not have run yet.
func (m *scoreboardModel) reload() {
	board, err := strategy.ReadScoreboard(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.board = nil
			m.err = nil
			m.rebuildTableRows()
			return
		}
		m.err = err
		return
	}
	m.board = board
	m.err = nil
	m.rebuildTableRows()
}

func (m *scoreboardModel) rebuildTableRows() {
	rows := []table.Row{}
	for i, row := range m.board {
		status := successStyle.Render(i18n.T("scoreboard.status_ok"))
		if row.Decayed {
			status = specialStyle.Render(i18n.T("scoreboard.status_decayed"))
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", i+1),
			row.Strategy,
			fmt.Sprintf("%.4f", row.Score),
			fmt.Sprintf("%+.4f", row.PnL),
			fmt.Sprintf("%.2f", row.Sharpe),
			fmt.Sprintf("%.0f%%", row.WinRate*100),
			status,
		})
	}
	m.table.SetRows(rows)
	m.table.GotoTop()
}

func (m *scoreboardModel) Init() tea.Cmd {
	return nil
}

func (m *scoreboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetHeight(msg.Height - 6)
		m.table.SetWidth(msg.Width - 4)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc":
			return m, func() tea.Msg { return backToMenuMsg{} }
		case "r":
			m.reload()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *scoreboardModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf(i18n.T("scoreboard.error"), m.err))
	}

	header := titleStyle.Render("🏆 " + i18n.T("scoreboard.title"))
	if len(m.board) == 0 {
		return header + "\n\n" + helpStyle.Render(i18n.T("scoreboard.empty")) +
			"\n\n" + helpStyle.Render(i18n.T("scoreboard.help"))
	}

	decayed := 0
	for _, row := range m.board {
		if row.Decayed {
			decayed++
		}
	}
	footer := helpStyle.Render(fmt.Sprintf(i18n.T("scoreboard.footer"), len(m.board), decayed))

	return header + "\n" + m.table.View() + "\n" + footer +
		"\n" + helpStyle.Render(i18n.T("scoreboard.help"))
}
