// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mevog/warden/internal/drp"
	"github.com/mevog/warden/internal/i18n"
	"github.com/mevog/warden/internal/security"
)

// archiveRow is one export archive plus the metadata shown in the list.
type archiveRow struct {
	path   string
	name   string
	age    time.Duration
	digest string
}

// archivesModel lists DRP export archives newest first and offers checksum
// copy and a full decrypt-and-verify pass per archive.
type archivesModel struct {
	dir    string
	rows   []archiveRow
	cursor int

	// copyFn is swappable so tests do not need a system clipboard.
	copyFn func(string) error
	copied bool

	verifying  bool
	verifyName string
	spinner    spinner.Model
	report     *drp.VerifyReport
	verifyErr  error

	err    error
	width  int
	height int
}

type archivesLoadedMsg struct {
	rows []archiveRow
	err  error
}

type verifyDoneMsg struct {
	name   string
	report *drp.VerifyReport
	err    error
}

func newArchivesModel(dir string) *archivesModel {
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(colorHighlight)),
	)
	return &archivesModel{
		dir:     dir,
		copyFn:  clipboard.WriteAll,
		spinner: sp,
	}
}

func (m *archivesModel) Init() tea.Cmd {
	return loadArchivesCmd(m.dir)
}

// loadArchivesCmd scans the export directory off the UI thread. Archives come
// back newest first; missing checksum sidecars leave the digest blank.
func loadArchivesCmd(dir string) tea.Cmd {
	return func() tea.Msg {
		paths, err := drp.ListArchives(dir)
		if err != nil {
			return archivesLoadedMsg{err: err}
		}
		now := time.Now()
		rows := make([]archiveRow, 0, len(paths))
		for i := len(paths) - 1; i >= 0; i-- {
			row := archiveRow{path: paths[i], name: filepath.Base(paths[i])}
			if st, err := os.Stat(paths[i]); err == nil {
				row.age = now.Sub(st.ModTime())
			}
			if sum, err := drp.ReadChecksum(paths[i]); err == nil {
				row.digest = sum
			}
			rows = append(rows, row)
		}
		return archivesLoadedMsg{rows: rows}
	}
}

// verifyArchiveCmd runs the decrypt-and-verify pass and records the outcome
// in the audit trail.
func verifyArchiveCmd(path string) tea.Cmd {
	return func() tea.Msg {
		name := filepath.Base(path)
		report, err := drp.Verify(path, security.GetOr(drp.EnvEncKey, nil).Bytes())
		if err == nil {
			outcome := fmt.Sprintf("ok, %d files", report.Files)
			if !report.OK() {
				outcome = fmt.Sprintf("%d problems", len(report.Problems))
			}
			_ = logAction("VERIFY_ARCHIVE", fmt.Sprintf("Verified archive %s: %s", name, outcome))
		}
		return verifyDoneMsg{name: name, report: report, err: err}
	}
}

func (m *archivesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case archivesLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rows = msg.rows
		if m.cursor >= len(m.rows) && m.cursor > 0 {
			m.cursor = len(m.rows) - 1
		}
		return m, nil

	case verifyDoneMsg:
		m.verifying = false
		m.verifyName = msg.name
		m.report = msg.report
		m.verifyErr = msg.err
		return m, nil

	case spinner.TickMsg:
		if !m.verifying {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc":
			return m, func() tea.Msg { return backToMenuMsg{} }
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				m.copied = false
			}
		case "down", "j":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
				m.copied = false
			}
		case "c":
			if m.cursor < len(m.rows) && m.rows[m.cursor].digest != "" {
				if err := m.copyFn(m.rows[m.cursor].digest); err == nil {
					m.copied = true
				}
			}
		case "v":
			if m.cursor < len(m.rows) && !m.verifying {
				m.verifying = true
				m.report = nil
				m.verifyErr = nil
				return m, tea.Batch(m.spinner.Tick, verifyArchiveCmd(m.rows[m.cursor].path))
			}
		case "r":
			return m, loadArchivesCmd(m.dir)
		}
	}
	return m, nil
}

// shortDigest trims a sha256 hex to a readable prefix.
func shortDigest(digest string) string {
	if len(digest) > 16 {
		return digest[:16] + "…"
	}
	return digest
}

func (m *archivesModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf(i18n.T("archives.error"), m.err))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("🗄 "+i18n.T("archives.title")) + "\n")
	b.WriteString(helpStyle.Render(m.dir) + "\n\n")

	if len(m.rows) == 0 {
		b.WriteString(helpStyle.Render(i18n.T("archives.empty")))
	} else {
		for i, row := range m.rows {
			digest := row.digest
			if digest == "" {
				digest = i18n.T("archives.no_checksum")
			} else {
				digest = shortDigest(digest)
			}
			line := fmt.Sprintf("%-44s %6s  %s", row.name, formatAge(row.age), digest)
			if m.cursor == i {
				b.WriteString(selectedItemStyle.Render("▸ " + line))
			} else {
				b.WriteString(itemStyle.Render("  " + line))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	switch {
	case m.verifying:
		b.WriteString(m.spinner.View() + " " + i18n.T("archives.verifying"))
		b.WriteString("\n")
	case m.verifyErr != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf(i18n.T("archives.verify_failed"), m.verifyName, m.verifyErr)))
		b.WriteString("\n")
	case m.report != nil && m.report.OK():
		b.WriteString(successStyle.Render(fmt.Sprintf(i18n.T("archives.verify_ok"), m.verifyName, m.report.Files)))
		b.WriteString("\n")
	case m.report != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf(i18n.T("archives.verify_problems"), m.verifyName, len(m.report.Problems))))
		for _, p := range m.report.Problems {
			b.WriteString("\n" + helpStyle.Render("  "+p))
		}
		b.WriteString("\n")
	}

	if m.copied {
		b.WriteString(statusMessageStyle.Render(i18n.T("archives.copied")))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(i18n.T("archives.help")))
	return b.String()
}
