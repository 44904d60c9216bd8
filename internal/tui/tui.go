// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// package tui provides the terminal dashboard for Warden.
// This file, tui.go, is the main entry point for the TUI, containing the
// top-level model that acts as a router to all other sub-views.
package tui // import "github.com/mevog/warden/internal/tui"

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/viper"

	"github.com/mevog/warden/internal/agents"
	"github.com/mevog/warden/internal/db"
	"github.com/mevog/warden/internal/drp"
	"github.com/mevog/warden/internal/i18n"
	"github.com/mevog/warden/internal/killswitch"
	"github.com/mevog/warden/internal/logging"
	"github.com/mevog/warden/internal/model"
	"github.com/mevog/warden/internal/strategy"
	"github.com/mevog/warden/internal/vote"
)

// viewState represents which part of the UI is currently active.
type viewState int

const (
	// menuView is the main dashboard and navigation menu.
	menuView viewState = iota
	scoreboardView
	proposalsView
	auditLogView
	archivesView
	languageView
)

// EnvVoter names the environment variable that sets the ballot identity used
// when voting from the TUI. It falls back to the OS username.
const EnvVoter = "WARDEN_VOTER"

// gatePanel is the slice of the gatekeeper the dashboard needs.
type gatePanel interface {
	Gates() []agents.Gate
}

// voteDesk is the slice of the quorum engine the proposals view needs.
type voteDesk interface {
	Pending() ([]model.Proposal, error)
	Cast(proposalID, voter string, approve bool, reason string) (*model.Proposal, error)
	Status(proposalID string) (*model.Proposal, []model.Vote, error)
}

// backToMenuMsg signals a sub-view wants to return to the main menu.
type backToMenuMsg struct{}

// dashboardDataMsg is a message containing the data for the main menu dashboard.
type dashboardDataMsg struct {
	data dashboardData
}

// languageChangedMsg is a message to signal that the language has changed and the UI should be re-initialized.
type languageChangedMsg struct{}

// dashboardData holds the summary information for the main menu view.
type dashboardData struct {
	gates         []agents.Gate
	board         []strategy.Score
	pendingCount  int
	latestArchive string        // base name, empty when no archives exist
	archiveAge    time.Duration // time since the latest archive was written
	digest        string        // sha256 of the latest archive, may be empty
	recentLogs    []model.AuditLogEntry
	err           error
}

// deps bundles the data sources the TUI reads from. Production wiring comes
// from newDeps; tests inject fakes through initialModelWithDeps.
type deps struct {
	gates          gatePanel
	desk           voteDesk
	voter          string
	exportDir      string
	scoreboardPath string
}

// configSaver persists configuration changes made inside the TUI (currently
// only the language). The CLI installs a real saver; the default is a no-op
// so the TUI stays usable without one.
var configSaver interface{ Save() error } = noopSaver{}

type noopSaver struct{}

func (noopSaver) Save() error { return nil }

// SetConfigSaver installs the saver invoked when the operator changes
// settings from the TUI.
func SetConfigSaver(s interface{ Save() error }) {
	if s == nil {
		configSaver = noopSaver{}
		return
	}
	configSaver = s
}

// mainModel is the top-level model for the TUI. It acts as a state machine
// and router, delegating updates and view rendering to the currently active sub-model.
type mainModel struct {
	state      viewState
	menu       menuModel
	scoreboard *scoreboardModel
	proposals  *proposalsModel
	auditLog   *auditLogModel
	archives   *archivesModel
	language   languageModel
	dashboard  dashboardData
	deps       deps
	width      int
	height     int
	err        error
}

// menuModel holds the state for the main menu.
type menuModel struct {
	choices []string // The menu items to show.
	cursor  int      // Which menu item our cursor is pointing at.
}

// languageModel holds the state for the language selection menu.
type languageModel struct {
	choices     map[string]string // map of lang code to display name
	orderedKeys []string          // for stable iteration
	cursor      int
}

// resolveVoter returns the ballot identity: WARDEN_VOTER when set, otherwise
// the OS username the audit log would attribute actions to.
func resolveVoter() string {
	if v := os.Getenv(EnvVoter); v != "" {
		return v
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// resolveExportDir mirrors the exporter's destination resolution so the
// archives view lists the same directory exports land in.
func resolveExportDir(root string) string {
	if d := os.Getenv(drp.EnvExportDir); d != "" {
		return d
	}
	dir := viper.GetString("export.dir")
	if dir == "" {
		dir = "export"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

// newDeps builds the production data sources from the resolved configuration.
func newDeps() (deps, error) {
	root := viper.GetString("root")
	if root == "" {
		root = "."
	}
	gk := agents.NewGatekeeper(root, agents.WithKillSwitch(killswitch.New(root)))

	var quorumOpts []vote.Option
	if n := viper.GetInt("quorum.size"); n > 0 {
		quorumOpts = append(quorumOpts, vote.WithQuorum(n))
	}
	if th := viper.GetFloat64("quorum.threshold"); th > 0 {
		quorumOpts = append(quorumOpts, vote.WithThreshold(th))
	}
	if h := viper.GetInt("quorum.ttl_hours"); h > 0 {
		quorumOpts = append(quorumOpts, vote.WithTTL(time.Duration(h)*time.Hour))
	}
	desk, err := vote.NewQuorum(quorumOpts...)
	if err != nil {
		return deps{}, fmt.Errorf("build vote quorum: %w", err)
	}

	return deps{
		gates:          gk,
		desk:           desk,
		voter:          resolveVoter(),
		exportDir:      resolveExportDir(root),
		scoreboardPath: filepath.Join(root, strategy.DefaultScoreboardPath),
	}, nil
}

// initialModelWithDeps creates the starting state of the TUI while allowing
// injection of the data sources used by sub-models.
func initialModelWithDeps(d deps) mainModel {
	return mainModel{
		state: menuView,
		menu: menuModel{
			choices: []string{
				i18n.T("menu.scoreboard"),
				i18n.T("menu.proposals"),
				i18n.T("menu.audit_log"),
				i18n.T("menu.archives"),
				i18n.T("menu.language"),
			},
		},
		deps: d,
	}
}

// Init is the first function that will be called by the Bubble Tea runtime.
// It kicks off the initial command to load data for the dashboard.
func (m mainModel) Init() tea.Cmd {
	return refreshDashboardCmd(m.deps)
}

// Update is the main message loop. It handles all events (like key presses and
// window size changes) and delegates them to the active sub-model.
func (m mainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Global keybindings that work everywhere.
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case dashboardDataMsg:
		m.dashboard = msg.data
		if msg.data.err != nil {
			m.err = msg.data.err
		}
		return m, nil

	case languageChangedMsg:
		// The language has changed. Re-initialize the entire model to apply
		// new translations everywhere, preserving injected data sources and
		// the current window dimensions.
		newModel := initialModelWithDeps(m.deps)
		newModel.width = m.width
		newModel.height = m.height
		return newModel, newModel.Init()
	}

	// Delegate updates to the currently active view.
	switch m.state {
	case scoreboardView:
		if _, ok := msg.(backToMenuMsg); ok {
			m.state = menuView
			return m, refreshDashboardCmd(m.deps)
		}
		var newModel tea.Model
		newModel, cmd = m.scoreboard.Update(msg)
		m.scoreboard = newModel.(*scoreboardModel)

	case proposalsView:
		if _, ok := msg.(backToMenuMsg); ok {
			m.state = menuView
			return m, refreshDashboardCmd(m.deps)
		}
		var newModel tea.Model
		newModel, cmd = m.proposals.Update(msg)
		m.proposals = newModel.(*proposalsModel)

	case auditLogView:
		if _, ok := msg.(backToMenuMsg); ok {
			m.state = menuView
			return m, refreshDashboardCmd(m.deps)
		}
		var newModel tea.Model
		newModel, cmd = m.auditLog.Update(msg)
		m.auditLog = newModel.(*auditLogModel)

	case archivesView:
		if _, ok := msg.(backToMenuMsg); ok {
			m.state = menuView
			return m, refreshDashboardCmd(m.deps)
		}
		var newModel tea.Model
		newModel, cmd = m.archives.Update(msg)
		m.archives = newModel.(*archivesModel)

	case languageView:
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "q", "esc":
				m.state = menuView
				return m, refreshDashboardCmd(m.deps)
			case "up", "k":
				if m.language.cursor > 0 {
					m.language.cursor--
				}
			case "down", "j":
				if m.language.cursor < len(m.language.orderedKeys)-1 {
					m.language.cursor++
				}
			case "enter":
				langCode := m.language.orderedKeys[m.language.cursor]
				i18n.SetLang(langCode)
				viper.Set("language", langCode)
				if err := configSaver.Save(); err != nil {
					m.err = fmt.Errorf("failed to save config: %w", err)
				}

				// Signal that the language has changed so the entire UI can be re-initialized.
				return m, func() tea.Msg { return languageChangedMsg{} }
			}
		}

	default: // menuView
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "q":
				return m, tea.Quit
			case "up", "k":
				if m.menu.cursor > 0 {
					m.menu.cursor--
				}
			case "down", "j":
				if m.menu.cursor < len(m.menu.choices)-1 {
					m.menu.cursor++
				}
			case "enter":
				switch m.menu.cursor {
				case 0: // Strategy Scoreboard
					m.state = scoreboardView
					newModel := newScoreboardModel(m.deps.scoreboardPath)
					m.scoreboard = newModel
					var updatedModel tea.Model
					updatedModel, cmd = m.scoreboard.Update(tea.WindowSizeMsg{Width: m.width, Height: m.height})
					m.scoreboard = updatedModel.(*scoreboardModel)
					return m, cmd
				case 1: // Review Proposals
					m.state = proposalsView
					m.proposals = newProposalsModel(m.deps.desk, m.deps.voter)
					var updatedModel tea.Model
					updatedModel, cmd = m.proposals.Update(tea.WindowSizeMsg{Width: m.width, Height: m.height})
					m.proposals = updatedModel.(*proposalsModel)
					return m, cmd
				case 2: // View Audit Log
					m.state = auditLogView
					m.auditLog = newAuditLogModel()
					var updatedModel tea.Model
					updatedModel, cmd = m.auditLog.Update(tea.WindowSizeMsg{Width: m.width, Height: m.height})
					m.auditLog = updatedModel.(*auditLogModel)
					return m, cmd
				case 3: // Archives
					m.state = archivesView
					m.archives = newArchivesModel(m.deps.exportDir)
					var updatedModel tea.Model
					updatedModel, _ = m.archives.Update(tea.WindowSizeMsg{Width: m.width, Height: m.height})
					m.archives = updatedModel.(*archivesModel)
					return m, m.archives.Init()
				case 4: // Language
					m.state = languageView
					m.language = newLanguageModel()
					return m, nil
				}
			case "L":
				// "L" opens the language menu from anywhere on the dashboard.
				m.state = languageView
				m.language = newLanguageModel()
				return m, nil
			case "r":
				return m, refreshDashboardCmd(m.deps)
			}
		}
	}

	return m, cmd
}

// View renders the TUI. It's called after every Update and delegates rendering
// to the currently active sub-model.
func (m mainModel) View() string {
	if m.err != nil {
		// A simple error view
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(1, 2)
		return errStyle.Render(fmt.Sprintf("An error occurred: %v", m.err))
	}

	// Delegate rendering to the currently active view.
	switch m.state {
	case scoreboardView:
		return m.scoreboard.View()
	case proposalsView:
		return m.proposals.View()
	case auditLogView:
		return m.auditLog.View()
	case archivesView:
		return m.archives.View()
	case languageView:
		return m.language.View()
	default: // menuView
		return m.menu.View(m.dashboard, m.width, m.height)
	}
}

// gateLine renders one gate as a colored traffic light with its detail.
func gateLine(g agents.Gate) string {
	if g.OK {
		return successStyle.Render("● " + g.Name)
	}
	line := errorStyle.Render("● " + g.Name)
	if g.Detail != "" {
		line += " " + helpStyle.Render(g.Detail)
	}
	return line
}

// formatAge renders a duration the way operators read archive freshness:
// minutes under an hour, hours under two days, days beyond.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "<1m"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// View renders the main menu and dashboard.
func (m menuModel) View(data dashboardData, width, height int) string {
	// Title (i18n)
	title := mainTitleStyle.Render("🛡 " + i18n.T("dashboard.title"))
	subTitle := helpStyle.Render(i18n.T("dashboard.subtitle"))
	header := lipgloss.JoinVertical(lipgloss.Left, title, subTitle)

	// --- Panes ---
	paneTitleStyle := lipgloss.NewStyle().Bold(true)

	// Menu List (Left Pane)
	var menuItems []string
	menuItems = append(menuItems, paneTitleStyle.Render(i18n.T("menu.navigation")), "")
	for i, choice := range m.choices {
		if m.cursor == i {
			menuItems = append(menuItems, selectedItemStyle.Render("▸ "+choice))
		} else {
			menuItems = append(menuItems, itemStyle.Render("  "+choice))
		}
	}
	menuContent := lipgloss.JoinVertical(lipgloss.Left, menuItems...)

	// Dashboard (Right Pane)
	var dashboardItems []string

	// Gate panel
	dashboardItems = append(dashboardItems, paneTitleStyle.Render(i18n.T("dashboard.gates")), "")
	if len(data.gates) == 0 {
		dashboardItems = append(dashboardItems, helpStyle.Render(i18n.T("dashboard.gates_loading")))
	} else {
		for _, g := range data.gates {
			dashboardItems = append(dashboardItems, gateLine(g))
		}
	}

	// DRP freshness
	dashboardItems = append(dashboardItems, "", "", paneTitleStyle.Render(i18n.T("dashboard.drp")), "")
	if data.latestArchive == "" {
		dashboardItems = append(dashboardItems, errorStyle.Render(i18n.T("dashboard.no_archives")))
	} else {
		age := formatAge(data.archiveAge)
		archiveLine := i18n.T("dashboard.latest_archive", data.latestArchive, age)
		if data.archiveAge > agents.DefaultMaxExportAge {
			dashboardItems = append(dashboardItems, specialStyle.Render(archiveLine))
		} else {
			dashboardItems = append(dashboardItems, successStyle.Render(archiveLine))
		}
		if data.digest != "" {
			short := data.digest
			if len(short) > 16 {
				short = short[:16] + "…"
			}
			dashboardItems = append(dashboardItems, helpStyle.Render("sha256 "+short))
		}
	}

	// Scoreboard leaders
	dashboardItems = append(dashboardItems, "", "", paneTitleStyle.Render(i18n.T("dashboard.leaders")), "")
	if len(data.board) == 0 {
		dashboardItems = append(dashboardItems, helpStyle.Render(i18n.T("dashboard.no_scores")))
	} else {
		top := data.board
		if len(top) > 3 {
			top = top[:3]
		}
		for i, row := range top {
			line := fmt.Sprintf("%d. %-20s %7.4f  pnl %+.4f", i+1, row.Strategy, row.Score, row.PnL)
			if row.Decayed {
				dashboardItems = append(dashboardItems, specialStyle.Render(line))
			} else {
				dashboardItems = append(dashboardItems, itemStyle.Render(line))
			}
		}
	}

	// Pending proposals
	if data.pendingCount > 0 {
		dashboardItems = append(dashboardItems, "",
			specialStyle.Render(i18n.T("dashboard.pending_proposals", data.pendingCount)))
	}

	// Recent Activity
	dashboardItems = append(dashboardItems, "", "", paneTitleStyle.Render(i18n.T("dashboard.recent_activity")), "")

	// --- Layout ---
	paneStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorSubtle).
		Padding(1, 2)

	// Calculate height for the panes to fill the screen
	headerHeight := lipgloss.Height(header)
	footerHeight := lipgloss.Height(lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Background(lipgloss.Color("236")).Padding(0, 1).Italic(true).Render(""))
	paneHeight := height - headerHeight - footerHeight - 2 // -2 for newlines around mainArea

	menuWidth := 38
	dashboardWidth := width - 4 - menuWidth - 2

	if len(data.recentLogs) == 0 {
		dashboardItems = append(dashboardItems, helpStyle.Render(i18n.T("dashboard.no_recent_activity")))
	} else {
		for _, log := range data.recentLogs {
			ts := log.Timestamp
			if len(ts) > 16 {
				ts = ts[5:16] // Format as MM-DD HH:MM
			}

			// Calculate available space inside the pane for the log line content.
			innerDashboardWidth := dashboardWidth - 4 - 2
			availableWidth := innerDashboardWidth - len(ts) - 1

			styledAction := auditActionStyle(log.Action).Render(log.Action)
			actionLen := len(log.Action)

			detailsWidth := availableWidth - actionLen - 1
			if detailsWidth < 10 {
				detailsWidth = 10
			}

			details := log.Details
			if len(details) > detailsWidth {
				details = details[:detailsWidth-3] + "..."
			}

			logLine := lipgloss.JoinHorizontal(lipgloss.Left,
				helpStyle.Render(ts), " ", styledAction, " ", helpStyle.Render(details))

			dashboardItems = append(dashboardItems, logLine)
		}
	}
	dashboardContent := lipgloss.JoinVertical(lipgloss.Left, dashboardItems...)

	leftPane := paneStyle.Width(menuWidth).Height(paneHeight).Render(menuContent)
	rightPane := paneStyle.Width(dashboardWidth).Height(paneHeight).MarginLeft(2).Render(dashboardContent)

	mainArea := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	// Styled footer/help line
	footerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Background(lipgloss.Color("236")).Padding(0, 1).Italic(true)
	left := i18n.T("dashboard.footer")
	footer := footerStyle.Render(AlignFooter(left, "", width))

	return lipgloss.JoinVertical(lipgloss.Top, header, mainArea, footer)
}

// newLanguageModel creates a new model for the language selection view.
func newLanguageModel() languageModel {
	// Get the dynamically discovered locales from the i18n package.
	choices := i18n.GetAvailableLocales()

	// Create a sorted list of keys for stable iteration and display order.
	keys := make([]string, 0, len(choices))
	for k := range choices {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return languageModel{
		choices:     choices,
		orderedKeys: keys,
		cursor:      0,
	}
}

// Init for languageModel.
func (m languageModel) Init() tea.Cmd { return nil }

// Update for languageModel.
func (m languageModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) { return m, nil }

// View for languageModel.
func (m languageModel) View() string {
	title := mainTitleStyle.Render("🌐 " + i18n.T("menu.language"))

	var listItems []string
	listItems = append(listItems, titleStyle.Render(i18n.T("language.select")), "")

	for i, langCode := range m.orderedKeys {
		displayName := m.choices[langCode]
		line := "  " + displayName
		if m.cursor == i {
			line = "▸ " + displayName
			listItems = append(listItems, selectedItemStyle.Render(line))
		} else {
			listItems = append(listItems, itemStyle.Render(line))
		}
	}

	paneStyle := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorSubtle).Padding(1, 2)
	listPane := paneStyle.Width(60).Render(lipgloss.JoinVertical(lipgloss.Left, listItems...))

	footerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Background(lipgloss.Color("236")).Padding(0, 1).Italic(true)
	helpLine := footerStyle.Render(AlignFooter(i18n.T("language.help"), "", 60))

	return lipgloss.JoinVertical(lipgloss.Left, title, "", listPane, "", helpLine)
}

// Run is the main entrypoint for the TUI. It initializes and runs the Bubble
// Tea program against the production data sources.
func Run() {
	d, err := newDeps()
	if err != nil {
		logging.Errorf("TUI init error: %v", err)
		os.Exit(1)
	}
	if _, err := tea.NewProgram(initialModelWithDeps(d)).Run(); err != nil {
		logging.Errorf("TUI run error: %v", err)
		os.Exit(1)
	}
}

// refreshDashboardCmd is a tea.Cmd that fetches summary data for the main menu.
func refreshDashboardCmd(d deps) tea.Cmd {
	return func() tea.Msg {
		data := dashboardData{}

		if d.gates != nil {
			data.gates = d.gates.Gates()
		}

		if board, err := strategy.ReadScoreboard(d.scoreboardPath); err == nil {
			data.board = board
		}

		archives, err := drp.ListArchives(d.exportDir)
		if err == nil && len(archives) > 0 {
			latest := archives[len(archives)-1]
			data.latestArchive = filepath.Base(latest)
			if info, statErr := os.Stat(latest); statErr == nil {
				data.archiveAge = time.Since(info.ModTime())
			}
			if sum, sumErr := drp.ReadChecksum(latest); sumErr == nil {
				data.digest = sum
			}
		}

		if d.desk != nil {
			if pending, err := d.desk.Pending(); err == nil {
				data.pendingCount = len(pending)
			}
		}

		if db.IsInitialized() {
			entries, err := db.GetAllAuditLogEntries()
			if err != nil {
				data.err = err
				return dashboardDataMsg{data: data}
			}
			if len(entries) > 5 {
				entries = entries[:5]
			}
			data.recentLogs = entries
		}

		return dashboardDataMsg{data: data}
	}
}
