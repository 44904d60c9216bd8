// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mevog/warden/internal/i18n"
	"github.com/mevog/warden/internal/model"
)

// proposalsModel shows the pending proposal queue and lets an authorized
// operator cast ballots without leaving the dashboard.
type proposalsModel struct {
	desk      voteDesk
	voter     string
	proposals []model.Proposal
	tallies   map[string]int // proposal ID -> ballots cast so far
	cursor    int

	// Confirmation modal state. approveIntent distinguishes the a/r key
	// that opened the modal.
	isConfirming  bool
	approveIntent bool
	confirmCursor int // 0 = cancel, 1 = confirm

	status string // last vote outcome, shown in the footer
	err    error
	width  int
	height int
}

// voteResultMsg is sent by castVoteCmd when a ballot has been recorded (or
// refused) by the quorum engine.
type voteResultMsg struct {
	proposal *model.Proposal
	approve  bool
	err      error
}

// proposalsReloadedMsg carries a fresh pending queue after a vote.
type proposalsReloadedMsg struct {
	proposals []model.Proposal
	tallies   map[string]int
	err       error
}

func newProposalsModel(desk voteDesk, voter string) *proposalsModel {
	m := &proposalsModel{desk: desk, voter: voter}
	if desk == nil {
		m.err = fmt.Errorf("voting is not configured")
		return m
	}
	pending, tallies, err := loadPending(desk)
	if err != nil {
		m.err = err
		return m
	}
	m.proposals = pending
	m.tallies = tallies
	return m
}

// loadPending fetches the open queue plus the ballot count per proposal.
func loadPending(desk voteDesk) ([]model.Proposal, map[string]int, error) {
	pending, err := desk.Pending()
	if err != nil {
		return nil, nil, err
	}
	tallies := make(map[string]int, len(pending))
	for _, p := range pending {
		_, votes, err := desk.Status(p.ID)
		if err != nil {
			continue
		}
		tallies[p.ID] = len(votes)
	}
	return pending, tallies, nil
}

func (m *proposalsModel) Init() tea.Cmd {
	return nil
}

// castVoteCmd records the ballot through the quorum engine off the UI thread.
func castVoteCmd(desk voteDesk, proposalID, voter string, approve bool) tea.Cmd {
	return func() tea.Msg {
		p, err := desk.Cast(proposalID, voter, approve, "tui")
		return voteResultMsg{proposal: p, approve: approve, err: err}
	}
}

// reloadProposalsCmd refreshes the pending queue.
func reloadProposalsCmd(desk voteDesk) tea.Cmd {
	return func() tea.Msg {
		pending, tallies, err := loadPending(desk)
		return proposalsReloadedMsg{proposals: pending, tallies: tallies, err: err}
	}
}

func (m *proposalsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case voteResultMsg:
		if msg.err != nil {
			m.status = errorStyle.Render(fmt.Sprintf(i18n.T("proposals.vote_failed"), msg.err))
			return m, reloadProposalsCmd(m.desk)
		}
		choice := i18n.T("proposals.rejected")
		if msg.approve {
			choice = i18n.T("proposals.approved")
		}
		line := fmt.Sprintf(i18n.T("proposals.vote_recorded"), msg.proposal.ID, choice)
		if msg.proposal.Status != model.ProposalPending {
			line += " " + fmt.Sprintf(i18n.T("proposals.decided"), msg.proposal.Status)
		}
		m.status = statusMessageStyle.Render(line)
		return m, reloadProposalsCmd(m.desk)

	case proposalsReloadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.proposals = msg.proposals
		m.tallies = msg.tallies
		if m.cursor >= len(m.proposals) && m.cursor > 0 {
			m.cursor = len(m.proposals) - 1
		}
		return m, nil

	case tea.KeyMsg:
		if m.isConfirming {
			return m.updateConfirming(msg)
		}
		switch msg.String() {
		case "q", "esc":
			return m, func() tea.Msg { return backToMenuMsg{} }
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.proposals)-1 {
				m.cursor++
			}
		case "a":
			if len(m.proposals) > 0 {
				m.isConfirming = true
				m.approveIntent = true
				m.confirmCursor = 0 // Default to cancel
			}
		case "r":
			if len(m.proposals) > 0 {
				m.isConfirming = true
				m.approveIntent = false
				m.confirmCursor = 0
			}
		case "R":
			return m, reloadProposalsCmd(m.desk)
		}
	}
	return m, nil
}

// updateConfirming handles keys while the vote confirmation modal is open.
func (m *proposalsModel) updateConfirming(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		m.isConfirming = false
	case "right", "tab", "l":
		m.confirmCursor = 1
	case "left", "shift+tab", "h":
		m.confirmCursor = 0
	case "enter":
		m.isConfirming = false
		if m.confirmCursor == 1 && m.cursor < len(m.proposals) {
			p := m.proposals[m.cursor]
			return m, castVoteCmd(m.desk, p.ID, m.voter, m.approveIntent)
		}
	}
	return m, nil
}

// expiresIn renders the time remaining before a proposal lapses.
func expiresIn(p model.Proposal, now time.Time) string {
	d := p.ExpiresAt.Sub(now)
	if d <= 0 {
		return i18n.T("proposals.expired")
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}

func (m *proposalsModel) viewConfirm() string {
	p := m.proposals[m.cursor]

	var b strings.Builder
	verb := i18n.T("proposals.confirm_reject")
	if m.approveIntent {
		verb = i18n.T("proposals.confirm_approve")
	}
	b.WriteString(titleStyle.Render(i18n.T("proposals.confirm_title")))
	b.WriteString("\n\n")
	b.WriteString(specialStyle.Render(fmt.Sprintf(verb, p.ID)))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(fmt.Sprintf("%s %s  risk %.2f  %s %s",
		p.Kind, p.StrategyID, p.Risk, i18n.T("proposals.as_voter"), m.voter)))
	b.WriteString("\n\n")

	var yesButton, noButton string
	if m.confirmCursor == 1 {
		yesButton = activeButtonStyle.Render(i18n.T("proposals.yes_vote"))
		noButton = buttonStyle.Render(i18n.T("proposals.no_cancel"))
	} else {
		yesButton = buttonStyle.Render(i18n.T("proposals.yes_vote"))
		noButton = activeButtonStyle.Render(i18n.T("proposals.no_cancel"))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, noButton, "  ", yesButton))
	b.WriteString("\n" + helpStyle.Render(i18n.T("proposals.help_modal")))

	return lipgloss.Place(m.width, m.height,
		lipgloss.Left, lipgloss.Center,
		dialogBoxStyle.Render(b.String()),
	)
}

func (m *proposalsModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf(i18n.T("proposals.error"), m.err))
	}
	if m.isConfirming && m.cursor < len(m.proposals) {
		return m.viewConfirm()
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("🗳 "+i18n.T("proposals.title")) + "\n\n")

	if len(m.proposals) == 0 {
		b.WriteString(helpStyle.Render(i18n.T("proposals.empty")))
	} else {
		now := time.Now()
		for i, p := range m.proposals {
			tally := fmt.Sprintf("%d/%d", m.tallies[p.ID], p.Quorum)
			line := fmt.Sprintf("%-16s %-14s %-20s risk %.2f  %s %s  %s %s",
				p.ID, p.Kind, p.StrategyID, p.Risk,
				i18n.T("proposals.quorum"), tally,
				i18n.T("proposals.expires"), expiresIn(p, now))
			if m.cursor == i {
				b.WriteString(selectedItemStyle.Render("▸ " + line))
			} else {
				b.WriteString(itemStyle.Render("  " + line))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(i18n.T("proposals.help")))
	return b.String()
}
