package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// inputModel asks for the month to report.
type inputModel struct {
	textinput textinput.Model
	info      string
	err       string
}

func newInputModel(info string, prefill string) inputModel {
	ti := textinput.New()
	ti.Placeholder = "2026-02, last month, ..."
	ti.Focus()
	ti.CharLimit = 40
	ti.Width = 40

	if prefill != "" {
		ti.SetValue(prefill)
	}

	return inputModel{
		textinput: ti,
		info:      info,
	}
}

func (m inputModel) Update(msg tea.Msg) (inputModel, tea.Cmd) {
	var cmd tea.Cmd
	m.textinput, cmd = m.textinput.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	header := titleStyle.Render("shiftfill · Time Report")
	info := subtitleStyle.Render(m.info)
	help := helpStyle.Render("Enter: plan • Ctrl+C: cancel")

	view := header + "\n" + info + "\n" + "Month: " + m.textinput.View() + "\n"
	if m.err != "" {
		view += errorStyle.Render(m.err) + "\n"
	}
	return view + help
}

func (m inputModel) Value() string {
	return m.textinput.Value()
}
