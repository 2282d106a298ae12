package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/christopherklint97/shiftfill/internal/plan"
	"github.com/christopherklint97/shiftfill/internal/timesheet"
)

const maxPreviewHeight = 15

// previewModel lists the rows a plan will write, with the shifts behind
// each one.
type previewModel struct {
	table  table.Model
	plan   plan.FillPlan
	period string
	total  float64
}

func newPreviewModel(p plan.FillPlan, entries []timesheet.Entry, period string) previewModel {
	columns := []table.Column{
		{Title: "#", Width: 3},
		{Title: "Date", Width: 10},
		{Title: "Hours", Width: 6},
		{Title: "Code", Width: 10},
		{Title: "Category", Width: 12},
		{Title: "Shifts", Width: 34},
	}

	var total float64
	rows := make([]table.Row, 0, p.Len())
	for i, r := range p.Rows() {
		category, title := "", ""
		if i < len(entries) {
			category = entries[i].Category.String()
			title = entries[i].Title
			total += entries[i].WorkedHours
		}
		rows = append(rows, table.Row{fmt.Sprint(i + 1), r.Date, r.Hours, r.Category, category, title})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+2, maxPreviewHeight)),
	)
	t.SetStyles(tableStyles())

	return previewModel{table: t, plan: p, period: period, total: total}
}

func (m previewModel) Update(msg tea.Msg) (previewModel, tea.Cmd) {
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m previewModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Plan for " + m.period))
	sb.WriteString("\n")
	sb.WriteString(m.table.View())
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("%d rows, %s hours, %d add-row clicks",
		m.plan.Len(), plan.FormatHours(m.total), m.plan.TargetClicks)))
	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render("[enter] fill form • [q] cancel"))

	return boxStyle.Render(sb.String())
}
