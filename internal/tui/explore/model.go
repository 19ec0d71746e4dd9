package explore

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/trestle/internal/inspect"
	"github.com/mattjoyce/trestle/pipeline"
	"github.com/mattjoyce/trestle/step"
)

// section identifies which half of the catalog the table is showing.
type section int

const (
	sectionPipelines section = iota
	sectionSteps
)

// Model is the main BubbleTea model for the explorer TUI.
type Model struct {
	steps     *step.Registry
	pipelines *pipeline.Registry

	width  int
	height int

	section section
	catalog table.Model
	detail  viewport.Model

	theme Theme
}

// New creates a new explorer model over the given registries. The
// registries are treated as read-only while the explorer runs.
func New(steps *step.Registry, pipelines *pipeline.Registry) *Model {
	t := table.New(
		table.WithColumns(pipelineColumns(80)),
		table.WithRows(pipelineRows(pipelines)),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	m := &Model{
		steps:     steps,
		pipelines: pipelines,
		section:   sectionPipelines,
		catalog:   t,
		theme:     NewDefaultTheme(),
	}
	m.refreshDetail()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.EnterAltScreen
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.toggleSection()
			return m, nil
		case "pgup", "pgdown":
			m.detail, cmd = m.detail.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil
	}

	before := m.catalog.Cursor()
	m.catalog, cmd = m.catalog.Update(msg)
	if m.catalog.Cursor() != before {
		m.refreshDetail()
	}
	return m, cmd
}

func (m Model) View() string {
	if m.width == 0 {
		return "Loading catalog..."
	}

	header := m.renderHeader()
	tabs := m.renderTabs()
	catalog := m.theme.Border.Width(m.width - 4).Render(m.catalog.View())
	detail := m.theme.Border.Width(m.width - 4).Render(m.detail.View())

	help := m.theme.Dim.Render(" [q] Quit • [tab] Section • [↑/↓] Navigate • [pgup/pgdn] Scroll Detail")

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, header, tabs, catalog, detail, help),
	)
}

func (m Model) renderHeader() string {
	title := m.theme.Title.Render("TRESTLE EXPLORER")
	counts := m.theme.Dim.Render(fmt.Sprintf("%d steps • %d pipelines", m.steps.Len(), m.pipelines.Len()))
	return lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", counts)
}

func (m Model) renderTabs() string {
	pipes := m.theme.TabInactive.Render("Pipelines")
	steps := m.theme.TabInactive.Render("Steps")
	if m.section == sectionPipelines {
		pipes = m.theme.TabActive.Render("Pipelines")
	} else {
		steps = m.theme.TabActive.Render("Steps")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, pipes, " ", steps)
}

func (m *Model) toggleSection() {
	if m.section == sectionPipelines {
		m.section = sectionSteps
	} else {
		m.section = sectionPipelines
	}
	// Both sections carry four columns, so columns and rows can swap in
	// either order without confusing the table.
	m.catalog.SetColumns(m.columns())
	m.catalog.SetRows(m.rows())
	m.catalog.SetCursor(0)
	m.refreshDetail()
}

func (m *Model) columns() []table.Column {
	width := m.width
	if width == 0 {
		width = 80
	}
	if m.section == sectionSteps {
		return stepColumns(width)
	}
	return pipelineColumns(width)
}

func (m *Model) rows() []table.Row {
	if m.section == sectionSteps {
		return stepRows(m.steps)
	}
	return pipelineRows(m.pipelines)
}

func (m *Model) resize() {
	tableHeight := m.height/2 - 4
	if tableHeight < 3 {
		tableHeight = 3
	}
	m.catalog.SetWidth(m.width - 6)
	m.catalog.SetHeight(tableHeight)
	m.catalog.SetColumns(m.columns())

	detailHeight := m.height - tableHeight - 10
	if detailHeight < 3 {
		detailHeight = 3
	}
	m.detail.Width = m.width - 6
	m.detail.Height = detailHeight
	m.refreshDetail()
}

func (m *Model) refreshDetail() {
	m.detail.SetContent(m.detailContent())
	m.detail.GotoTop()
}

func (m *Model) detailContent() string {
	row := m.catalog.Cursor()

	switch m.section {
	case sectionSteps:
		names := m.steps.Names()
		if len(names) == 0 {
			return "No steps registered."
		}
		if row < 0 || row >= len(names) {
			return ""
		}
		desc, ok := m.steps.Get(names[row])
		if !ok {
			return ""
		}
		return inspect.FormatStep(inspect.BuildStepReport(desc))

	default:
		names := m.pipelines.Names()
		if len(names) == 0 {
			return "No pipelines registered."
		}
		if row < 0 || row >= len(names) {
			return ""
		}
		p, ok := m.pipelines.Get(names[row])
		if !ok {
			return ""
		}
		report, err := inspect.BuildPipelineReport(m.steps, p)
		if err != nil {
			return "Cannot render pipeline: " + err.Error()
		}
		return inspect.FormatPipeline(report)
	}
}
