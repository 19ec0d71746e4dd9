package explore

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/trestle/pipeline"
	"github.com/mattjoyce/trestle/step"
)

// Catalog rows come from Registry.All(), which sorts by name; the table
// cursor therefore indexes into Registry.Names() directly.

func pipelineColumns(width int) []table.Column {
	desc := width - 24 - 7 - 7 - 8
	if desc < 16 {
		desc = 16
	}
	return []table.Column{
		{Title: "Pipeline", Width: 24},
		{Title: "Steps", Width: 7},
		{Title: "Hooks", Width: 7},
		{Title: "Description", Width: desc},
	}
}

func stepColumns(width int) []table.Column {
	desc := width - 24 - 7 - 14 - 8
	if desc < 16 {
		desc = 16
	}
	return []table.Column{
		{Title: "Step", Width: 24},
		{Title: "Deps", Width: 7},
		{Title: "Sandbox", Width: 14},
		{Title: "Description", Width: desc},
	}
}

func pipelineRows(reg *pipeline.Registry) []table.Row {
	all := reg.All()
	rows := make([]table.Row, 0, len(all))
	for _, p := range all {
		rows = append(rows, table.Row{
			p.Name(),
			fmt.Sprintf("%d", p.Len()),
			fmt.Sprintf("%d", len(p.Webhooks())),
			p.Description(),
		})
	}
	return rows
}

func stepRows(reg *step.Registry) []table.Row {
	all := reg.All()
	rows := make([]table.Row, 0, len(all))
	for _, d := range all {
		sandbox := d.SandboxID()
		if sandbox == "" {
			sandbox = "-"
		}
		rows = append(rows, table.Row{
			d.Name(),
			fmt.Sprintf("%d", len(d.DependsOn())),
			sandbox,
			d.Description(),
		})
	}
	return rows
}
