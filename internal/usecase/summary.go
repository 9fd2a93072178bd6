package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/crablduck/crm-spyder/internal/domain"
)

// RenderSummary formats the per-hospital run outcome as a table.
func RenderSummary(summary domain.RunSummary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Hospital", "Pages", "Gaps", "Found", "New", "Dup", "Failed", "Status"})

	for _, hs := range summary.Hospitals {
		status := "ok"
		if hs.Err != nil {
			status = shorten(hs.Err.Error(), 40)
		}
		t.AppendRow(table.Row{
			hs.Hospital.Name,
			hs.PagesVisited,
			hs.PagesSkipped,
			hs.Found,
			hs.New,
			hs.Duplicates,
			hs.Failed,
			status,
		})
	}
	t.AppendFooter(table.Row{
		"total", "", "",
		totalOf(summary, func(h domain.HospitalSummary) int { return h.Found }),
		totalOf(summary, func(h domain.HospitalSummary) int { return h.New }),
		totalOf(summary, func(h domain.HospitalSummary) int { return h.Duplicates }),
		totalOf(summary, func(h domain.HospitalSummary) int { return h.Failed }),
		fmt.Sprintf("%d/%d ok", summary.Succeeded(), len(summary.Hospitals)),
	})

	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s)\n", summary.RunID, summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second))
	b.WriteString(t.Render())
	return b.String()
}

func totalOf(summary domain.RunSummary, field func(domain.HospitalSummary) int) int {
	n := 0
	for _, hs := range summary.Hospitals {
		n += field(hs)
	}
	return n
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
