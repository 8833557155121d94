// report.go renders the result of a stress run.
package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#5A4FCF", Dark: "#B4A7F5"}).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0F766E", Dark: "#5EEAD4"}).
			Width(22)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#22C55E")).
		Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			Padding(0, 1)
)

// renderReport formats r as a list of label/value rows. When styled is false the
// rows are plain text without a border.
func renderReport(r stressReport, styled bool) string {
	rows := [][2]string{
		{"mode", r.Mode},
		{"workers", fmt.Sprint(r.Workers)},
		{"ops per worker", fmt.Sprint(r.Ops)},
		{"elapsed", r.Elapsed.Round(time.Microsecond).String()},
		{"throughput", fmt.Sprintf("%.0f txn/s", throughput(r))},
		{"commits", fmt.Sprint(r.Stats.Commits)},
		{"aborts", fmt.Sprint(r.Stats.Aborts)},
		{"conflicts", fmt.Sprint(r.Stats.ReadWriteConflicts)},
		{"global conflicts", fmt.Sprint(r.Stats.GlobalConflicts)},
		{"speculative upgrades", fmt.Sprint(r.Stats.SpeculativeUpgrades)},
		{"blocking retries", fmt.Sprint(r.Stats.BlockingRetries)},
		{"gave up", fmt.Sprint(r.Stats.TooManyRetries)},
		{"expected", fmt.Sprint(r.Expected)},
		{"actual", fmt.Sprint(r.Actual)},
	}

	verdict := "OK"
	if !r.OK() {
		verdict = "MISMATCH"
	}

	if !styled {
		var b strings.Builder
		fmt.Fprintf(&b, "gostm stress: %s\n", verdict)
		for _, row := range rows {
			fmt.Fprintf(&b, "%-22s%s\n", row[0], row[1])
		}
		return b.String()
	}

	lines := make([]string, 0, len(rows)+2)
	result := okStyle.Render(verdict)
	if !r.OK() {
		result = failStyle.Render(verdict)
	}
	lines = append(lines, titleStyle.Render("gostm stress")+" "+result, "")
	for _, row := range rows {
		lines = append(lines, labelStyle.Render(row[0])+row[1])
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)) + "\n"
}

func throughput(r stressReport) float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Workers*r.Ops) / r.Elapsed.Seconds()
}
