package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"epic-repos/analysis"
	"epic-repos/metrics"
)

var (
	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	styleLabel   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("118"))
)

// PrintSummary writes a short console report of res: issue count, the topN
// repositories by ticket count, per-issue problems and the files written.
func PrintSummary(w io.Writer, res *analysis.Result, files []string, topN int) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 60))
	fmt.Fprintln(w, styleHeader.Render("FINISHED"))
	fmt.Fprintln(w, strings.Repeat("=", 60))

	fmt.Fprintf(w, "%s %s\n", styleLabel.Render("Epic:"), res.EpicKey)
	fmt.Fprintf(w, "%s %d\n", styleLabel.Render("repo_hash keys ="), res.Mapping.Len())
	fmt.Fprintf(w, "%s %d\n", styleLabel.Render("Distinct repositories:"), distinctRepos(res))

	ranked := res.RepoTicketCounts.Ranked()
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	if len(ranked) > 0 {
		fmt.Fprintln(w, "\nTickets per repository:")
		for _, c := range ranked {
			fmt.Fprintf(w, "  - %s: %d\n", c.Key, c.Value)
		}
	}

	if res.IssueErrors.Len() > 0 || res.TrackerErrors > 0 {
		fmt.Fprintln(w, styleWarning.Render(fmt.Sprintf("\n%d issue(s) with problems, %d tracker error(s):",
			res.IssueErrors.Len(), res.TrackerErrors)))
		for _, key := range res.IssueErrors.Keys() {
			problems, _ := res.IssueErrors.Get(key)
			for _, p := range problems {
				fmt.Fprintf(w, "  - %s: %s\n", key, p)
			}
		}
	}

	if len(files) > 0 {
		fmt.Fprintln(w)
		for _, f := range files {
			fmt.Fprintln(w, styleOK.Render("✅ Written: ")+f)
		}
	}
}

func distinctRepos(res *analysis.Result) int {
	n := res.RepoTicketCounts.Len()
	if _, ok := res.RepoTicketCounts.Get(metrics.NoRepo); ok {
		n--
	}
	return n
}
