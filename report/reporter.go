package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"epic-repos/analysis"
	"epic-repos/metrics"
)

// YAMLWriter saves each report as <Dir>/<name>.yml.
type YAMLWriter struct {
	Dir string
}

// NewYAMLWriter creates dir if needed and returns a writer for it.
func NewYAMLWriter(dir string) (*YAMLWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return &YAMLWriter{Dir: dir}, nil
}

// Path returns the file a report named name is written to.
func (w *YAMLWriter) Path(name string) string {
	return filepath.Join(w.Dir, name+".yml")
}

// Write serializes v as YAML.
func (w *YAMLWriter) Write(name string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return os.WriteFile(w.Path(name), data, 0644)
}

// ExportToJSON saves v to a JSON file
func ExportToJSON(v any, filename string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// JSONReport is the single-file JSON form of a run.
type JSONReport struct {
	Epic               string                       `json:"epic"`
	Timestamp          string                       `json:"timestamp"`
	TicketsToRepos     metrics.IssueRepoMapping     `json:"tickets_to_repos"`
	TicketsToRepoCount metrics.Counts               `json:"tickets_to_repo_count"`
	ReposToTicketCount metrics.Counts               `json:"repos_to_ticket_count"`
	IssueErrors        metrics.OrderedMap[[]string] `json:"issue_errors"`
	TrackerErrors      int                          `json:"tracker_errors"`
}

func NewJSONReport(res *analysis.Result) JSONReport {
	return JSONReport{
		Epic:               res.EpicKey,
		Timestamp:          res.Timestamp,
		TicketsToRepos:     res.Mapping,
		TicketsToRepoCount: res.TicketRepoCounts,
		ReposToTicketCount: res.RepoTicketCounts,
		IssueErrors:        res.IssueErrors,
		TrackerErrors:      res.TrackerErrors,
	}
}
