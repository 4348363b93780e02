package clinic

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/clinicapp/clinic/datastore/migrations"
	"github.com/jszwec/csvutil"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v2"
)

// Output formats of the history command.
const (
	formatText = "text"
	formatJSON = "json"
	formatCSV  = "csv"
	formatYAML = "yaml"
)

type historyEntry struct {
	Revision       string `json:"revision" csv:"revision" yaml:"revision"`
	DownRevision   string `json:"down_revision" csv:"down_revision" yaml:"down_revision"`
	ID             string `json:"id" csv:"id" yaml:"id"`
	PostDeployment bool   `json:"post_deployment" csv:"post_deployment" yaml:"post_deployment"`
	Head           bool   `json:"head" csv:"head" yaml:"head"`
	CreatedAt      string `json:"created_at,omitempty" csv:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// historyEntries lists the revisions of h root first.
func historyEntries(h *migrations.History) []historyEntry {
	heads := make(map[string]bool)
	for _, m := range h.Heads() {
		heads[m.Revision] = true
	}

	entries := make([]historyEntry, 0, h.Len())
	for _, m := range h.All() {
		e := historyEntry{
			Revision:       m.Revision,
			DownRevision:   m.DownRevision,
			ID:             m.Id,
			PostDeployment: m.PostDeployment,
			Head:           heads[m.Revision],
		}
		if !m.CreatedAt.IsZero() {
			e.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		entries = append(entries, e)
	}

	return entries
}

func writeHistory(w io.Writer, h *migrations.History, format string) error {
	entries := historyEntries(h)

	switch format {
	case formatCSV:
		b, err := csvutil.Marshal(entries)
		if err != nil {
			return fmt.Errorf("failed to marshal history: %w", err)
		}
		_, err = w.Write(b)
		return err
	case formatJSON:
		b, err := json.Marshal(entries)
		if err != nil {
			return fmt.Errorf("failed to marshal history: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	case formatYAML:
		b, err := yaml.Marshal(entries)
		if err != nil {
			return fmt.Errorf("failed to marshal history: %w", err)
		}
		_, err = w.Write(b)
		return err
	case formatText:
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Revision", "Down Revision", "Migration", "Created At"})
		table.SetColWidth(80)

		for _, e := range entries {
			name := e.ID
			if e.PostDeployment {
				name += " (post deployment)"
			}
			if e.Head {
				name += " (head)"
			}
			table.Append([]string{e.Revision, e.DownRevision, name, e.CreatedAt})
		}

		table.Render()
		return nil
	default:
		return fmt.Errorf("output format must be one of %s, %s, %s, %s: got %s",
			formatText, formatJSON, formatCSV, formatYAML, strconv.Quote(format))
	}
}
