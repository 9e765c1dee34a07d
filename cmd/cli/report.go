package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderBatch(batch *domain.CollectionBatch, jobs []*domain.JobResult) error {
	if outputJSON {
		return printJSON(map[string]any{"batch": batch, "jobs": jobs})
	}

	fmt.Printf("\nBatch: %s (%s)\n", batch.ID, batch.Status)
	fmt.Printf("Created: %s\n", batch.CreatedAt.Format(time.RFC3339))
	if batch.FinishedAt != nil {
		fmt.Printf("Finished: %s\n", batch.FinishedAt.Format(time.RFC3339))
	}
	fmt.Printf("Succeeded: %d  Partial: %d  Failed: %d\n\n", batch.Succeeded, batch.Partial, batch.Failed)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Repository", "Status", "Items", "Duration", "Problems"})
	for _, j := range jobs {
		table.Append([]string{
			j.Repo.String(),
			string(j.Status),
			fmt.Sprintf("%d", j.ItemCount()),
			j.Duration().Round(time.Second).String(),
			problems(j),
		})
	}
	table.Render()

	return renderResources(jobs)
}

// renderResources lists every resource that did not finish ok
func renderResources(jobs []*domain.JobResult) error {
	var rows [][]string
	for _, j := range jobs {
		for _, kind := range j.Requested {
			st, ok := j.Resources[kind]
			if !ok || st.State == domain.ResourceOK {
				continue
			}
			rows = append(rows, []string{
				j.Repo.String(),
				string(kind),
				string(st.State),
				fmt.Sprintf("%d", st.ItemCount),
				st.ErrorKind,
				truncate(st.Error, 60),
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	fmt.Println()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Repository", "Resource", "State", "Items", "Kind", "Error"})
	table.AppendBulk(rows)
	table.Render()
	return nil
}

func problems(j *domain.JobResult) string {
	if j.Error != "" && len(j.Resources) == 0 {
		return truncate(j.Error, 40)
	}
	var out []string
	for kind, st := range j.Resources {
		if st.State != domain.ResourceOK {
			out = append(out, fmt.Sprintf("%s:%s", kind, st.ErrorKind))
		}
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}

func renderBatches(batches []*domain.CollectionBatch) error {
	if outputJSON {
		return printJSON(batches)
	}
	if len(batches) == 0 {
		fmt.Println("No batches found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Status", "Repos", "Resources", "OK", "Partial", "Failed", "Created"})
	for _, b := range batches {
		table.Append([]string{
			b.ID,
			b.Status,
			fmt.Sprintf("%d", len(b.Repos)),
			truncate(joinKinds(b.Kinds), 40),
			fmt.Sprintf("%d", b.Succeeded),
			fmt.Sprintf("%d", b.Partial),
			fmt.Sprintf("%d", b.Failed),
			b.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	table.Render()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
