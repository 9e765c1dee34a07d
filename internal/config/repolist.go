package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/kurihiro0119/github-repo-activity/internal/domain"
)

// Batch is a set of jobs read from a repo list or batch file
type Batch struct {
	Jobs    []domain.JobRequest
	Workers int
}

// batchFile is the TOML form:
//
//	workers = 4
//	resources = ["overview", "commits"]
//
//	[[repos]]
//	repo = "octo/hello"
//	resources = ["events"]
type batchFile struct {
	Workers   int      `toml:"workers"`
	Resources []string `toml:"resources"`
	Repos     []struct {
		Repo      string   `toml:"repo"`
		Resources []string `toml:"resources"`
	} `toml:"repos"`
}

// LoadBatchFile reads a .toml batch file or a plain repo list
func LoadBatchFile(path string) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return parseBatchTOML(f)
	}
	jobs, err := ParseRepoList(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Batch{Jobs: jobs}, nil
}

func parseBatchTOML(r io.Reader) (*Batch, error) {
	var file batchFile
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&file); err != nil {
		return nil, fmt.Errorf("invalid batch file: %w", err)
	}

	defaults, err := domain.ParseResourceKinds(strings.Join(file.Resources, ","))
	if err != nil {
		return nil, err
	}

	batch := &Batch{Workers: file.Workers}
	for i, entry := range file.Repos {
		repo, err := domain.ParseOwnerRepo(entry.Repo)
		if err != nil {
			return nil, fmt.Errorf("repos[%d]: %w", i, err)
		}
		kinds := defaults
		if len(entry.Resources) > 0 {
			if kinds, err = domain.ParseResourceKinds(strings.Join(entry.Resources, ",")); err != nil {
				return nil, fmt.Errorf("repos[%d]: %w", i, err)
			}
		}
		batch.Jobs = append(batch.Jobs, domain.JobRequest{Repo: repo, Kinds: kinds})
	}
	return batch, nil
}

// ParseRepoList reads one "owner/repo[:kind,kind]" per line. Blank lines and
// lines starting with # are skipped; no suffix, "full" or a suffix with an
// unknown kind means every kind.
func ParseRepoList(r io.Reader) ([]domain.JobRequest, error) {
	var jobs []domain.JobRequest
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		name, kindList, _ := strings.Cut(text, ":")
		repo, err := domain.ParseOwnerRepo(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		kinds, err := domain.ParseResourceKinds(strings.TrimSpace(kindList))
		if err != nil {
			slog.Warn("unknown resource kind in repo list, collecting every kind",
				"line", line, "repo", repo.String(), "error", err)
			kinds = domain.AllKinds
		}
		jobs = append(jobs, domain.JobRequest{Repo: repo, Kinds: kinds})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}
