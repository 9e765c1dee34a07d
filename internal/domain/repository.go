package domain

import (
	"fmt"
	"strings"
)

// OwnerRepo identifies a repository as owner/name
type OwnerRepo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// ParseOwnerRepo parses "owner/name"
func ParseOwnerRepo(s string) (OwnerRepo, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return OwnerRepo{}, fmt.Errorf("invalid repository %q, expected owner/name", s)
	}
	return OwnerRepo{Owner: owner, Name: name}, nil
}

func (r OwnerRepo) String() string {
	return r.Owner + "/" + r.Name
}
