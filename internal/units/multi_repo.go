package units

import (
	"fmt"
	"sort"

	"github.com/danieljhkim/unitforge/internal/unit"
)

// MultiRepo searches several repos in order. A name resolves to the first
// repo that defines it.
type MultiRepo struct {
	repos []Repo
}

// NewMultiRepo creates a MultiRepo searching repos in the given order.
func NewMultiRepo(repos ...Repo) *MultiRepo {
	return &MultiRepo{repos: repos}
}

func (m *MultiRepo) repoFor(name string) (Repo, error) {
	for _, repo := range m.repos {
		ok, err := repo.Exists(name)
		if err != nil {
			return nil, err
		}
		if ok {
			return repo, nil
		}
	}
	return nil, nil
}

// List returns the union of all names, sorted.
func (m *MultiRepo) List() ([]string, error) {
	seen := make(map[string]bool)
	result := []string{}
	for _, repo := range m.repos {
		names, err := repo.List()
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				result = append(result, name)
			}
		}
	}
	sort.Strings(result)
	return result, nil
}

// Exists reports whether any repo defines name.
func (m *MultiRepo) Exists(name string) (bool, error) {
	repo, err := m.repoFor(name)
	return repo != nil, err
}

// LoadDefinition reads the first definition of name found.
func (m *MultiRepo) LoadDefinition(name string) (*Definition, error) {
	repo, err := m.repoFor(name)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, notFound(name)
	}
	return repo.LoadDefinition(name)
}

// Load loads the first definition of name found.
func (m *MultiRepo) Load(name string) (*unit.Unit, error) {
	repo, err := m.repoFor(name)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, notFound(name)
	}
	return repo.Load(name)
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, name)
}
