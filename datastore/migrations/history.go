package migrations

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// History is the validated revision graph of a set of migrations. Parent links are resolved when the history
// is built, all migrations are compiled, and the graph is guaranteed to have a single root, no dangling or
// duplicate links and no cycles. The order of migration IDs agrees with the parent links, so applying
// migrations sorted by ID never applies a child before its parent.
type History struct {
	migrations []*Migration
	byRevision map[string]*Migration
	byID       map[string]*Migration
	children   map[string][]*Migration
	root       *Migration
}

// NewHistory validates the revision graph formed by mm. All problems found are reported together.
func NewHistory(mm []*Migration) (*History, error) {
	h := &History{
		byRevision: make(map[string]*Migration, len(mm)),
		byID:       make(map[string]*Migration, len(mm)),
		children:   make(map[string][]*Migration),
	}
	var result *multierror.Error

	for i, m := range mm {
		if m == nil || m.Migration == nil {
			result = multierror.Append(result, fmt.Errorf("migration %d: missing migration definition", i))
			continue
		}
		c, err := m.compile()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("migration %s: %w", m.Id, err))
			continue
		}
		if c.Id == "" {
			result = multierror.Append(result, fmt.Errorf("revision %q: empty migration ID", c.Revision))
			continue
		}
		if c.Revision == "" {
			result = multierror.Append(result, fmt.Errorf("migration %s: empty revision", c.Id))
			continue
		}
		if _, ok := h.byID[c.Id]; ok {
			result = multierror.Append(result, fmt.Errorf("migration %s: duplicate migration ID", c.Id))
			continue
		}
		if _, ok := h.byRevision[c.Revision]; ok {
			result = multierror.Append(result, fmt.Errorf("migration %s: duplicate revision %s", c.Id, c.Revision))
			continue
		}
		h.byID[c.Id] = c
		h.byRevision[c.Revision] = c
		h.migrations = append(h.migrations, c)
	}
	sortByID(h.migrations)

	var roots []string
	for _, m := range h.migrations {
		if m.DownRevision == "" {
			roots = append(roots, m.Revision)
			h.root = m
			continue
		}
		parent, ok := h.byRevision[m.DownRevision]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("revision %s: down revision %s not found", m.Revision, m.DownRevision))
			continue
		}
		if !parent.Less(m.Migration) {
			result = multierror.Append(result, fmt.Errorf("revision %s: migration %s must sort after the migration %s of its down revision %s",
				m.Revision, m.Id, parent.Id, parent.Revision))
		}
		h.children[parent.Revision] = append(h.children[parent.Revision], m)
	}

	if len(h.migrations) > 0 {
		switch len(roots) {
		case 0:
			result = multierror.Append(result, errors.New("no root revision"))
		case 1:
		default:
			result = multierror.Append(result, fmt.Errorf("multiple root revisions: %s", strings.Join(roots, ", ")))
		}
	}

	for _, rev := range h.cycles() {
		result = multierror.Append(result, fmt.Errorf("revision %s: cycle in down revisions", rev))
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return h, nil
}

// cycles returns the sorted revisions from which following down revisions never reaches a root.
func (h *History) cycles() []string {
	var out []string
	for _, m := range h.migrations {
		seen := map[string]bool{m.Revision: true}
		cur := m
		for cur.DownRevision != "" {
			p, ok := h.byRevision[cur.DownRevision]
			if !ok {
				break
			}
			if seen[p.Revision] {
				out = append(out, m.Revision)
				break
			}
			seen[p.Revision] = true
			cur = p
		}
	}
	sort.Strings(out)
	return out
}

// All returns the migrations sorted by ID.
func (h *History) All() []*Migration {
	mm := make([]*Migration, len(h.migrations))
	copy(mm, h.migrations)
	return mm
}

// Len returns the number of migrations.
func (h *History) Len() int {
	return len(h.migrations)
}

// Root returns the migration without a down revision, or nil if the history is empty.
func (h *History) Root() *Migration {
	return h.root
}

// Get returns the migration with the given revision.
func (h *History) Get(revision string) (*Migration, bool) {
	m, ok := h.byRevision[revision]
	return m, ok
}

// ByID returns the migration with the given migration ID.
func (h *History) ByID(id string) (*Migration, bool) {
	m, ok := h.byID[id]
	return m, ok
}

// Children returns the migrations whose down revision is revision, sorted by ID.
func (h *History) Children(revision string) []*Migration {
	return h.children[revision]
}

// Heads returns the migrations that are not the down revision of any other, sorted by ID.
func (h *History) Heads() []*Migration {
	var heads []*Migration
	for _, m := range h.migrations {
		if len(h.children[m.Revision]) == 0 {
			heads = append(heads, m)
		}
	}
	return heads
}

// Lineage returns the chain of migrations from the root to revision, both included.
func (h *History) Lineage(revision string) ([]*Migration, error) {
	m, ok := h.byRevision[revision]
	if !ok {
		return nil, fmt.Errorf("unknown revision %s", revision)
	}

	var chain []*Migration
	for {
		chain = append(chain, m)
		if m.DownRevision == "" {
			break
		}
		m = h.byRevision[m.DownRevision]
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
