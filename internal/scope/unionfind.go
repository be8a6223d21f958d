package scope

import "slices"

// unionFind condenses scope aliases onto a single canonical name.
//
// The representative of a set is the last name an alias was merged into, so "A -> B -> C" is represented by C.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[string]string{}}
}

func (u *unionFind) add(name string) {
	if _, ok := u.parent[name]; !ok {
		u.parent[name] = name
	}
}

func (u *unionFind) find(name string) string {
	u.add(name)
	root := name
	for u.parent[root] != root {
		root = u.parent[root]
	}
	// Path compression.
	for name != root {
		next := u.parent[name]
		u.parent[name] = root
		name = next
	}
	return root
}

// union merges alias into the set of target.
func (u *unionFind) union(alias, target string) {
	a, b := u.find(alias), u.find(target)
	if a != b {
		u.parent[a] = b
	}
}

func (u *unionFind) names() []string {
	out := make([]string, 0, len(u.parent))
	for name := range u.parent {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
