package budget

import "sort"

// RebuildNestedSet renumbers Lft/Rgt of every node with a depth-first walk,
// visiting children in name order. Nodes whose parent is missing become roots.
func RebuildNestedSet(nodes map[string]CostCenter) {
	children := map[string][]string{}
	var roots []string
	for name, cc := range nodes {
		if _, ok := nodes[cc.Parent]; cc.Parent == "" || !ok {
			roots = append(roots, name)
			continue
		}
		children[cc.Parent] = append(children[cc.Parent], name)
	}
	sort.Strings(roots)
	counter := 0
	var walk func(name string)
	walk = func(name string) {
		counter++
		cc := nodes[name]
		cc.Lft = counter
		kids := children[name]
		sort.Strings(kids)
		for _, k := range kids {
			walk(k)
		}
		counter++
		cc.Rgt = counter
		nodes[name] = cc
	}
	for _, r := range roots {
		walk(r)
	}
}

// InSubtree reports whether node lies under (or is) root by nested-set bounds.
func InSubtree(root, node CostCenter) bool {
	return node.Lft >= root.Lft && node.Rgt <= root.Rgt
}
