// Package graph orders dependencies so prerequisites come first.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownDependency is returned when an edge names a node that is not part
// of the graph.
var ErrUnknownDependency = errors.New("unknown dependency")

// CyclicDependencyError reports a node that was reached again while its own
// dependencies were still being visited.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	if e == nil {
		return ""
	}
	return "cyclic dependency: " + strings.Join(e.Path, " -> ")
}

type mark uint8

const (
	unvisited mark = iota
	inProgress
	done
)

// TopologicalOrder returns every node such that each node appears after all
// the nodes it depends on. Roots are visited in lexicographic order, as are the
// dependencies of each node, so the result is deterministic.
func TopologicalOrder(edges map[string][]string) ([]string, error) {
	names := make([]string, 0, len(edges))
	for name := range edges {
		names = append(names, name)
	}
	sort.Strings(names)

	s := sorter{
		edges:  edges,
		marks:  make(map[string]mark, len(edges)),
		result: make([]string, 0, len(edges)),
	}
	for _, name := range names {
		if err := s.visit(name); err != nil {
			return nil, err
		}
	}
	return s.result, nil
}

type sorter struct {
	edges  map[string][]string
	marks  map[string]mark
	stack  []string
	result []string
}

func (s *sorter) visit(name string) error {
	switch s.marks[name] {
	case done:
		return nil
	case inProgress:
		return &CyclicDependencyError{Path: s.cyclePath(name)}
	}

	s.marks[name] = inProgress
	s.stack = append(s.stack, name)

	deps := append([]string(nil), s.edges[name]...)
	sort.Strings(deps)
	for _, dep := range deps {
		if _, ok := s.edges[dep]; !ok {
			return fmt.Errorf("%w: %q required by %q", ErrUnknownDependency, dep, name)
		}
		if err := s.visit(dep); err != nil {
			return err
		}
	}

	s.stack = s.stack[:len(s.stack)-1]
	s.marks[name] = done
	s.result = append(s.result, name)
	return nil
}

func (s *sorter) cyclePath(name string) []string {
	for i, entry := range s.stack {
		if entry == name {
			path := append([]string(nil), s.stack[i:]...)
			return append(path, name)
		}
	}
	return []string{name, name}
}
