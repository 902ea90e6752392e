// Package name assigns unique symbol names to labels and constants once a function is complete.
package name

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var validName = regexp.MustCompile(`^[_a-zA-Z]\w*$`)

// Check returns an error if name cannot be used as a symbol name. Names starting with two
// underscores are reserved for generated names.
func Check(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid name %q", name)
	}
	if strings.HasPrefix(name, "__") {
		return fmt.Errorf("invalid name %q: names starting with __ are reserved", name)
	}
	return nil
}

// CheckScoped is like Check for a dot-separated scoped name such as "loop.body".
func CheckScoped(name string) error {
	for _, part := range strings.Split(name, ".") {
		if err := Check(part); err != nil {
			return err
		}
	}
	return nil
}

// Name is a symbol whose final name is either fixed by the user or assigned by a Namespace from a
// requested first choice.
type Name struct {
	final     string
	requested string
}

// Fixed returns a Name which must receive exactly the given name.
func Fixed(name string) *Name { return &Name{final: name} }

// Requested returns a Name which receives the first choice if no other symbol in the scope asks for
// it, and a numbered variant of it otherwise. An empty first choice yields a generated name.
func Requested(firstChoice string) *Name { return &Name{requested: firstChoice} }

// Final returns the assigned name, if any.
func (n *Name) Final() (string, bool) { return n.final, n.final != "" }

// String implements fmt.Stringer.
func (n *Name) String() string {
	switch {
	case n.final != "":
		return n.final
	case n.requested != "":
		return "<" + n.requested + ">"
	default:
		return "<?>"
	}
}

// Namespace is a scope of names. Nested scopes are created by adding scoped names.
type Namespace struct {
	scope *Name
	// assigned maps final names to the entries holding them.
	assigned map[string]*entry
	// requests groups the entries without a final name by their first choice, in insertion order.
	requests     map[string][]*entry
	requestOrder []string
}

type entry struct {
	name *Name
	sub  *Namespace
}

// NewNamespace returns an empty namespace for the scope, which may be nil for the root.
func NewNamespace(scope *Name) *Namespace {
	return &Namespace{scope: scope, assigned: map[string]*entry{}, requests: map[string][]*entry{}}
}

// Scope returns the name of the namespace.
func (ns *Namespace) Scope() *Name { return ns.scope }

// Add adds the scoped name path[0].path[1]...: every element but the last names a nested scope.
// It returns an error if a fixed name is already taken.
func (ns *Namespace) Add(path ...*Name) error {
	if len(path) == 0 {
		return nil
	}
	head, rest := path[0], path[1:]
	if final, ok := head.Final(); ok {
		if e, exists := ns.assigned[final]; exists {
			if len(rest) > 0 && e.sub != nil {
				return e.sub.Add(rest...)
			}
			return fmt.Errorf("name %s already exists", final)
		}
		e := ns.newEntry(head, rest)
		ns.assigned[final] = e
		return e.addRest(rest)
	}
	if len(rest) > 0 {
		for _, e := range ns.requests[head.requested] {
			if e.name == head && e.sub != nil {
				return e.sub.Add(rest...)
			}
		}
	}
	if _, ok := ns.requests[head.requested]; !ok {
		ns.requestOrder = append(ns.requestOrder, head.requested)
	}
	e := ns.newEntry(head, rest)
	ns.requests[head.requested] = append(ns.requests[head.requested], e)
	return e.addRest(rest)
}

func (ns *Namespace) newEntry(n *Name, rest []*Name) *entry {
	e := &entry{name: n}
	if len(rest) > 0 {
		e.sub = NewNamespace(n)
	}
	return e
}

func (e *entry) addRest(rest []*Name) error {
	if len(rest) == 0 {
		return nil
	}
	return e.sub.Add(rest...)
}

// Assign gives every requested name in the namespace and its nested scopes a final name. A first
// choice requested by a single symbol and not fixed elsewhere is used as is. Otherwise the symbols
// requesting it receive the first choice followed by the lowest free number, starting from 0.
// Symbols without a first choice are named __local0, __local1, and so on.
func (ns *Namespace) Assign() {
	for _, req := range ns.requestOrder {
		if req == "" {
			continue
		}
		entries := ns.requests[req]
		if _, taken := ns.assigned[req]; len(entries) == 1 && !taken {
			ns.bind(req, entries[0])
		}
	}
	for _, req := range ns.requestOrder {
		prefix := req
		if req == "" {
			prefix = "__local"
		}
		suffix := 0
		for _, e := range ns.requests[req] {
			if _, ok := e.name.Final(); ok {
				continue
			}
			for {
				if _, taken := ns.assigned[prefix+strconv.Itoa(suffix)]; !taken {
					break
				}
				suffix++
			}
			ns.bind(prefix+strconv.Itoa(suffix), e)
		}
	}
	for _, e := range ns.assigned {
		if e.sub != nil {
			e.sub.Assign()
		}
	}
}

func (ns *Namespace) bind(final string, e *entry) {
	e.name.final = final
	ns.assigned[final] = e
}

// Lookup returns the Name bound to the scoped final name, e.g. "loop.body".
func (ns *Namespace) Lookup(scoped string) (*Name, bool) {
	parts := strings.Split(scoped, ".")
	cur := ns
	for i, p := range parts {
		e, ok := cur.assigned[p]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return e.name, true
		}
		if e.sub == nil {
			return nil, false
		}
		cur = e.sub
	}
	return nil, false
}
