package proxy

import (
	"sort"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/golang/groupcache/lru"

	"objbridge.dev/ob/protocol"
)

//	Class is the dispatch table for every proxy of one remote class: the
//	field names, and each method name's overloads in declaration order.
type Class struct {
	Name       string
	Interfaces []string
	fields     map[string]bool
	fieldOrder []string
	methods    map[string][]protocol.MethodDescriptor
	order      []string
	//	exported-style spelling -> remote name
	aliases map[string]string
}

func newClass(d protocol.ClassDescriptor, convertNames bool) *Class {
	c := &Class{
		Name:       d.Class,
		Interfaces: append([]string{}, d.Interfaces...),
		fields:     map[string]bool{},
		methods:    map[string][]protocol.MethodDescriptor{},
		aliases:    map[string]string{},
	}
	for _, field := range d.Fields {
		if !c.fields[field] {
			c.fields[field] = true
			c.fieldOrder = append(c.fieldOrder, field)
		}
	}
	for _, m := range d.API {
		if _, seen := c.methods[m.Name]; !seen {
			c.order = append(c.order, m.Name)
		}
		c.methods[m.Name] = append(c.methods[m.Name], m)
	}
	if convertNames {
		for _, name := range append(append([]string{}, c.order...), c.fieldOrder...) {
			exported := ExportedName(name)
			if exported == name || c.declared(exported) {
				continue
			}
			if _, taken := c.aliases[exported]; !taken {
				c.aliases[exported] = name
			}
		}
	}
	return c
}

func (c *Class) declared(name string) bool {
	_, isMethod := c.methods[name]
	return isMethod || c.fields[name]
}

//	ExportedName upper-cases the first letter: getImage becomes GetImage.
func ExportedName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError || !unicode.IsLower(r) {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

//	RemoteName maps a visible name back to the name the server declared.
func (c *Class) RemoteName(name string) string {
	if c.declared(name) {
		return name
	}
	if remote, ok := c.aliases[name]; ok {
		return remote
	}
	return name
}

func (c *Class) Overloads(name string) []protocol.MethodDescriptor {
	return c.methods[c.RemoteName(name)]
}

func (c *Class) HasMethod(name string) bool {
	return len(c.Overloads(name)) > 0
}

func (c *Class) HasField(name string) bool {
	return c.fields[c.RemoteName(name)]
}

func (c *Class) Fields() []string {
	return append([]string{}, c.fieldOrder...)
}

//	Methods lists the visible method names, remote spelling replaced by the
//	exported one when names are converted.
func (c *Class) Methods() (names []string) {
	visible := map[string]string{}
	for alias, remote := range c.aliases {
		visible[remote] = alias
	}
	for _, name := range c.order {
		if alias, ok := visible[name]; ok {
			name = alias
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return
}

//	Factory memoizes one Class per class name for the life of the process.
//	The first Class stored for a name wins: later descriptors of the same
//	name are never re-read.
type Factory struct {
	mu           sync.Mutex
	classes      *lru.Cache
	convertNames bool
}

func NewFactory(convertNames bool) *Factory {
	//	MaxEntries 0: never evict
	return &Factory{classes: lru.New(0), convertNames: convertNames}
}

func (f *Factory) lookup(name string) (c *Class, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cached, ok := f.classes.Get(name)
	if ok {
		c = cached.(*Class)
	}
	return
}

//	ClassFor returns the cached Class for d.Class, building it from d on first
//	sight. Two goroutines meeting an unseen class at once may both build it;
//	only the first stored result is ever handed out.
func (f *Factory) ClassFor(d protocol.ClassDescriptor) *Class {
	if c, ok := f.lookup(d.Class); ok {
		return c
	}
	built := newClass(d, f.convertNames)

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.classes.Get(d.Class); ok {
		return cached.(*Class)
	}
	f.classes.Add(d.Class, built)
	return built
}

func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classes.Len()
}
