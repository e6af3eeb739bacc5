package ui

// Container groups child elements. Children are keyed by name, so adding a
// child whose name is taken replaces the earlier one in place.
type Container struct {
	Base
	StatusIcon string

	children    map[string]Element
	order       []string
	maxPosition int
}

func NewContainer(name, displayName string, opts ...ElementOption) *Container {
	c := &Container{Base: newBase(TypeContainer, name, displayName)}
	c.init()
	applyOptions(c, opts)
	return c
}

func (c *Container) init() {
	if c.children == nil {
		c.children = make(map[string]Element)
	}
}

// Children returns the children in insertion order.
func (c *Container) Children() []Element {
	out := make([]Element, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.children[name])
	}
	return out
}

// AddChildren adds or replaces children. Children without a position are
// given the next free one.
func (c *Container) AddChildren(children ...Element) *Container {
	c.init()
	for _, child := range children {
		if child == nil {
			continue
		}
		meta := child.Metadata()
		if _, exists := c.children[meta.Name]; !exists {
			c.order = append(c.order, meta.Name)
		}
		c.children[meta.Name] = child
		meta.parent = c
		if meta.Position == nil {
			meta.Position = Int(c.maxPosition)
			c.maxPosition++
		}
	}
	return c
}

// SetChildren replaces all children.
func (c *Container) SetChildren(children ...Element) *Container {
	c.ClearChildren()
	return c.AddChildren(children...)
}

// RemoveChildren removes children by name. Unknown children are ignored.
func (c *Container) RemoveChildren(children ...Element) {
	for _, child := range children {
		if child == nil {
			continue
		}
		meta := child.Metadata()
		if _, ok := c.children[meta.Name]; !ok {
			continue
		}
		delete(c.children, meta.Name)
		for i, name := range c.order {
			if name == meta.Name {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
		if meta.parent == c {
			meta.parent = nil
		}
	}
}

// ClearChildren removes every child.
func (c *Container) ClearChildren() {
	for _, child := range c.children {
		if meta := child.Metadata(); meta.parent == c {
			meta.parent = nil
		}
	}
	c.children = make(map[string]Element)
	c.order = nil
}

// GetElement finds an element by name, checking direct children before
// searching nested containers depth-first.
func (c *Container) GetElement(name string) Element {
	if e, ok := c.children[name]; ok {
		return e
	}
	for _, childName := range c.order {
		if nested, ok := c.children[childName].(interface{ GetElement(string) Element }); ok {
			if e := nested.GetElement(name); e != nil {
				return e
			}
		}
	}
	return nil
}

func (c *Container) ToDict() Document {
	d := c.Base.ToDict()
	putString(d, "statusIcon", c.StatusIcon)
	children := make(Document, len(c.children))
	for name, child := range c.children {
		children[name] = child.ToDict()
	}
	d["children"] = children
	return d
}

// GetDiff returns the changes needed to turn other into this container's
// serialized form. Children are compared recursively.
func (c *Container) GetDiff(other Document, remove bool) Document {
	return c.diffAs(c, other, remove)
}

// diffAs diffs using self's serialized fields, so embedding types contribute
// their own keys.
func (c *Container) diffAs(self Element, other Document, remove bool) Document {
	this := self.ToDict()
	delete(this, "children")
	otherFields := make(Document, len(other))
	for k, v := range other {
		if k != "children" {
			otherFields[k] = v
		}
	}
	res := diffDocuments(this, otherFields, remove)
	if res == nil {
		res = Document{}
	}

	otherChildren, _ := other["children"].(map[string]any)
	childrenDiff := Document{}
	if remove {
		for name := range otherChildren {
			if _, ok := c.children[name]; !ok {
				childrenDiff[name] = nil
			}
		}
	}
	for _, name := range c.order {
		child := c.children[name]
		prev, ok := otherChildren[name].(map[string]any)
		if !ok {
			childrenDiff[name] = child.ToDict()
			continue
		}
		if d := Diff(child, prev, remove); d != nil {
			childrenDiff[name] = d
		}
	}
	if len(childrenDiff) > 0 {
		res["children"] = childrenDiff
	}
	if len(res) == 0 {
		return nil
	}
	return res
}

// Submodule is a collapsible container with a status line. Collapsed is
// not published.
type Submodule struct {
	Container
	Status    string
	Collapsed bool
}

func NewSubmodule(name, displayName string, opts ...ElementOption) *Submodule {
	s := &Submodule{Container: Container{Base: newBase(TypeSubmodule, name, displayName)}}
	s.init()
	applyOptions(s, opts)
	return s
}

func (s *Submodule) ToDict() Document {
	d := s.Container.ToDict()
	putString(d, "statusString", s.Status)
	return d
}

func (s *Submodule) GetDiff(other Document, remove bool) Document {
	return s.Container.diffAs(s, other, remove)
}
