package tags

// Condition gates a mission or branch on the tags an actor holds.
//
// Both sets are mandatory: an actor satisfies the condition only when it holds
// every Required tag and every Optional tag. Optional tags are the
// runtime-appended part of the condition (user tags); they are "optional" in the
// sense that authors do not set them, not in the sense that they may be missing.
type Condition struct {
	Required Set `json:"required,omitempty"`
	Optional Set `json:"optional,omitempty"`
}

// NewCondition builds a condition from required and optional tag lists.
func NewCondition(required, optional []Tag) Condition {
	return Condition{Required: NewSet(required...), Optional: NewSet(optional...)}
}

// Satisfied reports whether held contains every required and optional tag.
func (c Condition) Satisfied(held Set) bool {
	return held.ContainsAll(c.Optional) && held.ContainsAll(c.Required)
}

// Empty reports whether the condition gates on nothing.
func (c Condition) Empty() bool {
	return len(c.Required) == 0 && len(c.Optional) == 0
}

// Equal reports whether both tag sets match.
func (c Condition) Equal(other Condition) bool {
	return c.Required.Equal(other.Required) && c.Optional.Equal(other.Optional)
}

// Clone returns a deep copy.
func (c Condition) Clone() Condition {
	return Condition{Required: c.Required.Clone(), Optional: c.Optional.Clone()}
}

// AppendOptional adds user tags to the optional set.
func (c *Condition) AppendOptional(list ...Tag) {
	if c.Optional == nil {
		c.Optional = make(Set, len(list))
	}
	c.Optional.Add(list...)
}

// RemoveOptional removes user tags from the optional set.
func (c *Condition) RemoveOptional(list ...Tag) {
	c.Optional.Remove(list...)
}

// ClearOptional empties the optional set.
func (c *Condition) ClearOptional() {
	c.Optional.Clear()
}

// Missing returns the tags of c that held lacks, in sorted order.
func (c Condition) Missing(held Set) []Tag {
	missing := NewSet()
	for t := range c.Required {
		if !held.Has(t) {
			missing.Add(t)
		}
	}
	for t := range c.Optional {
		if !held.Has(t) {
			missing.Add(t)
		}
	}
	return missing.Sorted()
}
