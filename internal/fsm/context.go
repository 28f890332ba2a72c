package fsm

import (
	"sort"
	"strings"
)

// KeyFamilyMember names the member a recording or playback session targets.
const KeyFamilyMember = "family_member"

// Context is an immutable key/value payload attached to one transition.
type Context struct {
	values map[string]string
}

// NewContext builds a context from alternating key, value pairs. A trailing key without a value
// is ignored.
func NewContext(pairs ...string) Context {
	if len(pairs) < 2 {
		return Context{}
	}
	values := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		values[pairs[i]] = pairs[i+1]
	}
	return Context{values: values}
}

// MemberContext is shorthand for a context carrying only the family member. An empty member
// yields an empty context.
func MemberContext(member string) Context {
	if strings.TrimSpace(member) == "" {
		return Context{}
	}
	return NewContext(KeyFamilyMember, member)
}

// Get returns the value for key.
func (c Context) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Member returns the family member, or "" when absent.
func (c Context) Member() string {
	return c.values[KeyFamilyMember]
}

// With returns a copy of c with key set to value.
func (c Context) With(key, value string) Context {
	values := make(map[string]string, len(c.values)+1)
	for k, v := range c.values {
		values[k] = v
	}
	values[key] = value
	return Context{values: values}
}

// Len returns the number of keys.
func (c Context) Len() int {
	return len(c.values)
}

// String renders keys in sorted order for logs.
func (c Context) String() string {
	if len(c.values) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(c.values[k])
	}
	b.WriteByte('}')
	return b.String()
}
