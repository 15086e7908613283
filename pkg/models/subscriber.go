package models

// Subscriber is the contact snapshot the engine evaluates conditions and
// renders templates against. Contact storage itself is an external
// collaborator; the engine only ever sees this read-only view.
type Subscriber struct {
	ID        string         `json:"id"`
	Email     string         `json:"email" validate:"required,email"`
	FirstName string         `json:"first_name,omitempty"`
	LastName  string         `json:"last_name,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
}

// HasTag reports whether the subscriber carries the named tag.
func (s *Subscriber) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

// Field returns a custom field value, falling back to the built-in
// identity fields.
func (s *Subscriber) Field(name string) (any, bool) {
	switch name {
	case "email":
		return s.Email, true
	case "first_name":
		return s.FirstName, true
	case "last_name":
		return s.LastName, true
	}

	value, ok := s.Fields[name]

	return value, ok
}
