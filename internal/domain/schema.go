package domain

// Field is one column of a batch schema.
type Field struct {
	Name string
	Kind ColumnKind
}

// Schema is the ordered column set shared by every row of a batch. Column
// order is part of the schema: data columns sort lexicographically (or follow
// the configured allowlist), and the derived partition column always comes
// last.
type Schema struct {
	Fields []Field
}

// BuildSchema assembles a schema from resolved column kinds. It is a pure
// function of its inputs, so two batches with the same columns and kinds get
// byte-identical schemas regardless of row content or arrival order.
func BuildSchema(order []string, kinds map[string]ColumnKind) *Schema {
	fields := make([]Field, 0, len(order))
	for _, name := range order {
		fields = append(fields, Field{Name: name, Kind: kinds[name]})
	}
	return &Schema{Fields: fields}
}

// Kind reports the resolved kind of the named column.
func (s *Schema) Kind(name string) (ColumnKind, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Kind, true
		}
	}
	return KindPassThrough, false
}

// Has reports whether the named column is part of the schema.
func (s *Schema) Has(name string) bool {
	_, ok := s.Kind(name)
	return ok
}

// Names returns the column names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}
