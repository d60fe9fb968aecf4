package multishapelet

import "fmt"

// SourceRecord holds the measurements accumulated for one detected source.
// Algorithms communicate through named fields: each algorithm writes its
// outputs under its own name and reads the outputs of the algorithms it
// depends on.
type SourceRecord struct {
	ID        int64
	Center    Point2d
	Shape     EllipseCore
	Footprint *Footprint

	values map[string]float64
	flags  map[string]bool
}

// NewSourceRecord returns an empty record with the given identifier.
func NewSourceRecord(id int64) *SourceRecord {
	return &SourceRecord{
		ID:     id,
		values: make(map[string]float64),
		flags:  make(map[string]bool),
	}
}

// Set stores a named measurement value.
func (r *SourceRecord) Set(field string, value float64) {
	r.values[field] = value
}

// Get returns a named measurement value, or an error if no algorithm has
// written it.
func (r *SourceRecord) Get(field string) (float64, error) {
	v, ok := r.values[field]
	if !ok {
		return 0, fmt.Errorf("field %q not present in record %d", field, r.ID)
	}
	return v, nil
}

// SetFlag stores a named boolean flag.
func (r *SourceRecord) SetFlag(field string, value bool) {
	r.flags[field] = value
}

// GetFlag returns a named flag; missing flags read as false.
func (r *SourceRecord) GetFlag(field string) bool {
	return r.flags[field]
}

// Fields returns the names of all measurement values present in the record.
func (r *SourceRecord) Fields() []string {
	names := make([]string, 0, len(r.values))
	for name := range r.values {
		names = append(names, name)
	}
	return names
}
