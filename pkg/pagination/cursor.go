package pagination

import "fmt"

// Cursor marks the last identifier already returned. The zero value is the start cursor.
type Cursor struct {
	id    int64
	valid bool
}

// Start returns the initial cursor, positioned before the first record.
func Start() Cursor {
	return Cursor{}
}

// After returns a cursor positioned after id.
func After(id int64) Cursor {
	return Cursor{id: id, valid: true}
}

// IsStart reports whether no page has been consumed yet.
func (c Cursor) IsStart() bool {
	return !c.valid
}

// ID returns the last-seen identifier and whether the cursor has one.
func (c Cursor) ID() (int64, bool) {
	return c.id, c.valid
}

// String renders the cursor for logs.
func (c Cursor) String() string {
	if !c.valid {
		return "start"
	}
	return fmt.Sprintf("after:%d", c.id)
}
