package fields

import "io"

// Field is a single decoded (or user-set) name/value pair. Name is stored in
// canonical form.
type Field struct {
	Name  string
	Value string
}

// Block is the ordered field-block shared by request headers, response
// headers, and (after the last chunk) trailers. It supports the accessors
// a parsed request's data model names: count(name), has(name),
// value(name, position).
//
// Name/value bytes are copied out of the connection's read buffer at parse
// time rather than held as ranges into it: the ring buffer backing a
// connection may compact or recycle blocks between parser calls, which would
// turn a zero-copy range into a dangling one. Copying trades a per-field
// allocation for the simpler, always-valid lifetime the rest of the
// connection handler assumes; io.Copy-sized request bodies never pass through
// this path; only the header/trailer names and values are small field-block
// data. See DESIGN.md (Open Questions) for the full rationale.
type Block struct {
	list       []Field
	nameBytes  int
	valueBytes int
}

// Reset empties the block for reuse (e.g. turning the header block back into
// a trailer block, per the chunked-request lifecycle in the data model).
func (b *Block) Reset() {
	b.list = b.list[:0]
	b.nameBytes = 0
	b.valueBytes = 0
}

// Add appends name (canonicalized) / value to the block.
func (b *Block) Add(name, value string) {
	cn := CanonicalFieldName(name)
	b.list = append(b.list, Field{Name: cn, Value: value})
	b.nameBytes += len(cn)
	b.valueBytes += len(value)
}

// Set replaces all existing values for name with a single value.
func (b *Block) Set(name, value string) {
	cn := CanonicalFieldName(name)
	for i := range b.list {
		if b.list[i].Name == cn {
			b.list[i].Value = value
			for j := len(b.list) - 1; j > i; j-- {
				if b.list[j].Name == cn {
					b.list = append(b.list[:j], b.list[j+1:]...)
				}
			}
			return
		}
	}
	b.Add(cn, value)
}

// Len returns the number of fields currently stored.
func (b *Block) Len() int { return len(b.list) }

// NameBytes / ValueBytes report cumulative bytes consumed by names/values
// across the whole block. The parser does not consult them: it enforces the
// per-field name and value size limits while scanning each field.
func (b *Block) NameBytes() int  { return b.nameBytes }
func (b *Block) ValueBytes() int { return b.valueBytes }

// Count returns how many fields are stored under name.
func (b *Block) Count(name string) int {
	cn := CanonicalFieldName(name)
	n := 0
	for _, f := range b.list {
		if f.Name == cn {
			n++
		}
	}
	return n
}

// Has reports whether at least one field is stored under name.
func (b *Block) Has(name string) bool { return b.Count(name) > 0 }

// Get returns the first value stored under name.
func (b *Block) Get(name string) string {
	v, _ := b.Value(name, 0)
	return v
}

// Value returns the position'th (0-indexed) value stored under name.
func (b *Block) Value(name string, position int) (string, bool) {
	cn := CanonicalFieldName(name)
	i := 0
	for _, f := range b.list {
		if f.Name == cn {
			if i == position {
				return f.Value, true
			}
			i++
		}
	}
	return "", false
}

// All returns the field list in insertion order. The caller must not mutate it.
func (b *Block) All() []Field { return b.list }

// WriteWire writes every field as "Name: Value\r\n" in insertion order,
// skipping any field whose name is in exclude.
func (b *Block) WriteWire(w io.Writer, exclude map[string]bool) error {
	for _, f := range b.list {
		if exclude != nil && exclude[f.Name] {
			continue
		}
		if _, err := io.WriteString(w, f.Name); err != nil {
			return err
		}
		if _, err := io.WriteString(w, ": "); err != nil {
			return err
		}
		if _, err := io.WriteString(w, f.Value); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
	}
	return nil
}
