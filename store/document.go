package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the single aggregate holding all three collections. It is
// loaded and persisted as one unit.
type Document struct {
	Users []*Entity `json:"users"`
	Lists []*Entity `json:"lists"`
	Items []*Entity `json:"items"`
}

// NewDocument returns a Document with three empty collections.
func NewDocument() *Document {
	return &Document{
		Users: []*Entity{},
		Lists: []*Entity{},
		Items: []*Entity{},
	}
}

// DecodeDocument parses a persisted Document. Missing collections come back
// empty and null entries are dropped.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc.normalize()
	return &doc, nil
}

// Encode renders the Document the way it is written to disk: pretty-printed
// with two-space indentation and <, > and & left unescaped.
func (d *Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Collection returns the entities of c.
func (d *Document) Collection(c Collection) []*Entity {
	if p := d.slot(c); p != nil {
		return *p
	}
	return nil
}

func (d *Document) slot(c Collection) *[]*Entity {
	switch c {
	case Users:
		return &d.Users
	case Lists:
		return &d.Lists
	case Items:
		return &d.Items
	}
	return nil
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	c := &Document{}
	for _, name := range Collections {
		src := d.Collection(name)
		dst := make([]*Entity, len(src))
		for i, e := range src {
			dst[i] = e.Clone()
		}
		*c.slot(name) = dst
	}
	return c
}

func (d *Document) normalize() {
	for _, name := range Collections {
		p := d.slot(name)
		kept := make([]*Entity, 0, len(*p))
		for _, e := range *p {
			if e != nil {
				kept = append(kept, e)
			}
		}
		*p = kept
	}
}

func (d *Document) indexOf(c Collection, id string) int {
	for i, e := range d.Collection(c) {
		if e.ID() == id {
			return i
		}
	}
	return -1
}

func (d *Document) append(c Collection, e *Entity) {
	p := d.slot(c)
	*p = append(*p, e)
}

func (d *Document) removeAt(c Collection, i int) *Entity {
	p := d.slot(c)
	removed := (*p)[i]
	*p = append((*p)[:i], (*p)[i+1:]...)
	return removed
}

// removeWhere drops every entity of c whose field equals value and reports
// how many were removed.
func (d *Document) removeWhere(c Collection, field, value string) int {
	p := d.slot(c)
	kept := (*p)[:0]
	removed := 0
	for _, e := range *p {
		if v, ok := e.StringField(field); ok && v == value {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	*p = kept
	return removed
}
