// Package record defines the data model shared by every layer of the sync engine.
//
// # Values
//
// Field values are a closed tagged union (Value) covering strings, integers,
// floats, booleans, timestamps, blob assets, geo points, references to other
// records and lists of those. Equal is the single definition of "same value"
// used to decide whether a field is dirty.
//
// Binary content is never held inline: an asset value is a location handle,
// either a local file path waiting to be uploaded or a storage object key.
//
// # Records
//
// Record is the wire-ready form exchanged with the remote store. Records are
// addressed by an ID (zone + name) within a Scope. The children of a record
// are listed in the ChildrenField as references; the parent is carried in
// Record.Parent.
//
// # Usage
//
//	r := record.New("Order", record.NewID("default"))
//	r.Set("total", record.Int(10))
//	record.Equal(r.Get("total"), record.Int(10)) // true
package record
