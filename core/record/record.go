package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ChildrenField holds the list of references to a record's children.
	ChildrenField = "child_refs"
	// DevicePrefix marks fields that stay on the device and are never synchronized.
	DevicePrefix = "device_"
)

// IsDeviceField reports whether the field is local-only.
func IsDeviceField(name string) bool {
	return strings.HasPrefix(name, DevicePrefix)
}

// Scope is an access-control boundary within the remote store.
type Scope string

const (
	ScopePrivate Scope = "private"
	ScopeShared  Scope = "shared"
	ScopePublic  Scope = "public"
)

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopePrivate, ScopeShared, ScopePublic:
		return true
	default:
		return false
	}
}

// ID identifies a record within a scope. Name is unique within Zone.
type ID struct {
	Zone string `json:"zone"`
	Name string `json:"name"`
}

// NewID returns a fresh random id in the given zone.
func NewID(zone string) ID {
	return ID{Zone: zone, Name: uuid.NewString()}
}

// ParseID parses the "zone/name" form produced by ID.String.
func ParseID(s string) (ID, error) {
	zone, name, ok := strings.Cut(s, "/")
	if !ok || zone == "" || name == "" {
		return ID{}, fmt.Errorf("invalid record id %q", s)
	}
	return ID{Zone: zone, Name: name}, nil
}

func (id ID) String() string {
	return id.Zone + "/" + id.Name
}

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool {
	return id.Zone == "" && id.Name == ""
}

// Record is the wire-level unit of synchronization as seen by the remote store.
type Record struct {
	// Type is the schema kind of the record.
	Type string `json:"type"`
	// ID is the record identifier.
	ID ID `json:"id"`
	// Fields holds the synchronized field values.
	Fields map[string]Value `json:"fields"`
	// Parent is the owning record, if any.
	Parent *ID `json:"parent,omitempty"`
	// ChangeTag is the server version the record was read at. Empty for records
	// that have not been created remotely yet.
	ChangeTag string `json:"change_tag,omitempty"`
	// Modified is the server modification time.
	Modified time.Time `json:"modified,omitempty"`
}

// New returns an empty record shell.
func New(typeName string, id ID) *Record {
	return &Record{Type: typeName, ID: id, Fields: make(map[string]Value)}
}

// Get returns the value of a field, or null.
func (r *Record) Get(field string) Value {
	if r == nil || r.Fields == nil {
		return Null()
	}
	return r.Fields[field]
}

// Set stores a field value. Null removes the field.
func (r *Record) Set(field string, v Value) {
	if v.IsNull() {
		delete(r.Fields, field)
		return
	}
	if r.Fields == nil {
		r.Fields = make(map[string]Value)
	}
	r.Fields[field] = v
}

// Clone returns a copy that can be mutated independently.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Fields = make(map[string]Value, len(r.Fields))
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	if r.Parent != nil {
		p := *r.Parent
		cp.Parent = &p
	}
	return &cp
}

// ChildIDs returns the ids referenced by the children field.
func (r *Record) ChildIDs() []ID {
	items, ok := r.Get(ChildrenField).AsList()
	if !ok {
		return nil
	}
	ids := make([]ID, 0, len(items))
	for _, item := range items {
		if id, ok := item.AsReference(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
