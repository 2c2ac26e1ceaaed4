package localstore

import (
	"context"
	"errors"

	"record-sync/core/record"
	"record-sync/core/remote"
)

// ErrNotFound is returned by lookups for objects that do not exist.
var ErrNotFound = errors.New("object not found")

// Ref addresses a local object.
type Ref struct {
	Scope record.Scope `json:"scope"`
	Type  string       `json:"type"`
	ID    record.ID    `json:"id"`
}

func (r Ref) String() string {
	return string(r.Scope) + ":" + r.Type + ":" + r.ID.String()
}

// Object is the application-side copy of a synchronized record.
type Object struct {
	Ref
	// Fields holds the object's field values, device-only fields included.
	Fields map[string]record.Value `json:"fields"`
	// Parent references the owning object, if any. It shares the object's scope.
	Parent *Ref `json:"parent,omitempty"`
	// SyncState tracks whether the object has unsynchronized changes.
	SyncState record.SyncState `json:"sync_state"`
	// Revision increases every time the object is marked dirty.
	Revision int64 `json:"revision"`
	// ChangeTag is the remote version last confirmed for this object. Empty
	// means the record has never been created remotely.
	ChangeTag string `json:"change_tag,omitempty"`
}

// Clone returns a deep copy of o.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Fields = make(map[string]record.Value, len(o.Fields))
	for k, v := range o.Fields {
		cp.Fields[k] = v
	}
	if o.Parent != nil {
		p := *o.Parent
		cp.Parent = &p
	}
	return &cp
}

// Tx is the view of the store inside an atomic Save.
type Tx interface {
	// Lookup returns the object for ref or ErrNotFound.
	Lookup(ref Ref) (*Object, error)
	// Find returns the object with id in scope regardless of type, or ErrNotFound.
	Find(scope record.Scope, id record.ID) (*Object, error)
	// Put inserts or replaces obj.
	Put(obj *Object) error
	// Delete removes the object for ref. Missing objects are ignored.
	Delete(ref Ref) error
	// SetToken records the change-feed cursor of a zone.
	SetToken(scope record.Scope, zone string, token remote.ChangeToken) error
	// MarkInProgress adds or removes ref from the list of objects whose sync
	// has started but not finished.
	MarkInProgress(ref Ref, inProgress bool) error
}

// Store is the local persistence the engine synchronizes.
type Store interface {
	// Lookup returns the object for ref or ErrNotFound.
	Lookup(ctx context.Context, ref Ref) (*Object, error)
	// Find returns the object with id in scope regardless of type, or ErrNotFound.
	Find(ctx context.Context, scope record.Scope, id record.ID) (*Object, error)
	// Children returns the objects whose parent is ref.
	Children(ctx context.Context, parent Ref) ([]*Object, error)
	// ListIDs returns the ids of all objects of a type in a zone.
	ListIDs(ctx context.Context, scope record.Scope, typeName, zone string) ([]record.ID, error)
	// InsertIfAbsent stores obj unless an object with the same ref exists. It
	// returns the stored object and whether obj was inserted.
	InsertIfAbsent(ctx context.Context, obj *Object) (*Object, bool, error)
	// Delete removes the object for ref. Missing objects are ignored.
	Delete(ctx context.Context, ref Ref) error
	// Save runs fn atomically: either every mutation made through tx is
	// persisted or none is.
	Save(ctx context.Context, fn func(tx Tx) error) error
	// Token returns the last persisted change-feed cursor of a zone.
	Token(ctx context.Context, scope record.Scope, zone string) (remote.ChangeToken, error)
	// InProgress returns the objects whose sync started but never finished.
	InProgress(ctx context.Context) ([]Ref, error)
}
