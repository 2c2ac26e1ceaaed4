package localstore

import (
	"encoding/json"
	"fmt"
	"time"

	"record-sync/core/record"

	"gorm.io/datatypes"
)

// ObjectRow is the sync_objects table.
type ObjectRow struct {
	ID         uint           `gorm:"primaryKey"`
	Scope      string         `gorm:"size:16;not null;uniqueIndex:idx_sync_object,priority:1;index:idx_sync_object_id,priority:1"`
	Type       string         `gorm:"size:128;not null;uniqueIndex:idx_sync_object,priority:2"`
	Zone       string         `gorm:"size:128;not null;uniqueIndex:idx_sync_object,priority:3;index:idx_sync_object_id,priority:2"`
	Name       string         `gorm:"size:191;not null;uniqueIndex:idx_sync_object,priority:4;index:idx_sync_object_id,priority:3"`
	Fields     datatypes.JSON `gorm:"not null"`
	ParentType string         `gorm:"size:128;index:idx_sync_parent,priority:1"`
	ParentZone string         `gorm:"size:128;index:idx_sync_parent,priority:2"`
	ParentName string         `gorm:"size:191;index:idx_sync_parent,priority:3"`
	SyncState  string         `gorm:"size:16;not null;index"`
	Revision   int64          `gorm:"not null"`
	ChangeTag  string         `gorm:"size:191"`
	UpdatedAt  time.Time
}

func (ObjectRow) TableName() string { return "sync_objects" }

// TokenRow is the sync_tokens table: one change-feed cursor per zone.
type TokenRow struct {
	ID        uint   `gorm:"primaryKey"`
	Scope     string `gorm:"size:16;not null;uniqueIndex:idx_sync_token,priority:1"`
	Zone      string `gorm:"size:128;not null;uniqueIndex:idx_sync_token,priority:2"`
	Token     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (TokenRow) TableName() string { return "sync_tokens" }

// InProgressRow is the sync_in_progress table.
type InProgressRow struct {
	ID        uint   `gorm:"primaryKey"`
	Scope     string `gorm:"size:16;not null;uniqueIndex:idx_sync_in_progress,priority:1"`
	Type      string `gorm:"size:128;not null;uniqueIndex:idx_sync_in_progress,priority:2"`
	Zone      string `gorm:"size:128;not null;uniqueIndex:idx_sync_in_progress,priority:3"`
	Name      string `gorm:"size:191;not null;uniqueIndex:idx_sync_in_progress,priority:4"`
	CreatedAt time.Time
}

func (InProgressRow) TableName() string { return "sync_in_progress" }

func (r InProgressRow) ref() Ref {
	return Ref{Scope: record.Scope(r.Scope), Type: r.Type, ID: record.ID{Zone: r.Zone, Name: r.Name}}
}

func toRow(obj *Object) (*ObjectRow, error) {
	fields := obj.Fields
	if fields == nil {
		fields = map[string]record.Value{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields of %s: %w", obj.Ref, err)
	}
	row := &ObjectRow{
		Scope:     string(obj.Scope),
		Type:      obj.Type,
		Zone:      obj.ID.Zone,
		Name:      obj.ID.Name,
		Fields:    datatypes.JSON(raw),
		SyncState: obj.SyncState.String(),
		Revision:  obj.Revision,
		ChangeTag: obj.ChangeTag,
	}
	if obj.Parent != nil {
		row.ParentType = obj.Parent.Type
		row.ParentZone = obj.Parent.ID.Zone
		row.ParentName = obj.Parent.ID.Name
	}
	return row, nil
}

func (r *ObjectRow) object() (*Object, error) {
	fields := map[string]record.Value{}
	if len(r.Fields) > 0 {
		if err := json.Unmarshal(r.Fields, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields of %s/%s: %w", r.Zone, r.Name, err)
		}
	}
	state, err := record.ParseSyncState(r.SyncState)
	if err != nil {
		return nil, err
	}
	obj := &Object{
		Ref:       Ref{Scope: record.Scope(r.Scope), Type: r.Type, ID: record.ID{Zone: r.Zone, Name: r.Name}},
		Fields:    fields,
		SyncState: state,
		Revision:  r.Revision,
		ChangeTag: r.ChangeTag,
	}
	if r.ParentName != "" {
		obj.Parent = &Ref{Scope: obj.Scope, Type: r.ParentType, ID: record.ID{Zone: r.ParentZone, Name: r.ParentName}}
	}
	return obj, nil
}
