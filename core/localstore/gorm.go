package localstore

import (
	"context"
	"errors"
	"fmt"

	"record-sync/core/database"
	"record-sync/core/record"
	"record-sync/core/remote"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var objectConflictColumns = []clause.Column{{Name: "scope"}, {Name: "type"}, {Name: "zone"}, {Name: "name"}}

// GormStore persists objects, change tokens and in-progress markers through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open connection. Call Migrate before first use.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var _ Store = (*GormStore)(nil)

// Migrate creates or updates the sync tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&ObjectRow{}, &TokenRow{}, &InProgressRow{}); err != nil {
		return fmt.Errorf("failed to migrate sync tables: %w", err)
	}
	return nil
}

// requiredColumns lists the columns the store reads and writes, per table.
var requiredColumns = map[string][]string{
	"sync_objects":     {"scope", "type", "zone", "name", "fields", "parent_type", "parent_zone", "parent_name", "sync_state", "revision", "change_tag"},
	"sync_tokens":      {"scope", "zone", "token"},
	"sync_in_progress": {"scope", "type", "zone", "name"},
}

// Verify checks that every table has the columns the store needs and returns
// the missing ones as "table.column".
func (s *GormStore) Verify(ctx context.Context) ([]string, error) {
	var missing []string
	for _, table := range []string{"sync_objects", "sync_tokens", "sync_in_progress"} {
		columns, err := database.GetTableColumns(s.db.WithContext(ctx), table)
		if err != nil {
			return nil, err
		}
		present := make(map[string]bool, len(columns))
		for _, col := range columns {
			present[col.Field] = true
		}
		for _, want := range requiredColumns[table] {
			if !present[want] {
				missing = append(missing, table+"."+want)
			}
		}
	}
	return missing, nil
}

func lookupRow(db *gorm.DB, ref Ref) (*Object, error) {
	var row ObjectRow
	err := db.Where("scope = ? AND type = ? AND zone = ? AND name = ?", string(ref.Scope), ref.Type, ref.ID.Zone, ref.ID.Name).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup %s: %w", ref, err)
	}
	return row.object()
}

func findRow(db *gorm.DB, scope record.Scope, id record.ID) (*Object, error) {
	var row ObjectRow
	err := db.Where("scope = ? AND zone = ? AND name = ?", string(scope), id.Zone, id.Name).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", id, err)
	}
	return row.object()
}

func deleteRow(db *gorm.DB, ref Ref) error {
	where := "scope = ? AND type = ? AND zone = ? AND name = ?"
	args := []any{string(ref.Scope), ref.Type, ref.ID.Zone, ref.ID.Name}
	if err := db.Where(where, args...).Delete(&ObjectRow{}).Error; err != nil {
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	if err := db.Where(where, args...).Delete(&InProgressRow{}).Error; err != nil {
		return fmt.Errorf("failed to clear in-progress marker of %s: %w", ref, err)
	}
	return nil
}

func (s *GormStore) Lookup(ctx context.Context, ref Ref) (*Object, error) {
	return lookupRow(s.db.WithContext(ctx), ref)
}

func (s *GormStore) Find(ctx context.Context, scope record.Scope, id record.ID) (*Object, error) {
	return findRow(s.db.WithContext(ctx), scope, id)
}

func (s *GormStore) Children(ctx context.Context, parent Ref) ([]*Object, error) {
	var rows []ObjectRow
	err := s.db.WithContext(ctx).
		Where("scope = ? AND parent_type = ? AND parent_zone = ? AND parent_name = ?",
			string(parent.Scope), parent.Type, parent.ID.Zone, parent.ID.Name).
		Order("zone, name").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", parent, err)
	}
	out := make([]*Object, 0, len(rows))
	for i := range rows {
		obj, err := rows[i].object()
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (s *GormStore) ListIDs(ctx context.Context, scope record.Scope, typeName, zone string) ([]record.ID, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&ObjectRow{}).
		Where("scope = ? AND type = ? AND zone = ?", string(scope), typeName, zone).
		Order("name").
		Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s ids in %s: %w", typeName, zone, err)
	}
	ids := make([]record.ID, len(names))
	for i, name := range names {
		ids[i] = record.ID{Zone: zone, Name: name}
	}
	return ids, nil
}

func (s *GormStore) InsertIfAbsent(ctx context.Context, obj *Object) (*Object, bool, error) {
	row, err := toRow(obj)
	if err != nil {
		return nil, false, err
	}
	db := s.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{Columns: objectConflictColumns, DoNothing: true}).Create(row)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to insert %s: %w", obj.Ref, res.Error)
	}
	stored, err := lookupRow(db, obj.Ref)
	if err != nil {
		return nil, false, err
	}
	return stored, res.RowsAffected > 0, nil
}

func (s *GormStore) Delete(ctx context.Context, ref Ref) error {
	return deleteRow(s.db.WithContext(ctx), ref)
}

// Save runs fn inside one database transaction.
func (s *GormStore) Save(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db})
	})
}

func (s *GormStore) Token(ctx context.Context, scope record.Scope, zone string) (remote.ChangeToken, error) {
	var row TokenRow
	err := s.db.WithContext(ctx).Where("scope = ? AND zone = ?", string(scope), zone).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load change token for %s: %w", zone, err)
	}
	return remote.ChangeToken(row.Token), nil
}

func (s *GormStore) InProgress(ctx context.Context) ([]Ref, error) {
	var rows []InProgressRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load in-progress objects: %w", err)
	}
	refs := make([]Ref, len(rows))
	for i, row := range rows {
		refs[i] = row.ref()
	}
	return refs, nil
}

type gormTx struct {
	db *gorm.DB
}

func (tx *gormTx) Lookup(ref Ref) (*Object, error) {
	return lookupRow(tx.db, ref)
}

func (tx *gormTx) Find(scope record.Scope, id record.ID) (*Object, error) {
	return findRow(tx.db, scope, id)
}

func (tx *gormTx) Put(obj *Object) error {
	row, err := toRow(obj)
	if err != nil {
		return err
	}
	err = tx.db.Clauses(clause.OnConflict{
		Columns:   objectConflictColumns,
		DoUpdates: clause.AssignmentColumns([]string{"fields", "parent_type", "parent_zone", "parent_name", "sync_state", "revision", "change_tag", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", obj.Ref, err)
	}
	return nil
}

func (tx *gormTx) Delete(ref Ref) error {
	return deleteRow(tx.db, ref)
}

func (tx *gormTx) SetToken(scope record.Scope, zone string, token remote.ChangeToken) error {
	row := TokenRow{Scope: string(scope), Zone: zone, Token: string(token)}
	err := tx.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "zone"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to store change token for %s: %w", zone, err)
	}
	return nil
}

func (tx *gormTx) MarkInProgress(ref Ref, inProgress bool) error {
	row := InProgressRow{Scope: string(ref.Scope), Type: ref.Type, Zone: ref.ID.Zone, Name: ref.ID.Name}
	if inProgress {
		err := tx.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("failed to mark %s in progress: %w", ref, err)
		}
		return nil
	}
	err := tx.db.Where("scope = ? AND type = ? AND zone = ? AND name = ?", row.Scope, row.Type, row.Zone, row.Name).
		Delete(&InProgressRow{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear in-progress marker of %s: %w", ref, err)
	}
	return nil
}
