// Package content implements the ordered collections edited in the admin
// panel: courses, trainings, FAQ entries, testimonials and the rest. Every
// collection shares one shape (display_order, is_active) and one set of
// operations; only the display fields differ.
package content

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/editor"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/ids"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/media"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/realtime"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/serviceerr"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormschema "gorm.io/gorm/schema"
)

var (
	ErrUnknownCollection    = errors.New("content: unknown collection")
	ErrNotFound             = errors.New("content: item not found")
	ErrConfirmationRequired = errors.New("content: delete requires confirmation")
	ErrInvalidDirection     = errors.New("content: direction must be up or down")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errSchemaMismatch    = errors.New("schema does not match model")
	noOpLogger           = zap.NewNop()
)

const (
	opCollectionNew = "content.collection.new"
	opList          = "content.list"
	opGet           = "content.get"
	opCreate        = "content.create"
	opUpdate        = "content.update"
	opDelete        = "content.delete"
	opToggleActive  = "content.toggle_active"
	opMove          = "content.move"
)

// Scope selects which rows List returns.
type Scope int

const (
	// ScopePublic returns active rows only.
	ScopePublic Scope = iota
	// ScopeAdmin returns every row, including soft-deleted ones.
	ScopeAdmin
)

// Direction is the way Move shifts an item.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// ParseDirection validates a direction received from a client.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(raw) {
	case DirectionUp, DirectionDown:
		return Direction(raw), nil
	default:
		return "", ErrInvalidDirection
	}
}

const structureKey = "*"

type CollectionConfig struct {
	Database   *gorm.DB
	Schema     Schema
	IDProvider ids.Provider
	Publisher  realtime.Publisher
	// Retirer deletes images an update stopped referencing.
	Retirer media.Retirer
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Collection is the store-backed service for one content type.
type Collection[T Entry] struct {
	db         *gorm.DB
	schema     Schema
	table      string
	idProvider ids.Provider
	publisher  realtime.Publisher
	retirer    media.Retirer
	clock      func() time.Time
	logger     *zap.Logger

	publicLoads singleflight.Group
	locks       *keyedMutex
}

// NewCollection checks that every field of the schema maps onto a column of
// T and builds the collection service.
func NewCollection[T Entry](cfg CollectionConfig) (*Collection[T], error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opCollectionNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New(opCollectionNew, "missing_id_provider", errMissingIDProvider)
	}

	var zero T
	table := zero.TableName()
	if table != cfg.Schema.Name {
		return nil, serviceerr.New(opCollectionNew, "table_mismatch",
			fmt.Errorf("%w: schema %q, model table %q", errSchemaMismatch, cfg.Schema.Name, table))
	}
	parsed, err := gormschema.Parse(new(T), &sync.Map{}, cfg.Database.NamingStrategy)
	if err != nil {
		return nil, serviceerr.New(opCollectionNew, "model_parse_failed", err)
	}
	for _, field := range cfg.Schema.Form().Fields() {
		column := parsed.LookUpField(field.Name)
		if column == nil || column.DBName != field.Name {
			return nil, serviceerr.New(opCollectionNew, "unknown_column",
				fmt.Errorf("%w: %s has no column %q", errSchemaMismatch, table, field.Name))
		}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	retirer := cfg.Retirer
	if retirer == nil {
		retirer = media.NopRetirer{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Collection[T]{
		db:         cfg.Database,
		schema:     cfg.Schema,
		table:      table,
		idProvider: cfg.IDProvider,
		publisher:  publisher,
		retirer:    retirer,
		clock:      clock,
		logger:     logger,
		locks:      newKeyedMutex(),
	}, nil
}

func (c *Collection[T]) Schema() Schema {
	return c.schema
}

// List returns the collection in display order. Concurrent public loads share
// one query.
func (c *Collection[T]) List(ctx context.Context, scope Scope) ([]T, error) {
	if scope == ScopeAdmin {
		return c.query(ctx, false)
	}
	result, err, _ := c.publicLoads.Do("public", func() (any, error) {
		return c.query(context.WithoutCancel(ctx), true)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(result.([]T)), nil
}

func (c *Collection[T]) query(ctx context.Context, activeOnly bool) ([]T, error) {
	statement := c.db.WithContext(ctx).Model(new(T))
	if activeOnly {
		statement = statement.Where("is_active = ?", true)
	}
	rows := make([]T, 0)
	if err := orderedScope(statement).Find(&rows).Error; err != nil {
		c.logError(opList, "query_failed", err, zap.Bool("active_only", activeOnly))
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return rows, nil
}

// Get loads one row regardless of its active flag.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var row T
	err := c.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, ErrNotFound
	}
	if err != nil {
		c.logError(opGet, "query_failed", err, zap.String("id", id))
		return row, serviceerr.New(opGet, "query_failed", err)
	}
	return row, nil
}

// Create validates values and appends a new active row at the end of the
// collection.
func (c *Collection[T]) Create(ctx context.Context, values editor.Values) (T, error) {
	var created T
	cleaned, err := c.schema.Form().Clean(values, false)
	if err != nil {
		return created, err
	}
	id, err := c.idProvider.NewID()
	if err != nil {
		c.logError(opCreate, "id_generation_failed", err)
		return created, serviceerr.New(opCreate, "id_generation_failed", err)
	}

	now := c.clock().UTC()
	row := make(map[string]any, len(cleaned)+5)
	for key, value := range cleaned {
		row[key] = value
	}
	row[columnID] = id
	row[columnIsActive] = true
	row[columnCreatedAt] = now
	row[columnUpdatedAt] = now

	unlock := c.locks.Lock(structureKey)
	defer unlock()

	txErr := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := c.lockStructure(tx); err != nil {
			c.logError(opCreate, "lock_failed", err)
			return serviceerr.New(opCreate, "lock_failed", err)
		}
		var maxOrder int64
		if err := tx.Table(c.table).Select("COALESCE(MAX(display_order), -1)").Row().Scan(&maxOrder); err != nil {
			c.logError(opCreate, "max_order_failed", err)
			return serviceerr.New(opCreate, "max_order_failed", err)
		}
		row[columnDisplayOrder] = maxOrder + 1
		if err := tx.Table(c.table).Create(row).Error; err != nil {
			c.logError(opCreate, "insert_failed", err, zap.String("id", id))
			return serviceerr.New(opCreate, "insert_failed", err)
		}
		if err := tx.Where("id = ?", id).Take(&created).Error; err != nil {
			c.logError(opCreate, "reload_failed", err, zap.String("id", id))
			return serviceerr.New(opCreate, "reload_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return created, txErr
	}
	c.publish(realtime.EventInsert)
	return created, nil
}

// Update applies a partial change of display fields. Ordering and the active
// flag are not writable here. Images the change replaces are retired only
// after the new values are committed.
func (c *Collection[T]) Update(ctx context.Context, id string, values editor.Values) (T, error) {
	var updated T
	cleaned, err := c.schema.Form().Clean(values, true)
	if err != nil {
		return updated, err
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	if len(cleaned) == 0 {
		return c.Get(ctx, id)
	}
	changes := make(map[string]any, len(cleaned)+1)
	for key, value := range cleaned {
		changes[key] = value
	}
	changes[columnUpdatedAt] = c.clock().UTC()
	imageColumns := c.changedImageColumns(cleaned)

	previous := map[string]any{}
	txErr := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(imageColumns) > 0 {
			err := tx.Table(c.table).Select(imageColumns).Where("id = ?", id).Take(&previous).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			if err != nil {
				c.logError(opUpdate, "query_failed", err, zap.String("id", id))
				return serviceerr.New(opUpdate, "query_failed", err)
			}
		}
		result := tx.Table(c.table).Where("id = ?", id).Updates(changes)
		if result.Error != nil {
			c.logError(opUpdate, "update_failed", result.Error, zap.String("id", id))
			return serviceerr.New(opUpdate, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("id = ?", id).Take(&updated).Error; err != nil {
			c.logError(opUpdate, "reload_failed", err, zap.String("id", id))
			return serviceerr.New(opUpdate, "reload_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return updated, txErr
	}
	for _, column := range imageColumns {
		retired, current := cast.ToString(previous[column]), cast.ToString(cleaned[column])
		if retired != current {
			c.retirer.Retire(ctx, retired, current)
		}
	}
	c.publish(realtime.EventUpdate)
	return updated, nil
}

func (c *Collection[T]) changedImageColumns(cleaned editor.Values) []string {
	var columns []string
	for _, field := range c.schema.Form().Fields() {
		if field.Type != editor.FieldImage {
			continue
		}
		if _, ok := cleaned[field.Name]; ok {
			columns = append(columns, field.Name)
		}
	}
	return columns
}

// Delete removes an item once the caller has confirmed it. Collections with a
// soft delete mode only clear is_active so the row stays visible to admins.
func (c *Collection[T]) Delete(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	if c.schema.Delete == DeleteSoft {
		result := c.db.WithContext(ctx).Table(c.table).Where("id = ?", id).Updates(map[string]any{
			columnIsActive:  false,
			columnUpdatedAt: c.clock().UTC(),
		})
		if result.Error != nil {
			c.logError(opDelete, "soft_delete_failed", result.Error, zap.String("id", id))
			return serviceerr.New(opDelete, "soft_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		c.publish(realtime.EventUpdate)
		return nil
	}

	result := c.db.WithContext(ctx).Where("id = ?", id).Delete(new(T))
	if result.Error != nil {
		c.logError(opDelete, "delete_failed", result.Error, zap.String("id", id))
		return serviceerr.New(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	c.publish(realtime.EventDelete)
	return nil
}

// ToggleActive flips the active flag from the value the caller last saw.
func (c *Collection[T]) ToggleActive(ctx context.Context, id string, current bool) (T, error) {
	var toggled T

	unlock := c.locks.Lock(id)
	defer unlock()

	txErr := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Table(c.table).Where("id = ?", id).Updates(map[string]any{
			columnIsActive:  !current,
			columnUpdatedAt: c.clock().UTC(),
		})
		if result.Error != nil {
			c.logError(opToggleActive, "update_failed", result.Error, zap.String("id", id))
			return serviceerr.New(opToggleActive, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("id = ?", id).Take(&toggled).Error; err != nil {
			c.logError(opToggleActive, "reload_failed", err, zap.String("id", id))
			return serviceerr.New(opToggleActive, "reload_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return toggled, txErr
	}
	c.publish(realtime.EventUpdate)
	return toggled, nil
}

type position struct {
	ID           string
	DisplayOrder int
}

// Move swaps an item's display_order with its neighbour in the admin order.
// Moving the first item up or the last item down reports false and writes
// nothing.
func (c *Collection[T]) Move(ctx context.Context, id string, direction Direction) (bool, error) {
	if _, err := ParseDirection(string(direction)); err != nil {
		return false, err
	}

	unlock := c.locks.Lock(structureKey)
	defer unlock()

	moved := false
	txErr := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := c.lockStructure(tx); err != nil {
			c.logError(opMove, "lock_failed", err, zap.String("id", id))
			return serviceerr.New(opMove, "lock_failed", err)
		}
		var positions []position
		statement := tx.Table(c.table).Select("id, display_order").Clauses(clause.Locking{Strength: "UPDATE"})
		if err := orderedScope(statement).Find(&positions).Error; err != nil {
			c.logError(opMove, "query_failed", err, zap.String("id", id))
			return serviceerr.New(opMove, "query_failed", err)
		}

		current := slices.IndexFunc(positions, func(p position) bool { return p.ID == id })
		if current < 0 {
			return ErrNotFound
		}
		neighbour := current - 1
		if direction == DirectionDown {
			neighbour = current + 1
		}
		if neighbour < 0 || neighbour >= len(positions) {
			return nil
		}

		now := c.clock().UTC()
		if positions[current].DisplayOrder == positions[neighbour].DisplayOrder {
			for index := range positions {
				if positions[index].DisplayOrder == index {
					continue
				}
				if err := c.setOrder(tx, positions[index].ID, index, now); err != nil {
					return err
				}
				positions[index].DisplayOrder = index
			}
		}

		if err := c.setOrder(tx, positions[current].ID, positions[neighbour].DisplayOrder, now); err != nil {
			return err
		}
		if err := c.setOrder(tx, positions[neighbour].ID, positions[current].DisplayOrder, now); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if txErr != nil {
		return false, txErr
	}
	if moved {
		c.publish(realtime.EventUpdate)
	}
	return moved, nil
}

// lockStructure serializes ordering writes on the collection across every
// process sharing a Postgres database until tx ends. The keyed mutex only
// covers this process; SQLite already admits a single writer.
func (c *Collection[T]) lockStructure(tx *gorm.DB) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", "content:"+c.table).Error
}

func (c *Collection[T]) setOrder(tx *gorm.DB, id string, order int, now time.Time) error {
	err := tx.Table(c.table).Where("id = ?", id).Updates(map[string]any{
		columnDisplayOrder: order,
		columnUpdatedAt:    now,
	}).Error
	if err != nil {
		c.logError(opMove, "update_failed", err, zap.String("id", id))
		return serviceerr.New(opMove, "update_failed", err)
	}
	return nil
}

func (c *Collection[T]) publish(event realtime.EventType) {
	c.publisher.Publish(realtime.ChangeEvent{Event: event, Table: c.table})
}

func (c *Collection[T]) logError(operation, reason string, err error, fields ...zap.Field) {
	if c.logger == nil {
		return
	}
	allFields := make([]zap.Field, 0, len(fields)+4)
	allFields = append(allFields,
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("collection", c.table),
	)
	allFields = append(allFields, fields...)
	if err != nil {
		allFields = append(allFields, zap.Error(err))
	}
	c.logger.Error("content operation failed", allFields...)
}

func orderedScope(statement *gorm.DB) *gorm.DB {
	return statement.Order("display_order ASC").Order("created_at ASC").Order("id ASC")
}
