package content

import (
	"context"
	"fmt"
	"time"

	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/editor"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/ids"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/media"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Resource is the type-erased view of a Collection used by the JSON API and
// the admin shell, which handle every collection the same way.
type Resource interface {
	Schema() Schema
	Rows(ctx context.Context, scope Scope) (any, error)
	Row(ctx context.Context, id string) (any, error)
	CreateRow(ctx context.Context, values editor.Values) (any, error)
	UpdateRow(ctx context.Context, id string, values editor.Values) (any, error)
	Delete(ctx context.Context, id string, confirmed bool) error
	ToggleRow(ctx context.Context, id string, current bool) (any, error)
	Move(ctx context.Context, id string, direction Direction) (bool, error)
}

func (c *Collection[T]) Rows(ctx context.Context, scope Scope) (any, error) {
	return c.List(ctx, scope)
}

func (c *Collection[T]) Row(ctx context.Context, id string) (any, error) {
	return c.Get(ctx, id)
}

func (c *Collection[T]) CreateRow(ctx context.Context, values editor.Values) (any, error) {
	return c.Create(ctx, values)
}

func (c *Collection[T]) UpdateRow(ctx context.Context, id string, values editor.Values) (any, error) {
	return c.Update(ctx, id, values)
}

func (c *Collection[T]) ToggleRow(ctx context.Context, id string, current bool) (any, error) {
	return c.ToggleActive(ctx, id, current)
}

type RegistryConfig struct {
	Database   *gorm.DB
	Catalogue  Catalogue
	IDProvider ids.Provider
	Publisher  realtime.Publisher
	Retirer    media.Retirer
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Registry holds one Collection per catalogue entry.
type Registry struct {
	order     []string
	resources map[string]Resource
}

type builder func(CollectionConfig) (Resource, error)

func build[T Entry](cfg CollectionConfig) (Resource, error) {
	collection, err := NewCollection[T](cfg)
	if err != nil {
		return nil, err
	}
	return collection, nil
}

var builders = map[string]builder{
	Course{}.TableName():            build[Course],
	Training{}.TableName():          build[Training],
	Benefit{}.TableName():           build[Benefit],
	MonitoringService{}.TableName(): build[MonitoringService],
	MedicineService{}.TableName():   build[MedicineService],
	Service{}.TableName():           build[Service],
	FAQ{}.TableName():               build[FAQ],
	Testimonial{}.TableName():       build[Testimonial],
	MenuItem{}.TableName():          build[MenuItem],
	QRCodeLink{}.TableName():        build[QRCodeLink],
}

// NewRegistry builds a collection for every schema in the catalogue. A schema
// without a model is a configuration error.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	registry := &Registry{
		order:     make([]string, 0, len(cfg.Catalogue.Collections)),
		resources: make(map[string]Resource, len(cfg.Catalogue.Collections)),
	}
	for _, schema := range cfg.Catalogue.Collections {
		construct, ok := builders[schema.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, schema.Name)
		}
		resource, err := construct(CollectionConfig{
			Database:   cfg.Database,
			Schema:     schema,
			IDProvider: cfg.IDProvider,
			Publisher:  cfg.Publisher,
			Retirer:    cfg.Retirer,
			Clock:      cfg.Clock,
			Logger:     cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		registry.order = append(registry.order, schema.Name)
		registry.resources[schema.Name] = resource
	}
	return registry, nil
}

// Resource finds a collection by name.
func (r *Registry) Resource(name string) (Resource, error) {
	resource, ok := r.resources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return resource, nil
}

// Schemas returns the schemas in catalogue order.
func (r *Registry) Schemas() []Schema {
	schemas := make([]Schema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.resources[name].Schema())
	}
	return schemas
}

// Lookup returns the typed collection registered under name.
func Lookup[T Entry](r *Registry, name string) (*Collection[T], error) {
	resource, err := r.Resource(name)
	if err != nil {
		return nil, err
	}
	collection, ok := resource.(*Collection[T])
	if !ok {
		return nil, fmt.Errorf("%w: %s has a different model", ErrUnknownCollection, name)
	}
	return collection, nil
}

// Active loads the public rows of the collection registered for T.
func Active[T Entry](ctx context.Context, r *Registry) ([]T, error) {
	var zero T
	collection, err := Lookup[T](r, zero.TableName())
	if err != nil {
		return nil, err
	}
	return collection.List(ctx, ScopePublic)
}
