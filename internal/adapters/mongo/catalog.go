package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/robertarktes/seatmap-booking/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/singleflight"
)

// CatalogRepository caches room layouts fetched from the booking API.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
	group  singleflight.Group
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CatalogRepository{
		coll:   db.Collection("room_layouts"),
		logger: logger.WithField("component", "catalog"),
	}
}

type LayoutDoc struct {
	RoomID    string    `bson:"_id"`
	Rows      int       `bson:"rows"`
	Columns   int       `bson:"columns"`
	Seats     []SeatDoc `bson:"seats"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type SeatDoc struct {
	ID       string `bson:"id,omitempty"`
	Label    string `bson:"label,omitempty"`
	Row      int    `bson:"row"`
	Column   int    `bson:"column"`
	Category string `bson:"category"`
}

func toDoc(layout domain.RoomLayout) LayoutDoc {
	doc := LayoutDoc{RoomID: layout.RoomID, Rows: layout.Rows, Columns: layout.Columns}
	for c, cat := range layout.SeatTypes {
		doc.Seats = append(doc.Seats, SeatDoc{
			ID:       layout.SeatIDs[c],
			Label:    layout.Labels[c],
			Row:      c.Row,
			Column:   c.Column,
			Category: string(cat),
		})
	}
	for c, id := range layout.SeatIDs {
		if _, typed := layout.SeatTypes[c]; !typed {
			doc.Seats = append(doc.Seats, SeatDoc{ID: id, Label: layout.Labels[c], Row: c.Row, Column: c.Column})
		}
	}
	return doc
}

func (d LayoutDoc) toLayout() domain.RoomLayout {
	layout := domain.RoomLayout{
		RoomID:    d.RoomID,
		Rows:      d.Rows,
		Columns:   d.Columns,
		SeatTypes: map[domain.Coord]domain.Category{},
		SeatIDs:   map[domain.Coord]string{},
		Labels:    map[domain.Coord]string{},
	}
	for _, s := range d.Seats {
		c := domain.Coord{Row: s.Row, Column: s.Column}
		if s.Category != "" {
			layout.SeatTypes[c] = domain.Category(s.Category)
		}
		if s.ID != "" {
			layout.SeatIDs[c] = s.ID
		}
		if s.Label != "" {
			layout.Labels[c] = s.Label
		}
	}
	return layout
}

func (c *CatalogRepository) GetLayout(ctx context.Context, roomID string) (domain.RoomLayout, error) {
	var doc LayoutDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": roomID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.RoomLayout{}, errors.Wrapf(domain.ErrNotFound, "room layout %q", roomID)
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to get room layout")
		return domain.RoomLayout{}, err
	}
	return doc.toLayout(), nil
}

func (c *CatalogRepository) SaveLayout(ctx context.Context, layout domain.RoomLayout) error {
	doc := toDoc(layout)
	doc.UpdatedAt = time.Now().UTC()
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": doc.RoomID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.WithError(err).Error("failed to save room layout")
		return err
	}
	return nil
}

// Resolve returns the cached layout for roomID, filling the cache through
// fill on a miss. Concurrent misses for one room share a single fill.
func (c *CatalogRepository) Resolve(ctx context.Context, roomID string, fill func(context.Context) (domain.RoomLayout, error)) (domain.RoomLayout, error) {
	layout, err := c.GetLayout(ctx, roomID)
	if err == nil {
		return layout, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		c.logger.WithError(err).Warn("layout cache unavailable, fetching directly")
		return fill(ctx)
	}

	v, err, _ := c.group.Do(roomID, func() (interface{}, error) {
		if cached, err := c.GetLayout(ctx, roomID); err == nil {
			return cached, nil
		}
		layout, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.SaveLayout(ctx, layout); err != nil {
			c.logger.WithError(err).Warn("failed to cache room layout")
		}
		return layout, nil
	})
	if err != nil {
		return domain.RoomLayout{}, err
	}
	return v.(domain.RoomLayout), nil
}
