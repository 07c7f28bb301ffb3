package mongo_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	mongoadapter "github.com/robertarktes/seatmap-booking/internal/adapters/mongo"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func startMongo(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mongoContainer.Terminate(ctx) })

	host, err := mongoContainer.Host(ctx)
	require.NoError(t, err)
	port, err := mongoContainer.MappedPort(ctx, "27017")
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+host+":"+port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return client.Database("seatmap_test")
}

func TestAuditLogger(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	audit := mongoadapter.NewAuditLogger(db, nil)

	require.NoError(t, audit.LogEvent(ctx, "booking.submitted", "sess-1", map[string]interface{}{"showtime_id": "st1"}))
	require.NoError(t, audit.LogEvent(ctx, "booking.created", "sess-1", map[string]interface{}{"showtime_id": "st1", "total": 900}))
	require.NoError(t, audit.LogEvent(ctx, "booking.created", "sess-2", map[string]interface{}{"showtime_id": "st2"}))

	logs, err := audit.ForShowtime(ctx, "st1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "sess-1", logs[0].Actor)
}

func TestCatalog_ResolveFillsOnce(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	catalog := mongoadapter.NewCatalogRepository(db, nil)

	_, err := catalog.GetLayout(ctx, "r1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	layout := domain.RoomLayout{
		RoomID:    "r1",
		Rows:      2,
		Columns:   3,
		SeatTypes: map[domain.Coord]domain.Category{{Row: 1, Column: 1}: domain.CategoryPremium},
		SeatIDs:   map[domain.Coord]string{{Row: 1, Column: 1}: "s11"},
		Labels:    map[domain.Coord]string{{Row: 1, Column: 1}: "A1"},
	}
	var fills int32
	fill := func(context.Context) (domain.RoomLayout, error) {
		atomic.AddInt32(&fills, 1)
		return layout, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := catalog.Resolve(ctx, "r1", fill)
			assert.NoError(t, err)
			assert.Equal(t, 3, got.Columns)
		}()
	}
	wg.Wait()

	got, err := catalog.Resolve(ctx, "r1", fill)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryPremium, got.SeatTypes[domain.Coord{Row: 1, Column: 1}])
	assert.Equal(t, "s11", got.SeatIDs[domain.Coord{Row: 1, Column: 1}])
	assert.Equal(t, "A1", got.Labels[domain.Coord{Row: 1, Column: 1}])
	assert.LessOrEqual(t, atomic.LoadInt32(&fills), int32(5))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&fills), int32(1))
}
