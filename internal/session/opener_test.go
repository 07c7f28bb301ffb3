package session_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/robertarktes/seatmap-booking/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	fakeAPI
	showtime    domain.Showtime
	showtimeErr error
	roomFetches int32
}

func (f *fakeRemote) FetchShowtime(_ context.Context, id string) (domain.Showtime, error) {
	if f.showtimeErr != nil {
		return domain.Showtime{}, f.showtimeErr
	}
	st := f.showtime
	st.ID = id
	return st, nil
}

func (f *fakeRemote) FetchRoomLayout(_ context.Context, roomID string) (domain.RoomLayout, error) {
	atomic.AddInt32(&f.roomFetches, 1)
	layout := showtime().Layout
	layout.RoomID = roomID
	return layout, nil
}

type memCatalog struct {
	layouts map[string]domain.RoomLayout
}

func (m *memCatalog) Resolve(ctx context.Context, roomID string, fill func(context.Context) (domain.RoomLayout, error)) (domain.RoomLayout, error) {
	if l, ok := m.layouts[roomID]; ok {
		return l, nil
	}
	l, err := fill(ctx)
	if err == nil {
		m.layouts[roomID] = l
	}
	return l, err
}

func TestOpener_Open(t *testing.T) {
	remote := &fakeRemote{showtime: showtime()}
	remote.snapshot = []domain.BookingRecord{{BookingID: "b1", SeatID: "1,1"}}
	reg := session.NewRegistry(time.Minute, nil)

	s, err := session.NewOpener(remote, reg, nil, nil, nil).Open(context.Background(), "st-9")
	require.NoError(t, err)
	assert.Equal(t, "st-9", s.ShowtimeID())
	assert.True(t, s.Grid().IsBooked("1,1"))
	assert.Equal(t, 1, reg.Len())
	assert.Zero(t, atomic.LoadInt32(&remote.roomFetches))
}

func TestOpener_FallsBackToCatalog(t *testing.T) {
	st := showtime()
	st.Layout = domain.RoomLayout{}
	remote := &fakeRemote{showtime: st}
	catalog := &memCatalog{layouts: map[string]domain.RoomLayout{}}
	opener := session.NewOpener(remote, session.NewRegistry(time.Minute, nil), catalog, nil, nil)

	for i := 0; i < 2; i++ {
		s, err := opener.Open(context.Background(), "st-1")
		require.NoError(t, err)
		assert.Equal(t, 5, s.Grid().Rows())
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&remote.roomFetches))
}

func TestOpener_UnknownShowtime(t *testing.T) {
	remote := &fakeRemote{showtimeErr: remoteErr{reason: domain.ReasonNotFound}}
	reg := session.NewRegistry(time.Minute, nil)

	_, err := session.NewOpener(remote, reg, nil, nil, nil).Open(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Zero(t, reg.Len())
}

func TestOpener_BadLayout(t *testing.T) {
	st := showtime()
	st.Layout.SeatTypes[domain.Coord{Row: 9, Column: 9}] = domain.CategoryStandard
	remote := &fakeRemote{showtime: st}

	_, err := session.NewOpener(remote, session.NewRegistry(time.Minute, nil), nil, nil, nil).Open(context.Background(), "st-1")
	assert.True(t, errors.Is(err, domain.ErrLayout))
}
