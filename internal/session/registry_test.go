package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seatmap-booking/internal/domain"
	"github.com/robertarktes/seatmap-booking/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	reg := session.NewRegistry(time.Minute, nil)
	s := newSession(t, &fakeAPI{}, nil)
	reg.Add(s)

	got, err := reg.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, reg.Remove(s.ID()))
	_, err = reg.Get(s.ID())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.True(t, errors.Is(reg.Remove(s.ID()), domain.ErrNotFound))
}

func TestRegistry_Reap(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	clock := func() time.Time { return now }

	reg := session.NewRegistry(10*time.Minute, nil)
	idle := newSession(t, &fakeAPI{}, nil, session.WithClock(clock))
	reg.Add(idle)

	api := &fakeAPI{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	busy := newSession(t, api, nil, session.WithClock(clock))
	reg.Add(busy)
	_, _ = busy.ToggleSeat("3,3")
	done := make(chan error, 1)
	go func() {
		_, err := busy.SubmitBooking(context.Background(), customer, cash, domain.Discount{})
		done <- err
	}()
	<-api.entered

	now = start.Add(5 * time.Minute)
	assert.Equal(t, 0, reg.Reap(now))

	now = start.Add(11 * time.Minute)
	assert.Equal(t, 1, reg.Reap(now))
	assert.Equal(t, 1, reg.Len())
	_, err := reg.Get(busy.ID())
	assert.NoError(t, err)
	assert.True(t, errors.Is(reg.Remove(busy.ID()), domain.ErrSessionBusy))

	close(api.gate)
	require.NoError(t, <-done)
}

func TestRegistry_MarkStale(t *testing.T) {
	reg := session.NewRegistry(time.Minute, nil)
	a := newSession(t, &fakeAPI{}, nil)
	b := newSession(t, &fakeAPI{}, nil)
	reg.Add(a)
	reg.Add(b)

	other := showtime()
	other.ID = "st-2"
	c, err := session.New(&fakeAPI{}, other, nil)
	require.NoError(t, err)
	reg.Add(c)

	assert.Equal(t, 1, reg.MarkStale("st-1", a.ID()))
	assert.False(t, a.View().Stale)
	assert.True(t, b.View().Stale)
	assert.False(t, c.View().Stale)
}
