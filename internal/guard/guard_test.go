package guard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storefront/storefront/internal/shared"
)

type fakeStore struct {
	activeProducts map[int64]int
	activeBanners  map[int64]int
	flipped        []int64
}

func newGuard() *Guard[*fakeStore] {
	g := New[*fakeStore]()
	g.Register(EntityCategory, "products", func(_ context.Context, s *fakeStore, id int64) (int, error) {
		return s.activeProducts[id], nil
	})
	g.Register(EntityCategory, "banners", func(_ context.Context, s *fakeStore, id int64) (int, error) {
		return s.activeBanners[id], nil
	})
	return g
}

func flip(id int64) func(context.Context, *fakeStore) error {
	return func(_ context.Context, s *fakeStore) error {
		s.flipped = append(s.flipped, id)
		return nil
	}
}

func TestDeactivateWithoutChildren(t *testing.T) {
	g := newGuard()
	store := &fakeStore{activeProducts: map[int64]int{}, activeBanners: map[int64]int{}}

	ok, err := g.CanDeactivate(context.Background(), store, EntityCategory, 1)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, g.Deactivate(context.Background(), store, EntityCategory, 1, flip(1)))
	require.Equal(t, []int64{1}, store.flipped)
}

func TestDeactivateBlockedByActiveChildren(t *testing.T) {
	g := newGuard()
	store := &fakeStore{activeProducts: map[int64]int{7: 2}, activeBanners: map[int64]int{7: 1}}

	err := g.Deactivate(context.Background(), store, EntityCategory, 7, flip(7))
	require.ErrorIs(t, err, shared.ErrReferentialConflict)
	require.Empty(t, store.flipped)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, []Blocker{{Child: "banners", Count: 1}, {Child: "products", Count: 2}}, conflict.Blockers)
}

func TestUnregisteredEntityNeverBlocks(t *testing.T) {
	g := newGuard()
	store := &fakeStore{}
	require.NoError(t, g.Deactivate(context.Background(), store, EntityProduct, 3, flip(3)))
	require.Equal(t, []int64{3}, store.flipped)
}

func TestCounterErrorPropagates(t *testing.T) {
	g := New[*fakeStore]()
	boom := errors.New("boom")
	g.Register(EntityBrand, "products", func(context.Context, *fakeStore, int64) (int, error) {
		return 0, boom
	})
	store := &fakeStore{}
	err := g.Deactivate(context.Background(), store, EntityBrand, 1, flip(1))
	require.ErrorIs(t, err, boom)
	require.Empty(t, store.flipped)
}
