package overview_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/docstore/memory"
	"github.com/hongminglow/flatkeeper/internal/errs"
	"github.com/hongminglow/flatkeeper/internal/models"
	"github.com/hongminglow/flatkeeper/internal/overview"
	"github.com/hongminglow/flatkeeper/internal/repository"
)

const ns = docstore.Namespace("test-app")

func waitFor(t *testing.T, v *overview.View, want overview.Summary) {
	t.Helper()
	require.Eventually(t, func() bool { return v.Current() == want }, 2*time.Second, 10*time.Millisecond,
		"summary never reached %+v (last %+v)", want, v.Current())
}

func TestViewTracksAllSources(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()
	deps := repository.Deps{Store: store, Namespace: ns}
	admin := models.Actor{ID: "owner-1", Role: models.RoleAdmin}

	require.NoError(t, store.Set(ctx, ns.UserProfile("owner-1"), docstore.Fields{"role": "Admin"}))

	v, err := overview.Open(ctx, deps, admin)
	require.NoError(t, err)
	defer v.Close()

	select {
	case <-v.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("view never became ready")
	}
	waitFor(t, v, overview.Summary{TotalUsers: 1})

	propertyID, err := repository.NewProperties(deps, admin).Create(ctx, models.PropertyInput{Name: "Green Valley", Address: "12 Elm St"})
	require.NoError(t, err)
	flats := repository.NewFlats(deps, admin)
	flatID, err := flats.Create(ctx, models.FlatInput{PropertyID: propertyID, FlatNumber: "A-101", AreaSqFt: 850, IsOccupied: true})
	require.NoError(t, err)
	_, err = flats.Create(ctx, models.FlatInput{PropertyID: propertyID, FlatNumber: "A-102", AreaSqFt: 700})
	require.NoError(t, err)

	tenants := repository.NewTenants(deps, admin, nil)
	tenantID, err := tenants.Create(ctx, models.TenantInput{
		Name: "Jane Doe", Contact: "jane@example.com", PropertyID: propertyID, FlatID: flatID,
		MaintenanceAmount: 150, DueDate: "2024-07-01",
	})
	require.NoError(t, err)

	waitFor(t, v, overview.Summary{
		TotalProperties: 1, TotalFlats: 2, OccupiedFlats: 1, TotalTenants: 1, UnpaidBills: 1, TotalUsers: 1,
	})

	require.NoError(t, tenants.SetPaid(ctx, tenantID, true))
	waitFor(t, v, overview.Summary{
		TotalProperties: 1, TotalFlats: 2, OccupiedFlats: 1, TotalTenants: 1, UnpaidBills: 0, TotalUsers: 1,
	})
}

func TestViewUpdatesAreLatestWins(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()
	deps := repository.Deps{Store: store, Namespace: ns}
	admin := models.Actor{ID: "owner-1", Role: models.RoleSuperAdmin}

	v, err := overview.Open(ctx, deps, admin)
	require.NoError(t, err)
	defer v.Close()
	<-v.Ready()

	props := repository.NewProperties(deps, admin)
	for i := 0; i < 5; i++ {
		_, err := props.Create(ctx, models.PropertyInput{Name: "P", Address: "A"})
		require.NoError(t, err)
	}
	waitFor(t, v, overview.Summary{TotalProperties: 5})

	var last overview.Summary
	require.Eventually(t, func() bool {
		select {
		case last = <-v.Updates():
		default:
		}
		return last.TotalProperties == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestViewCloseReleasesSubscriptions(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Close()

	v, err := overview.Open(ctx, repository.Deps{Store: store, Namespace: ns}, models.Actor{ID: "o", Role: models.RoleAdmin})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return store.Subscribers() == 4 }, time.Second, 10*time.Millisecond)

	v.Close()
	assert.NoError(t, v.Err())
	assert.Equal(t, 0, store.Subscribers())
	_, ok := <-v.Updates()
	for ok {
		_, ok = <-v.Updates()
	}
}

func TestViewStopsWhenStoreCloses(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	v, err := overview.Open(ctx, repository.Deps{Store: store, Namespace: ns}, models.Actor{ID: "o", Role: models.RoleAdmin})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	select {
	case <-v.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("view did not stop")
	}
	assert.ErrorIs(t, v.Err(), errs.StoreUnavailable)
}

func TestViewRequiresAdmin(t *testing.T) {
	store := memory.New()
	defer store.Close()

	_, err := overview.Open(context.Background(), repository.Deps{Store: store, Namespace: ns},
		models.Actor{ID: "u", Role: models.RoleUser})
	assert.ErrorIs(t, err, errs.Unauthorized)
	assert.Equal(t, 0, store.Subscribers())
}
