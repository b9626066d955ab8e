package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/docstore/memory"
	"github.com/hongminglow/flatkeeper/internal/docstore/mocks"
	"github.com/hongminglow/flatkeeper/internal/errs"
	"github.com/hongminglow/flatkeeper/internal/metrics"
	"github.com/hongminglow/flatkeeper/internal/models"
	"github.com/hongminglow/flatkeeper/internal/projection"
	"github.com/hongminglow/flatkeeper/internal/repository"
)

const ns = docstore.Namespace("test-app")

type fixture struct {
	store  *memory.Store
	deps   repository.Deps
	writer *projection.Writer
	reader *projection.Reader
	admin  models.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	m := metrics.New()
	writer := projection.NewWriter(projection.Config{Store: store, Namespace: ns, Metrics: m})
	t.Cleanup(func() {
		writer.Close()
		_ = store.Close()
	})
	return &fixture{
		store:  store,
		deps:   repository.Deps{Store: store, Namespace: ns, Metrics: m},
		writer: writer,
		reader: projection.NewReader(store, ns),
		admin:  models.Actor{ID: "owner-1", Email: "owner@example.com", Role: models.RoleAdmin},
	}
}

func (f *fixture) properties() *repository.Properties {
	return repository.NewProperties(f.deps, f.admin)
}

func (f *fixture) flats() *repository.Flats { return repository.NewFlats(f.deps, f.admin) }

func (f *fixture) tenants() *repository.Tenants {
	return repository.NewTenants(f.deps, f.admin, f.writer)
}

func tenantInput(propertyID, flatID, contact string) models.TenantInput {
	return models.TenantInput{
		Name:              "Jane Doe",
		Contact:           contact,
		PropertyID:        propertyID,
		FlatID:            flatID,
		MaintenanceAmount: 150,
		DueDate:           "2024-07-01",
	}
}

func TestGreenValleyScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	propertyID, err := f.properties().Create(ctx, models.PropertyInput{Name: "Green Valley", Address: "12 Elm St"})
	require.NoError(t, err)
	flatID, err := f.flats().Create(ctx, models.FlatInput{PropertyID: propertyID, FlatNumber: "A-101", AreaSqFt: 850})
	require.NoError(t, err)

	tenantID, err := f.tenants().Create(ctx, tenantInput(propertyID, flatID, "jane@example.com"))
	require.NoError(t, err)

	tenant, err := f.tenants().Get(ctx, tenantID)
	require.NoError(t, err)
	assert.False(t, tenant.IsPaid)
	assert.Equal(t, "2024-07-01", tenant.DueDate)

	p, err := f.reader.Lookup(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, tenantID, p.TenantID)
	assert.Equal(t, "Green Valley", p.PropertyName)
	assert.Equal(t, "12 Elm St", p.PropertyAddress)
	assert.Equal(t, "A-101", p.FlatNumber)
	assert.Equal(t, 150.0, p.MaintenanceAmount)
	assert.False(t, p.IsPaid)
	assert.False(t, p.LastUpdated.IsZero())

	require.NoError(t, f.tenants().SetPaid(ctx, tenantID, true))
	p, err = f.reader.Lookup(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.True(t, p.IsPaid)

	require.NoError(t, f.tenants().Delete(ctx, tenantID))
	_, err = f.tenants().Get(ctx, tenantID)
	assert.ErrorIs(t, err, errs.NotFound)
	_, err = f.reader.Lookup(ctx, "jane@example.com")
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestPropertyRenameLeavesProjectionStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	propertyID, err := f.properties().Create(ctx, models.PropertyInput{Name: "Green Valley", Address: "12 Elm St"})
	require.NoError(t, err)
	flatID, err := f.flats().Create(ctx, models.FlatInput{PropertyID: propertyID, FlatNumber: "A-101", AreaSqFt: 850})
	require.NoError(t, err)
	_, err = f.tenants().Create(ctx, tenantInput(propertyID, flatID, "jane@example.com"))
	require.NoError(t, err)

	require.NoError(t, f.properties().Update(ctx, propertyID, models.PropertyInput{Name: "Blue Valley", Address: "12 Elm St"}))

	p, err := f.reader.Lookup(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Green Valley", p.PropertyName)
}

func TestDanglingReferencesProjectAsNotAvailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tenants().Create(ctx, tenantInput("missing-property", "missing-flat", "ghost@example.com"))
	require.NoError(t, err)

	p, err := f.reader.Lookup(ctx, "ghost@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.NotAvailable, p.PropertyName)
	assert.Equal(t, models.NotAvailable, p.PropertyAddress)
	assert.Equal(t, models.NotAvailable, p.FlatNumber)
}

func TestContactChangeWithdrawsOldProjection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.tenants().Create(ctx, tenantInput("p1", "f1", "old@example.com"))
	require.NoError(t, err)

	in := tenantInput("p1", "f1", "new@example.com")
	in.IsPaid = true
	require.NoError(t, f.tenants().Update(ctx, id, in))

	_, err = f.reader.Lookup(ctx, "old@example.com")
	assert.ErrorIs(t, err, errs.NotFound)
	p, err := f.reader.Lookup(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, p.TenantID)
	assert.True(t, p.IsPaid)
}

func TestSharedContactKeepsOtherTenantsProjection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	shared := "shared@example.com"

	first, err := f.tenants().Create(ctx, tenantInput("p1", "f1", shared))
	require.NoError(t, err)
	second, err := f.tenants().Create(ctx, tenantInput("p1", "f2", shared))
	require.NoError(t, err)

	require.NoError(t, f.tenants().Update(ctx, first, tenantInput("p1", "f1", "moved@example.com")))
	p, err := f.reader.Lookup(ctx, shared)
	require.NoError(t, err, "the later tenant still holds the shared contact")
	assert.Equal(t, second, p.TenantID)

	require.NoError(t, f.tenants().Delete(ctx, first))
	p, err = f.reader.Lookup(ctx, shared)
	require.NoError(t, err)
	assert.Equal(t, second, p.TenantID)

	require.NoError(t, f.tenants().Delete(ctx, second))
	_, err = f.reader.Lookup(ctx, shared)
	assert.ErrorIs(t, err, errs.NotFound)
}

func TestContactCaseIsFolded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.tenants().Create(ctx, tenantInput("p1", "f1", " Asha@X.com "))
	require.NoError(t, err)

	saved, err := f.tenants().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "asha@x.com", saved.Contact)

	p, err := f.reader.Lookup(ctx, "Asha@X.com")
	require.NoError(t, err)
	assert.Equal(t, id, p.TenantID)
}

func TestUserRoleCannotTouchRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := models.Actor{ID: "tenant-1", Email: "jane@example.com", Role: models.RoleUser}

	_, err := repository.NewProperties(f.deps, user).Create(ctx, models.PropertyInput{Name: "x", Address: "y"})
	assert.ErrorIs(t, err, errs.Unauthorized)

	_, err = repository.NewTenants(f.deps, user, f.writer).List(ctx)
	assert.ErrorIs(t, err, errs.Unauthorized)

	_, err = repository.NewFlats(f.deps, models.Actor{Role: models.RoleAdmin}).List(ctx)
	assert.ErrorIs(t, err, errs.Unauthorized, "an actor without identity is not signed in")

	docs, err := f.store.List(ctx, ns.Properties(user.ID))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestValidationFailsBeforeStoreIsTouched(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	deps := repository.Deps{Store: store, Namespace: ns}
	admin := models.Actor{ID: "owner-1", Role: models.RoleSuperAdmin}
	ctx := context.Background()

	_, err := repository.NewProperties(deps, admin).Create(ctx, models.PropertyInput{Name: "  ", Address: "x"})
	assert.ErrorIs(t, err, errs.ValidationFailed)

	_, err = repository.NewFlats(deps, admin).Create(ctx, models.FlatInput{PropertyID: "p", FlatNumber: "1", AreaSqFt: 0})
	assert.ErrorIs(t, err, errs.ValidationFailed)

	bad := tenantInput("p", "f", "jane@example.com")
	bad.DueDate = "07/01/2024"
	_, err = repository.NewTenants(deps, admin, nil).Create(ctx, bad)
	assert.ErrorIs(t, err, errs.ValidationFailed)
}

func TestUpdateMissingRecordIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.properties().Update(ctx, "nope", models.PropertyInput{Name: "a", Address: "b"})
	assert.ErrorIs(t, err, errs.NotFound)

	err = f.tenants().Update(ctx, "nope", tenantInput("p", "f", "jane@example.com"))
	assert.ErrorIs(t, err, errs.NotFound)
	_, err = f.reader.Lookup(ctx, "jane@example.com")
	assert.ErrorIs(t, err, errs.NotFound, "no projection for a failed update")
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.flats().Create(ctx, models.FlatInput{PropertyID: "p", FlatNumber: "B-2", AreaSqFt: 500})
	require.NoError(t, err)
	require.NoError(t, f.flats().Delete(ctx, id))
	require.NoError(t, f.flats().Delete(ctx, id))
	require.NoError(t, f.tenants().Delete(ctx, "never-existed"))
}

func TestStoreUnavailable(t *testing.T) {
	ctx := context.Background()

	_, err := repository.NewProperties(repository.Deps{}, models.Actor{ID: "o", Role: models.RoleAdmin}).List(ctx)
	assert.ErrorIs(t, err, errs.StoreUnavailable)

	f := newFixture(t)
	require.NoError(t, f.store.Close())
	_, err = f.properties().Create(ctx, models.PropertyInput{Name: "a", Address: "b"})
	assert.ErrorIs(t, err, errs.StoreUnavailable)
}

func TestSubscribeStreamsFullCollection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub, err := f.properties().Subscribe(ctx)
	require.NoError(t, err)

	first := nextUpdate(t, sub)
	assert.Empty(t, first)

	_, err = f.properties().Create(ctx, models.PropertyInput{Name: "Green Valley", Address: "12 Elm St"})
	require.NoError(t, err)

	var got []models.Property
	require.Eventually(t, func() bool {
		select {
		case got = <-sub.Updates():
		default:
		}
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Green Valley", got[0].Name)
	assert.NotEmpty(t, got[0].ID)

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.Eventually(t, func() bool {
		_, ok := <-sub.Updates()
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func nextUpdate[T any](t *testing.T, sub *repository.Subscription[T]) []T {
	t.Helper()
	select {
	case items, ok := <-sub.Updates():
		require.True(t, ok)
		return items
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return nil
}

func TestProjectionFailureIsPartialSync(t *testing.T) {
	ctx := context.Background()
	private := memory.New()
	t.Cleanup(func() { _ = private.Close() })

	ctrl := gomock.NewController(t)
	public := mocks.NewMockStore(ctrl)
	public.EXPECT().Subscribe(gomock.Any(), gomock.Any()).Return(nil, docstore.ErrUnavailable).AnyTimes()
	public.EXPECT().Set(gomock.Any(), ns.PublicTenant("jane@example.com"), gomock.Any(), gomock.Any()).
		Return(errors.New("permission denied"))

	m := metrics.New()
	writer := projection.NewWriter(projection.Config{Store: public, Namespace: ns, Metrics: m})
	t.Cleanup(writer.Close)
	admin := models.Actor{ID: "owner-1", Role: models.RoleAdmin}
	tenants := repository.NewTenants(repository.Deps{Store: private, Namespace: ns, Metrics: m}, admin, writer)

	id, err := tenants.Create(ctx, tenantInput("p", "f", "jane@example.com"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.PartialSyncFailure)
	assert.NotEmpty(t, id)

	saved, err := tenants.Get(ctx, id)
	require.NoError(t, err, "private write is kept")
	assert.Equal(t, "Jane Doe", saved.Name)
}

func TestResyncRepairsMissingProjections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tenants().Create(ctx, tenantInput("p", "f", "a@example.com"))
	require.NoError(t, err)
	_, err = f.tenants().Create(ctx, tenantInput("p", "f", "b@example.com"))
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, ns.PublicTenant("a@example.com")))

	n, err := f.tenants().Resync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.reader.Lookup(ctx, "a@example.com")
	assert.NoError(t, err)
}

func TestFilterTenants(t *testing.T) {
	properties := []models.Property{{ID: "p1", Name: "Green Valley"}, {ID: "p2", Name: "Hill Top"}}
	flats := []models.Flat{{ID: "f1", FlatNumber: "A-101"}, {ID: "f2", FlatNumber: "B-202"}}
	tenants := []models.Tenant{
		{ID: "t1", Name: "Jane", Contact: "jane@example.com", PropertyID: "p1", FlatID: "f1", IsPaid: true},
		{ID: "t2", Name: "Omar", Contact: "omar@example.com", PropertyID: "p2", FlatID: "f2"},
		{ID: "t3", Name: "Li", Contact: "li@example.com", PropertyID: "p1", FlatID: "f2"},
	}

	ids := func(ts []models.Tenant) []string {
		out := make([]string, 0, len(ts))
		for _, t := range ts {
			out = append(out, t.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter repository.TenantFilter
		want   []string
	}{
		{"no filter", repository.TenantFilter{}, []string{"t1", "t2", "t3"}},
		{"search by name", repository.TenantFilter{Search: "OMAR"}, []string{"t2"}},
		{"search by flat number", repository.TenantFilter{Search: "b-202"}, []string{"t2", "t3"}},
		{"search by property name", repository.TenantFilter{Search: "green"}, []string{"t1", "t3"}},
		{"property", repository.TenantFilter{PropertyID: "p1"}, []string{"t1", "t3"}},
		{"flat", repository.TenantFilter{FlatID: "f1"}, []string{"t1"}},
		{"paid", repository.TenantFilter{Status: repository.PaidOnly}, []string{"t1"}},
		{"unpaid in p1", repository.TenantFilter{Status: repository.UnpaidOnly, PropertyID: "p1"}, []string{"t3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(repository.FilterTenants(tenants, properties, flats, tt.filter)))
		})
	}
}
