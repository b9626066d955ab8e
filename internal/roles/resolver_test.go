package roles

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/hongminglow/flatkeeper/internal/docstore"
	"github.com/hongminglow/flatkeeper/internal/docstore/memory"
	"github.com/hongminglow/flatkeeper/internal/docstore/mocks"
	"github.com/hongminglow/flatkeeper/internal/errs"
	"github.com/hongminglow/flatkeeper/internal/metrics"
	"github.com/hongminglow/flatkeeper/internal/models"
)

const ns = docstore.Namespace("test-app")

type ResolverSuite struct {
	suite.Suite
	ctx      context.Context
	store    *memory.Store
	resolver *Resolver
	super    models.Actor
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.resolver = NewResolver(Config{Store: s.store, Namespace: ns, Metrics: metrics.New()})
	s.super = models.Actor{ID: "root", Role: models.RoleSuperAdmin}
}

func (s *ResolverSuite) TearDownTest() {
	_ = s.store.Close()
}

func (s *ResolverSuite) TestFirstResolutionCreatesUserProfile() {
	role, err := s.resolver.Resolve(s.ctx, "id-1")
	s.Require().NoError(err)
	s.Equal(models.RoleUser, role)

	doc, err := s.store.Get(s.ctx, ns.UserProfile("id-1"))
	s.Require().NoError(err)
	s.Equal(docstore.Fields{"role": "User"}, doc.Data, "the identity lives in the path only")

	self, err := s.store.Get(s.ctx, ns.SelfProfile("id-1"))
	s.Require().NoError(err)
	s.Equal("User", self.Data["role"])
}

func (s *ResolverSuite) TestResolveNeverClobbersExistingRole() {
	s.Require().NoError(s.resolver.Bootstrap(s.ctx, "id-1", models.RoleAdmin))
	doc, err := s.store.Get(s.ctx, ns.UserProfile("id-1"))
	s.Require().NoError(err)
	s.Equal(docstore.Fields{"role": "Admin"}, doc.Data)

	role, err := s.resolver.Resolve(s.ctx, "id-1")
	s.Require().NoError(err)
	s.Equal(models.RoleAdmin, role)
}

func (s *ResolverSuite) TestConcurrentFirstResolutionYieldsOneProfile() {
	const n = 16
	var wg sync.WaitGroup
	results := make([]models.Role, n)
	failures := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], failures[i] = s.resolver.Resolve(s.ctx, "brand-new")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		s.NoError(failures[i])
		s.Equal(models.RoleUser, results[i])
	}
	docs, err := s.store.List(s.ctx, ns.UserProfiles())
	s.Require().NoError(err)
	s.Len(docs, 1)
}

func (s *ResolverSuite) TestOnlySuperAdminSetsRoles() {
	admin := models.Actor{ID: "admin", Role: models.RoleAdmin}
	err := s.resolver.SetRole(s.ctx, admin, "id-2", models.RoleAdmin)
	s.ErrorIs(err, errs.Unauthorized)

	_, err = s.store.Get(s.ctx, ns.UserProfile("id-2"))
	s.ErrorIs(err, docstore.ErrNotFound)

	s.Require().NoError(s.resolver.SetRole(s.ctx, s.super, "id-2", models.RoleAdmin))
	role, err := s.resolver.Resolve(s.ctx, "id-2")
	s.Require().NoError(err)
	s.Equal(models.RoleAdmin, role)
}

func (s *ResolverSuite) TestSetRoleRejectsUnknownRole() {
	err := s.resolver.SetRole(s.ctx, s.super, "id-2", models.Role("Owner"))
	s.ErrorIs(err, errs.ValidationFailed)

	err = s.resolver.SetRole(s.ctx, s.super, "", models.RoleUser)
	s.ErrorIs(err, errs.ValidationFailed)
}

func (s *ResolverSuite) TestSetRoleMergesProfile() {
	path := ns.UserProfile("id-3")
	s.Require().NoError(s.store.Set(s.ctx, path, docstore.Fields{"role": "User", "displayName": "Jane"}))

	s.Require().NoError(s.resolver.SetRole(s.ctx, s.super, "id-3", models.RoleSuperAdmin))
	doc, err := s.store.Get(s.ctx, path)
	s.Require().NoError(err)
	s.Equal("Jane", doc.Data["displayName"])
	s.Equal("Super Admin", doc.Data["role"])
}

func (s *ResolverSuite) TestWatchTreatsAbsenceAsUser() {
	w, err := s.resolver.Watch(s.ctx, "id-4")
	s.Require().NoError(err)
	defer w.Unsubscribe()

	s.Equal(models.RoleUser, s.nextRole(w))

	s.Require().NoError(s.resolver.SetRole(s.ctx, s.super, "id-4", models.RoleAdmin))
	s.Eventually(func() bool {
		select {
		case role := <-w.Updates():
			return role == models.RoleAdmin
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *ResolverSuite) nextRole(w *RoleWatch) models.Role {
	select {
	case role, ok := <-w.Updates():
		s.Require().True(ok)
		return role
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for role")
	}
	return ""
}

func (s *ResolverSuite) TestDirectoryIsSuperAdminOnly() {
	_, err := s.resolver.Profiles(s.ctx, models.Actor{ID: "admin", Role: models.RoleAdmin})
	s.ErrorIs(err, errs.Unauthorized)
	_, err = s.resolver.Directory(s.ctx, models.Actor{ID: "u", Role: models.RoleUser})
	s.ErrorIs(err, errs.Unauthorized)

	_, err = s.resolver.Resolve(s.ctx, "b")
	s.Require().NoError(err)
	s.Require().NoError(s.resolver.Bootstrap(s.ctx, "a", models.RoleSuperAdmin))

	profiles, err := s.resolver.Profiles(s.ctx, s.super)
	s.Require().NoError(err)
	s.Equal([]models.IdentityProfile{
		{IdentityID: "a", Role: models.RoleSuperAdmin},
		{IdentityID: "b", Role: models.RoleUser},
	}, profiles)

	dir, err := s.resolver.Directory(s.ctx, s.super)
	s.Require().NoError(err)
	defer dir.Unsubscribe()
	select {
	case got := <-dir.Updates():
		s.Len(got, 2)
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for directory")
	}
}

func (s *ResolverSuite) TestStoreFailuresSurface() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Get(gomock.Any(), ns.UserProfile("id-5")).Return(docstore.Document{}, docstore.ErrUnavailable)

	_, err := NewResolver(Config{Store: store, Namespace: ns}).Resolve(s.ctx, "id-5")
	s.ErrorIs(err, errs.StoreUnavailable)

	_, err = NewResolver(Config{}).Resolve(s.ctx, "id-5")
	s.ErrorIs(err, errs.StoreUnavailable)
}

func (s *ResolverSuite) TestLosingCreateRaceRereads() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockStore(ctrl)
	path := ns.UserProfile("id-6")
	gomock.InOrder(
		store.EXPECT().Get(gomock.Any(), path).Return(docstore.Document{}, docstore.ErrNotFound),
		store.EXPECT().Create(gomock.Any(), path, gomock.Any()).Return(docstore.ErrAlreadyExists),
		store.EXPECT().Get(gomock.Any(), path).Return(docstore.Document{
			ID: "id-6", Path: path, Data: docstore.Fields{"role": "Admin"},
		}, nil),
	)

	role, err := NewResolver(Config{Store: store, Namespace: ns}).Resolve(s.ctx, "id-6")
	s.Require().NoError(err)
	s.Equal(models.RoleAdmin, role)
}
