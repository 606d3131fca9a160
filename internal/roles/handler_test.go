package roles

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/keystone-pm/keystone/internal/authz"
)

// The guard resolves permissions from principal kind fallbacks alone: no
// grants are stored, so an admin actor rides the bypass and everyone else
// gets their kind's default matrix.
type guardStore struct{}

func (guardStore) ActiveRoleGrants(context.Context, authz.Principal) ([]authz.RoleGrant, error) {
	return nil, nil
}

func (guardStore) OverridePermissions(context.Context, authz.CanonicalRole) ([]authz.Permission, error) {
	return nil, nil
}

type emptyRels struct{}

func (emptyRels) ActiveLandlordsForPMC(context.Context, string) ([]string, error) { return nil, nil }
func (emptyRels) PortfoliosForLandlord(context.Context, string) ([]string, error) { return nil, nil }
func (emptyRels) PropertiesForLandlord(context.Context, string) ([]string, error) { return nil, nil }
func (emptyRels) UnitsForProperty(context.Context, string) ([]string, error)      { return nil, nil }
func (emptyRels) AssignedScopes(context.Context, authz.Principal) ([]authz.Scope, error) {
	return nil, nil
}
func (emptyRels) UnitProperty(context.Context, string) (string, error) { return "", nil }
func (emptyRels) PropertyOwner(context.Context, string) (string, string, error) {
	return "", "", nil
}
func (emptyRels) PortfolioOwner(context.Context, string) (string, error) { return "", nil }

type noDirectory struct{}

func (noDirectory) PrincipalsForRole(context.Context, authz.CanonicalRole) ([]authz.Principal, error) {
	return nil, nil
}

func newTestGuard() authz.Middleware {
	logger := slog.Default()
	resolver := authz.NewResolver(authz.NewRegistry(), guardStore{}, authz.NewScopeResolver(emptyRels{}), logger)
	cache := authz.NewDecisionCache(authz.NewMemoryBackend(), time.Minute)
	svc := authz.NewService(resolver, cache, noDirectory{}, logger, nil)
	return authz.Middleware{Service: svc, Logger: logger}
}

func newRolesRouter(repo *stubRepo) http.Handler {
	guard := newTestGuard()
	svc := NewService(repo, authz.NewRegistry(), &stubInvalidator{}, &stubEmitter{}, slog.Default())
	r := chi.NewRouter()
	r.Use(guard.Actor)
	r.Route("/roles", NewHandler(slog.Default(), svc, guard).MountRoutes)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

var adminHeaders = map[string]string{"X-Actor-Id": "root-1", "X-Actor-Role": "SUPER_ADMIN"}

func TestListRolesRequiresReadPermission(t *testing.T) {
	router := newRolesRouter(newStubRepo(testRole("TENANT", true)))

	rec := doJSON(t, router, http.MethodGet, "/roles/", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/roles/", "",
		map[string]string{"X-Actor-Id": "t-1", "X-Actor-Role": "TENANT"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/roles/", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Roles []Role `json:"roles"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out.Roles, 1)
}

func TestListRolesActiveFilter(t *testing.T) {
	active := testRole("TENANT", true)
	inactive := testRole("VENDOR_SERVICE_PROVIDER", false)
	router := newRolesRouter(newStubRepo(active, inactive))

	rec := doJSON(t, router, http.MethodGet, "/roles/?active=true", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Roles []Role `json:"roles"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	require.Len(t, out.Roles, 1)
	require.Equal(t, "TENANT", out.Roles[0].Name)

	rec = doJSON(t, router, http.MethodGet, "/roles/?active=maybe", "", adminHeaders)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRoleNotFound(t *testing.T) {
	router := newRolesRouter(newStubRepo())
	rec := doJSON(t, router, http.MethodGet, "/roles/6f1f9f2e-1111-4222-8333-444455556666", "", adminHeaders)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRoleRejectsMalformedID(t *testing.T) {
	router := newRolesRouter(newStubRepo())
	rec := doJSON(t, router, http.MethodGet, "/roles/not-a-uuid", "", adminHeaders)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateRoleValidatesBody(t *testing.T) {
	role := testRole("LEASING_AGENT", true)
	router := newRolesRouter(newStubRepo(role))

	rec := doJSON(t, router, http.MethodPut, "/roles/"+role.ID.String(), `{"description":"x"}`, adminHeaders)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPut, "/roles/"+role.ID.String(),
		`{"displayName":"Agent","isActive":false}`, adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated Role
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	require.Equal(t, "Agent", updated.DisplayName)
	require.False(t, updated.IsActive)
}

func TestDeleteRoleConflictMapsToBadRequest(t *testing.T) {
	role := testRole("LEASING_AGENT", true)
	repo := newStubRepo(role)
	repo.activeCount = 2
	router := newRolesRouter(repo)

	rec := doJSON(t, router, http.MethodDelete, "/roles/"+role.ID.String(), "", adminHeaders)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "active assignments")

	repo.activeCount = 0
	rec = doJSON(t, router, http.MethodDelete, "/roles/"+role.ID.String(), "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"deleted":true`)
}

func TestReplacePermissionsRoundTrip(t *testing.T) {
	role := testRole("LEASING_AGENT", true)
	router := newRolesRouter(newStubRepo(role))

	rec := doJSON(t, router, http.MethodPut, "/roles/"+role.ID.String()+"/permissions",
		`{"permissions":[{"category":"MAINTENANCE","resource":"request","action":"READ"}]}`, adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	var set PermissionSet
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&set))
	require.Equal(t, SourceOverrides, set.Source)
	require.Len(t, set.Permissions, 1)

	rec = doJSON(t, router, http.MethodPut, "/roles/"+role.ID.String()+"/permissions",
		`{"category":"MAINTENANCE"}`, adminHeaders)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignmentLifecycleOverHTTP(t *testing.T) {
	role := testRole("TENANT", true)
	router := newRolesRouter(newStubRepo(role))

	rec := doJSON(t, router, http.MethodPost, "/roles/"+role.ID.String()+"/assignments",
		`{"principalId":"t-1","principalKind":"tenant","scope":{"type":"unit","id":"unit-12"}}`, adminHeaders)
	require.Equal(t, http.StatusCreated, rec.Code)

	var assignment Assignment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&assignment))
	require.Equal(t, "t-1", assignment.Principal.ID)
	require.NotNil(t, assignment.Scope)

	rec = doJSON(t, router, http.MethodGet, "/roles/"+role.ID.String()+"/assignments", "", adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"t-1"`)

	rec = doJSON(t, router, http.MethodDelete,
		"/roles/"+role.ID.String()+"/assignments/"+assignment.ID.String(), "", adminHeaders)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAssignRejectsKindMismatch(t *testing.T) {
	role := testRole("TENANT", true)
	router := newRolesRouter(newStubRepo(role))

	rec := doJSON(t, router, http.MethodPost, "/roles/"+role.ID.String()+"/assignments",
		`{"principalId":"x-1","principalKind":"pmc"}`, adminHeaders)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
