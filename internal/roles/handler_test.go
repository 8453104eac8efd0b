package roles

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatdesk/chatdesk/internal/rbac"
	"github.com/chatdesk/chatdesk/internal/shared"
)

func newTestRouter(svc *Service, p *shared.Principal) http.Handler {
	h := NewHandler(nil, svc, rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if p != nil {
				req = req.WithContext(shared.ContextWithPrincipal(req.Context(), p))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/roles", h.MountRoutes)
	return r
}

type detailBody struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Permissions []struct {
		Name string `json:"name"`
	} `json:"permissions"`
}

func (d detailBody) names() []string {
	out := make([]string, 0, len(d.Permissions))
	for _, p := range d.Permissions {
		out = append(out, p.Name)
	}
	return out
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHandlerCreateGetAndReplace(t *testing.T) {
	svc, _, _ := newSeededService(t)
	router := newTestRouter(svc, shared.NewPrincipal(1, "root@example.com", shared.RoleAdmin, nil, nil))

	rec := serve(router, http.MethodPost, "/roles/", `{"name":"Editor","permission_ids":[1,3]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created detailBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "editor", created.Name)
	assert.Equal(t, []string{"templates.create", "templates.view"}, created.names())

	path := "/roles/" + strconv.FormatInt(created.ID, 10)
	rec = serve(router, http.MethodPut, path, `{"name":"editor","permission_ids":[]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var emptied detailBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &emptied))
	assert.Empty(t, emptied.Permissions)

	rec = serve(router, http.MethodPut, path, `{"name":"editor","permission_ids":[2,4]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched detailBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, []string{"templates.delete", "users.view"}, fetched.names())

	rec = serve(router, http.MethodPost, "/roles/", `{"name":"editor"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerBuiltInRolesAreForbidden(t *testing.T) {
	svc, _, builtIn := newSeededService(t)
	router := newTestRouter(svc, shared.NewPrincipal(1, "root@example.com", shared.RoleAdmin, nil, nil))

	adminPath := "/roles/" + strconv.FormatInt(builtIn[shared.RoleAdmin].ID, 10)
	rec := serve(router, http.MethodDelete, adminPath, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = serve(router, http.MethodPut, adminPath, `{"name":"superuser"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(router, http.MethodGet, adminPath, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodGet, "/roles/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerIncrementalPermissions(t *testing.T) {
	svc, _, _ := newSeededService(t)
	router := newTestRouter(svc, shared.NewPrincipal(1, "root@example.com", shared.RoleAdmin, nil, nil))

	rec := serve(router, http.MethodPost, "/roles/", `{"name":"support"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created detailBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	base := "/roles/" + strconv.FormatInt(created.ID, 10)

	for i := 0; i < 2; i++ {
		rec = serve(router, http.MethodPost, base+"/permissions", `{"permission_ids":[3]}`)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	}
	rec = serve(router, http.MethodPost, base+"/permissions", `{"permission_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodDelete, base+"/permissions/3", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = serve(router, http.MethodDelete, base+"/permissions/3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandlerGuardsByPermission(t *testing.T) {
	svc, repo, builtIn := newSeededService(t)
	repo.members[builtIn[shared.RoleUser].ID] = []Member{
		{ID: 8, Email: "zoe@example.com", FullName: "Zoe"},
		{ID: 9, Email: "amy@example.com", FullName: "Amy"},
	}
	viewer := shared.NewPrincipal(5, "v@example.com", shared.RoleUser, []string{"auditor"}, []string{shared.PermRolesView})
	router := newTestRouter(svc, viewer)

	rec := serve(router, http.MethodGet, "/roles/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Roles []Summary `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Roles, 3)

	rec = serve(router, http.MethodGet, "/roles/"+strconv.FormatInt(builtIn[shared.RoleUser].ID, 10)+"/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var members struct {
		Users []Member `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &members))
	require.Len(t, members.Users, 2)
	assert.Equal(t, "Amy", members.Users[0].FullName)

	rec = serve(router, http.MethodPost, "/roles/", `{"name":"support"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	anonymous := newTestRouter(svc, nil)
	rec = serve(anonymous, http.MethodGet, "/roles/", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
