package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"fleetgate/internal/auth"
	"fleetgate/internal/logging"
	"fleetgate/internal/model"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeStore struct {
	users   map[string]*model.User
	devices map[string]*model.Device
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]*model.User),
		devices: make(map[string]*model.Device),
	}
}

func (f *fakeStore) Init(ctx context.Context) error { return nil }

func (f *fakeStore) GetDeviceByCertificateThumbprint(ctx context.Context, thumbprint string) (*model.Device, error) {
	return f.devices[thumbprint], nil
}

func (f *fakeStore) SaveDevice(ctx context.Context, dev *model.Device) (*model.Device, error) {
	f.devices[dev.Thumbprint] = dev
	return dev, nil
}

func (f *fakeStore) AddDeviceStateLog(ctx context.Context, entry *model.DeviceStateLog) error {
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, username, passwordHash string) (*model.User, error) {
	return f.users[username+"/"+passwordHash], nil
}

func (f *fakeStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	var out []model.Device
	for _, d := range f.devices {
		out = append(out, *d)
	}
	return out, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *fakeStore, string) {
	t.Helper()
	st := newFakeStore()
	staticDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>console</html>"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := NewOperatorRouter(OperatorDeps{
		Socket:      http.NotFoundHandler(),
		Store:       st,
		TokenConfig: auth.TokenConfig{Secret: "test-secret", Expiry: time.Hour, Issuer: "test"},
		StaticDir:   staticDir,
		Log:         logging.New("server/test"),
	})
	return r, st, staticDir
}

func do(r *gin.Engine, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestLogin(t *testing.T) {
	r, st, _ := newTestRouter(t)
	st.users["admin/cafebabe"] = &model.User{ID: 1, Username: "admin", PasswordHash: "cafebabe", Enabled: true}
	st.users["locked/cafebabe"] = &model.User{ID: 2, Username: "locked", PasswordHash: "cafebabe", Enabled: false}

	w := do(r, http.MethodPost, "/v1/auth", `{"username":"admin","passwordHash":"cafebabe"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Success || resp.Token == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if w := do(r, http.MethodPost, "/v1/auth", `{"username":"admin","passwordHash":"wrong"}`, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong hash: status = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/auth", `{"username":"locked","passwordHash":"cafebabe"}`, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("disabled user: status = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/auth", "not json", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status = %d", w.Code)
	}
}

func loginToken(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := do(r, http.MethodPost, "/v1/auth", `{"username":"admin","passwordHash":"cafebabe"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: status = %d", w.Code)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp.Token
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r, st, _ := newTestRouter(t)
	st.users["admin/cafebabe"] = &model.User{ID: 1, Username: "admin", PasswordHash: "cafebabe", Enabled: true}

	if w := do(r, http.MethodGet, "/v1/devices", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", w.Code)
	}

	bogus := http.Header{"Authorization": {"Bearer not-a-token"}}
	if w := do(r, http.MethodGet, "/v1/devices", "", bogus); w.Code != http.StatusUnauthorized {
		t.Fatalf("bogus token: status = %d", w.Code)
	}

	header := http.Header{"Authorization": {"Bearer " + loginToken(t, r)}}
	if w := do(r, http.MethodGet, "/v1/devices", "", header); w.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestApprovalFlow(t *testing.T) {
	r, st, _ := newTestRouter(t)
	st.users["admin/cafebabe"] = &model.User{ID: 1, Username: "admin", PasswordHash: "cafebabe", Enabled: true}
	st.devices["aabbcc"] = &model.Device{ID: 9, Thumbprint: "aabbcc"}
	header := http.Header{"Authorization": {"Bearer " + loginToken(t, r)}}

	// Thumbprint arrives in display form and is normalized before lookup.
	w := do(r, http.MethodPost, "/v1/devices/approval",
		`{"thumbprint":"AA:BB:CC","approved":true,"enabled":true}`, header)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if !st.devices["aabbcc"].Approved || !st.devices["aabbcc"].Enabled {
		t.Fatalf("device not updated: %+v", st.devices["aabbcc"])
	}

	if w := do(r, http.MethodPost, "/v1/devices/approval",
		`{"thumbprint":"ffffff","approved":true,"enabled":true}`, header); w.Code != http.StatusNotFound {
		t.Fatalf("unknown device: status = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/devices/approval", `{"approved":true}`, header); w.Code != http.StatusBadRequest {
		t.Fatalf("missing thumbprint: status = %d", w.Code)
	}
}

func TestStaticHandler(t *testing.T) {
	r, _, staticDir := newTestRouter(t)
	if err := os.WriteFile(filepath.Join(staticDir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w := do(r, http.MethodGet, "/", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "console") {
		t.Fatalf("index: status = %d, body %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/app.js", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("asset: status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "javascript") {
		t.Fatalf("asset content type = %q", ct)
	}

	if w := do(r, http.MethodGet, "/../etc/passwd", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("traversal: status = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/missing.css", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing file: status = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/index.html", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("non-GET: status = %d", w.Code)
	}
}
