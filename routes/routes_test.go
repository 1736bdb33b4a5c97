package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"Gin_postgres_redis_loan_manager/app"
	"Gin_postgres_redis_loan_manager/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func init() { gin.SetMode(gin.TestMode) }

type server struct {
	t     *testing.T
	a     *app.App
	clock time.Time
}

func newServer(t *testing.T) *server {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.Config{
		Port:                  "0",
		DBDriver:              "sqlite",
		DatabaseURL:           filepath.Join(t.TempDir(), "loans.db"),
		StatementTimeout:      5 * time.Second,
		SlowQuery:             time.Second,
		RedisAddr:             mr.Addr(),
		WebOrigin:             "http://localhost:3000",
		RPID:                  "localhost",
		RPOrigins:             []string{"http://localhost:3000"},
		JWTSecret:             "routes-test-secret-routes-test-secret",
		TokenTTL:              time.Hour,
		AdminEmails:           []string{"resp@school.test"},
		LateFeeDailyRate:      1000,
		MaxPerRequest:         10,
		ListMaxLimit:          100,
		NotificationRetention: 30 * 24 * time.Hour,
		AppName:               "Prêt Labo",
		BlobDriver:            "fs",
		BlobFSRoot:            t.TempDir(),
	}
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(a.Close)
	a.Auth.HashCost = bcrypt.MinCost

	s := &server{t: t, a: a, clock: time.Now().UTC().Truncate(time.Second)}
	a.SetClock(func() time.Time { return s.clock })
	RegisterRoutes(a.Router, a)
	return s
}

type call struct {
	method, path string
	token        string
	body         any
	header       map[string]string
}

func (s *server) do(c call) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd io.Reader
	switch b := c.body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.a.Router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expect(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d; body=%s", w.Code, status, w.Body.String())
	}
}

type sessionResp struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	User    struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
}

func (s *server) register(email, role, studentNumber string) sessionResp {
	s.t.Helper()
	body := map[string]any{
		"email": email, "password": "Secret123",
		"nom": "Test", "prenom": "User", "role": role,
	}
	if studentNumber != "" {
		body["numero_etudiant"] = studentNumber
	}
	w := s.do(call{method: http.MethodPost, path: "/auth/register", body: body})
	expect(s.t, w, http.StatusCreated)
	return decode[sessionResp](s.t, w)
}

type idResp struct {
	ID     string `json:"id"`
	Status string `json:"statut"`
}

// seed creates a manager, a student, a category and an item with total units.
func (s *server) seed(total int) (mgr, student sessionResp, itemID string) {
	s.t.Helper()
	mgr = s.register("resp@school.test", "instructor", "")
	if mgr.User.Role != "manager" {
		s.t.Fatalf("admin email not elevated: %s", mgr.User.Role)
	}
	student = s.register("alice@school.test", "student", "2100001")

	w := s.do(call{method: http.MethodPost, path: "/categories", token: mgr.Token, body: map[string]any{"nom": "Oscilloscopes"}})
	expect(s.t, w, http.StatusCreated)
	cat := decode[struct {
		ID uint `json:"id"`
	}](s.t, w)

	w = s.do(call{method: http.MethodPost, path: "/equipment", token: mgr.Token, body: map[string]any{
		"nom": "Oscilloscope Rigol DS1054Z", "categorie_id": cat.ID, "quantite_totale": total,
	}})
	expect(s.t, w, http.StatusCreated)
	return mgr, student, decode[idResp](s.t, w).ID
}

func (s *server) requestBody(itemID string, qty int) map[string]any {
	return map[string]any{
		"materiel_id":       itemID,
		"quantite_demandee": qty,
		"date_debut":        s.clock.Add(24 * time.Hour).Format(time.RFC3339),
		"date_fin":          s.clock.Add(8 * 24 * time.Hour).Format(time.RFC3339),
		"motif":             "TP d'électronique analogique",
		"projet":            "TP3",
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)
	w := s.do(call{method: http.MethodGet, path: "/healthz"})
	expect(t, w, http.StatusOK)

	w = s.do(call{method: http.MethodGet, path: "/metrics"})
	expect(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), "http_request_duration_seconds") {
		t.Fatalf("metrics output lacks the request histogram:\n%s", w.Body.String())
	}
}

func TestAuthenticationSources(t *testing.T) {
	s := newServer(t)
	alice := s.register("alice@school.test", "student", "2100001")

	expect(t, s.do(call{method: http.MethodGet, path: "/auth/me"}), http.StatusUnauthorized)
	expect(t, s.do(call{method: http.MethodGet, path: "/auth/me", header: map[string]string{"Authorization": "Basic abc"}}), http.StatusUnauthorized)
	expect(t, s.do(call{method: http.MethodGet, path: "/auth/me", token: "garbage"}), http.StatusUnauthorized)
	expect(t, s.do(call{method: http.MethodGet, path: "/auth/me", token: alice.Token}), http.StatusOK)

	// login 设置 cookie，cookie 单独也能认证
	w := s.do(call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"email": "alice@school.test", "password": "Secret123"}})
	expect(t, w, http.StatusOK)
	var cookie *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == app.AuthCookie {
			cookie = ck
		}
	}
	if cookie == nil || cookie.Value == "" || !cookie.HttpOnly {
		t.Fatalf("login cookie = %+v", cookie)
	}
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	s.a.Router.ServeHTTP(rec, req)
	expect(t, rec, http.StatusOK)
	me := decode[struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}](t, rec)
	if len(me.Sessions) != 2 {
		t.Fatalf("register + login should leave 2 sessions, got %d", len(me.Sessions))
	}

	// 错误密码
	w = s.do(call{method: http.MethodPost, path: "/auth/login", body: map[string]string{"email": "alice@school.test", "password": "nope"}})
	expect(t, w, http.StatusUnauthorized)
	if failed := decode[map[string]any](t, w); failed["success"] != false || failed["token"] != nil {
		t.Fatalf("failed login body = %v", failed)
	}

	// logout 后 token 失效
	expect(t, s.do(call{method: http.MethodPost, path: "/auth/logout", token: alice.Token}), http.StatusOK)
	expect(t, s.do(call{method: http.MethodGet, path: "/auth/me", token: alice.Token}), http.StatusUnauthorized)
}

func TestClientCannotClaimRole(t *testing.T) {
	s := newServer(t)
	alice := s.register("alice@school.test", "student", "2100001")
	w := s.do(call{method: http.MethodPost, path: "/categories", token: alice.Token,
		body: map[string]any{"nom": "Cartes"}, header: map[string]string{"X-User-Role": "manager"}})
	expect(t, w, http.StatusForbidden)
	if got := decode[map[string]any](t, w)["code"]; got != "forbidden" {
		t.Fatalf("code = %v", got)
	}
	expect(t, s.do(call{method: http.MethodGet, path: "/users", token: alice.Token}), http.StatusForbidden)

	// 自助注册不能直接成为 manager
	w = s.do(call{method: http.MethodPost, path: "/auth/register", body: map[string]any{
		"email": "mallory@school.test", "password": "Secret123", "nom": "Mal", "prenom": "Lory", "role": "manager",
	}})
	if w.Code == http.StatusCreated {
		t.Fatalf("self-registered manager: %s", w.Body.String())
	}
}

func TestValidationErrorShape(t *testing.T) {
	s := newServer(t)
	_, alice, itemID := s.seed(5)

	body := s.requestBody(itemID, 0)
	body["motif"] = "court"
	w := s.do(call{method: http.MethodPost, path: "/requests", token: alice.Token, body: body})
	expect(t, w, http.StatusBadRequest)
	got := decode[struct {
		Code   string `json:"code"`
		Errors []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"errors"`
	}](t, w)
	fields := map[string]bool{}
	for _, e := range got.Errors {
		fields[e.Field] = e.Message != ""
	}
	if !fields["quantite_demandee"] || !fields["motif"] {
		t.Fatalf("errors = %+v", got.Errors)
	}

	w = s.do(call{method: http.MethodPost, path: "/requests", token: alice.Token, body: "{not json"})
	expect(t, w, http.StatusBadRequest)

	w = s.do(call{method: http.MethodGet, path: "/requests?limit=abc", token: alice.Token})
	expect(t, w, http.StatusBadRequest)
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	s := newServer(t)
	mgr, alice, itemID := s.seed(5)

	w := s.do(call{method: http.MethodPost, path: "/requests", token: alice.Token, body: s.requestBody(itemID, 3)})
	expect(t, w, http.StatusCreated)
	req := decode[idResp](t, w)
	if req.Status != "pending" {
		t.Fatalf("new request is %s", req.Status)
	}

	// 学生不能审批
	expect(t, s.do(call{method: http.MethodPost, path: "/requests/" + req.ID + "/approve", token: alice.Token}), http.StatusForbidden)

	key := map[string]string{"Idempotency-Key": "approve-" + req.ID}
	w = s.do(call{method: http.MethodPost, path: "/requests/" + req.ID + "/approve", token: mgr.Token, header: key})
	expect(t, w, http.StatusCreated)
	loan := decode[idResp](t, w)
	if w.Header().Get("Idempotent-Replayed") != "" {
		t.Fatal("first approval marked as replayed")
	}

	w = s.do(call{method: http.MethodPost, path: "/requests/" + req.ID + "/approve", token: mgr.Token, header: key})
	expect(t, w, http.StatusCreated)
	if w.Header().Get("Idempotent-Replayed") != "true" || decode[idResp](t, w).ID != loan.ID {
		t.Fatalf("replay: header=%q body=%s", w.Header().Get("Idempotent-Replayed"), w.Body.String())
	}
	expect(t, s.do(call{method: http.MethodPost, path: "/requests/" + req.ID + "/approve", token: mgr.Token}), http.StatusConflict)

	w = s.do(call{method: http.MethodGet, path: "/equipment/" + itemID, token: alice.Token})
	expect(t, w, http.StatusOK)
	if got := decode[map[string]any](t, w)["quantite_disponible"]; got != float64(2) {
		t.Fatalf("available after approval = %v", got)
	}

	// 两天逾期后归还
	s.clock = s.clock.Add(8*24*time.Hour + 48*time.Hour)
	w = s.do(call{method: http.MethodPost, path: "/loans/" + loan.ID + "/return", token: mgr.Token, body: map[string]any{"etat_retour": "good"}})
	expect(t, w, http.StatusOK)
	ret := decode[struct {
		Status  string `json:"statut"`
		LateFee int64  `json:"frais_retard"`
	}](t, w)
	if ret.Status != "returned" || ret.LateFee != 2000 {
		t.Fatalf("return = %+v", ret)
	}
	w = s.do(call{method: http.MethodPost, path: "/loans/" + loan.ID + "/return", token: mgr.Token, body: map[string]any{"etat_retour": "good"}})
	expect(t, w, http.StatusOK)
	if w.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("second return not marked as replayed")
	}

	w = s.do(call{method: http.MethodGet, path: "/notifications?unread=true", token: alice.Token})
	expect(t, w, http.StatusOK)
	inbox := decode[struct {
		Unread int64 `json:"unread"`
	}](t, w)
	if inbox.Unread != 2 {
		t.Fatalf("alice unread = %d", inbox.Unread)
	}

	w = s.do(call{method: http.MethodGet, path: "/stats", token: mgr.Token})
	expect(t, w, http.StatusOK)
}

func TestStockConflictOverHTTP(t *testing.T) {
	s := newServer(t)
	mgr, alice, itemID := s.seed(3)
	bob := s.register("bob@school.test", "student", "2100002")

	ids := make([]string, 0, 2)
	for _, who := range []sessionResp{alice, bob} {
		w := s.do(call{method: http.MethodPost, path: "/requests", token: who.Token, body: s.requestBody(itemID, 2)})
		expect(t, w, http.StatusCreated)
		ids = append(ids, decode[idResp](t, w).ID)
	}
	expect(t, s.do(call{method: http.MethodPost, path: "/requests/" + ids[0] + "/approve", token: mgr.Token}), http.StatusCreated)
	w := s.do(call{method: http.MethodPost, path: "/requests/" + ids[1] + "/approve", token: mgr.Token})
	expect(t, w, http.StatusConflict)
	if got := decode[map[string]any](t, w)["code"]; got != "insufficient_stock" {
		t.Fatalf("code = %v", got)
	}

	// bob 看不到 alice 的申请
	expect(t, s.do(call{method: http.MethodGet, path: "/requests/" + ids[0], token: bob.Token}), http.StatusNotFound)
	w = s.do(call{method: http.MethodGet, path: "/requests", token: bob.Token})
	expect(t, w, http.StatusOK)
	if n := decode[struct {
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}](t, w).Pagination.Total; n != 1 {
		t.Fatalf("bob sees %d requests", n)
	}
}

func TestNotificationsAreScoped(t *testing.T) {
	s := newServer(t)
	mgr, alice, itemID := s.seed(2)
	bob := s.register("bob@school.test", "student", "2100002")

	w := s.do(call{method: http.MethodPost, path: "/requests", token: alice.Token, body: s.requestBody(itemID, 1)})
	expect(t, w, http.StatusCreated)
	req := decode[idResp](t, w)
	expect(t, s.do(call{method: http.MethodPost, path: "/requests/" + req.ID + "/refuse", token: mgr.Token, body: map[string]string{"motif": "Matériel réservé"}}), http.StatusOK)

	w = s.do(call{method: http.MethodGet, path: "/notifications", token: alice.Token})
	expect(t, w, http.StatusOK)
	page := decode[struct {
		Data []struct {
			ID uint `json:"id"`
		} `json:"data"`
	}](t, w)
	if len(page.Data) == 0 {
		t.Fatal("alice has no notification")
	}
	path := "/notifications/" + jsonNumber(page.Data[0].ID) + "/read"

	expect(t, s.do(call{method: http.MethodPut, path: path, token: bob.Token}), http.StatusNotFound)
	expect(t, s.do(call{method: http.MethodPut, path: path, token: alice.Token}), http.StatusOK)
	expect(t, s.do(call{method: http.MethodPut, path: "/notifications/abc/read", token: alice.Token}), http.StatusNotFound)

	w = s.do(call{method: http.MethodPut, path: "/notifications/read-all", token: alice.Token})
	expect(t, w, http.StatusOK)
}

func jsonNumber(n uint) string {
	b, _ := json.Marshal(n)
	return string(b)
}
