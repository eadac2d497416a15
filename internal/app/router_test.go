package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"geosewa_exam/internal/config"
	"geosewa_exam/internal/repository"
	"geosewa_exam/internal/util"

	"github.com/gin-gonic/gin"
)

type backend struct {
	*httptest.Server
	failSaves   atomic.Bool
	saves       atomic.Int32
	submissions atomic.Int32
}

func questionsJSON(n int) string {
	qs := make([]string, n)
	for i := range qs {
		id := i + 1
		qs[i] = fmt.Sprintf(`{"id":%d,"question_text":"q%d","choices":[{"id":%d,"choice_text":"a"},{"id":%d,"choice_text":"b"}]}`,
			id, id, id*10+1, id*10+2)
	}
	return "[" + strings.Join(qs, ",") + "]"
}

func fakeBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/user/login/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access":  "access-token",
			"refresh": "refresh-token",
			"user":    map[string]string{"username": "sita"},
		})
	})
	mux.HandleFunc("/api/exams/sets/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/exams/sets/":
			w.Write([]byte(`[{"id":1,"title":"Mock 1","duration_minutes":60}]`))
		case "/api/exams/sets/1/start/":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"attempt_id":"att-7"}`))
		case "/api/exams/sets/2/start/":
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(`{"detail":"Payment required"}`))
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/api/exams/attempt/att-7/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"questions":` + questionsJSON(12) + `,"duration_minutes":60,"saved_answers":[]}`))
	})
	mux.HandleFunc("/api/exams/attempt/att-7/save-answer/", func(w http.ResponseWriter, r *http.Request) {
		b.saves.Add(1)
		if b.failSaves.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/api/exams/attempt/att-7/submit/", func(w http.ResponseWriter, r *http.Request) {
		b.submissions.Add(1)
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/api/exams/exam-result/allusers/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":"not allowed"}`))
	})
	mux.HandleFunc("/api/exams/exam-results/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path == "/api/exams/exam-results/att-7/" {
			w.Write([]byte(`{"id":"r7","score":1,"total_points":12,"score_percentage":8.33,
				"detailed_results":[{"question_id":1,"selected_choices":[11],"correct_choices":[11],"is_correct":true},
				{"question_id":2,"selected_choices":[],"correct_choices":[21],"is_correct":false}]}`))
			return
		}
		w.Write([]byte(`[]`))
	})
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func newTestApp(t *testing.T, backendURL string) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		API:  config.APIConfig{BaseURL: backendURL + "/api/", Timeout: 5 * time.Second},
		Exam: config.ExamConfig{PageSize: 10, ChunkSize: 20, BatchMode: "bulk", NegativeMark: 0.1, TickInterval: time.Hour},
	}
	app := &App{Config: cfg, ctx: testContext(t)}

	store := repository.NewMemoryStore(time.Hour)
	repos := &repositories{
		cacheStore:   store,
		cacheBackend: "memory",
		answers:      repository.NewAnswerCacheRepository(store),
		tokens:       repository.NewMemoryTokenStore(),
	}
	s, err := app.initServices(repos, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.exam.Shutdown)
	app.services = s

	router := gin.New()
	app.Router = router
	app.registerRoutes(router, app.initControllers(s, repos), s)
	return app
}

func serve(app *App, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, req)
	return w
}

func call(t *testing.T, app *App, method, path, body string) (int, util.Response) {
	t.Helper()
	w := serve(app, method, path, body)

	var resp util.Response
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: bad body %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, resp
}

func TestRoutes_SessionLifecycle(t *testing.T) {
	app := newTestApp(t, fakeBackend(t).URL)

	if code, _ := call(t, app, http.MethodGet, "/api/health", ""); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}

	code, resp := call(t, app, http.MethodGet, "/api/exam-sets", "")
	if code != http.StatusOK {
		t.Fatalf("exam-sets = %d %+v", code, resp)
	}
	if sets, ok := resp.Data.([]interface{}); !ok || len(sets) != 1 {
		t.Fatalf("exam-sets data = %#v", resp.Data)
	}

	if code, _ := call(t, app, http.MethodGet, "/api/results", ""); code != http.StatusUnauthorized {
		t.Fatalf("results before login = %d, want 401", code)
	}
	if code, _ := call(t, app, http.MethodPost, "/api/exam-sets/1/start", ""); code != http.StatusUnauthorized {
		t.Fatalf("start before login = %d, want 401", code)
	}

	code, resp = call(t, app, http.MethodPost, "/api/auth/login", `{"username":"sita","password":"pw"}`)
	if code != http.StatusOK {
		t.Fatalf("login = %d %+v", code, resp)
	}

	code, resp = call(t, app, http.MethodGet, "/api/results", "")
	if code != http.StatusOK {
		t.Fatalf("results = %d %+v", code, resp)
	}
	data, _ := resp.Data.(map[string]interface{})
	if data["superuser"] != false {
		t.Fatalf("history = %#v, want non-superuser view", data)
	}

	if code, _ := call(t, app, http.MethodPost, "/api/auth/logout", ""); code != http.StatusOK {
		t.Fatalf("logout = %d", code)
	}
	if code, _ := call(t, app, http.MethodGet, "/api/results", ""); code != http.StatusUnauthorized {
		t.Fatalf("results after logout = %d, want 401", code)
	}
}

func TestRoutes_BadRequests(t *testing.T) {
	app := newTestApp(t, fakeBackend(t).URL)

	if code, _ := call(t, app, http.MethodGet, "/api/exam-sets/abc", ""); code != http.StatusBadRequest {
		t.Fatalf("non-numeric id = %d, want 400", code)
	}
	if code, _ := call(t, app, http.MethodPost, "/api/auth/login", `{"username":"sita"}`); code != http.StatusBadRequest {
		t.Fatalf("missing password = %d, want 400", code)
	}
}

// object returns the envelope payload as an object.
func object(t *testing.T, resp util.Response) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %#v, want object", resp.Data)
	}
	return m
}

func TestRoutes_AttemptFlow(t *testing.T) {
	api := fakeBackend(t)
	app := newTestApp(t, api.URL)
	const base = "/api/attempts/att-7"

	if code, resp := call(t, app, http.MethodPost, "/api/auth/login", `{"username":"sita","password":"pw"}`); code != http.StatusOK {
		t.Fatalf("login = %d %+v", code, resp)
	}

	code, resp := call(t, app, http.MethodPost, "/api/exam-sets/1/start", "")
	if code != http.StatusCreated {
		t.Fatalf("start = %d %+v", code, resp)
	}
	view := object(t, resp)
	if view["attempt_id"] != "att-7" || view["state"] != "active" || view["total_pages"] != float64(2) || view["timed"] != true {
		t.Fatalf("start view = %v", view)
	}

	code, resp = call(t, app, http.MethodPut, base+"/answers", `{"question_id":1,"choice_id":11}`)
	if code != http.StatusOK {
		t.Fatalf("select = %d %+v", code, resp)
	}
	if answers, _ := object(t, resp)["answers"].(map[string]interface{}); answers["1"] != float64(11) {
		t.Errorf("answers = %v", answers)
	}
	if code, _ := call(t, app, http.MethodPut, base+"/answers", `{"question_id":1,"choice_id":99}`); code != http.StatusBadRequest {
		t.Errorf("foreign choice = %d, want 400", code)
	}

	if code, _ := call(t, app, http.MethodPost, base+"/submit", ""); code != http.StatusConflict {
		t.Errorf("submit from page 1 = %d, want 409", code)
	}

	pages := []struct {
		body       string
		wantPage   float64
		wantScroll bool
	}{
		{`{"direction":"prev"}`, 1, false},
		{`{"page":99}`, 2, true},
		{`{"direction":"next"}`, 2, false},
	}
	for _, p := range pages {
		code, resp := call(t, app, http.MethodPost, base+"/page", p.body)
		if code != http.StatusOK {
			t.Fatalf("page %s = %d %+v", p.body, code, resp)
		}
		v := object(t, resp)
		if v["page"] != p.wantPage || v["scroll_to_top"] != p.wantScroll {
			t.Errorf("page %s = page %v scroll %v, want %v %v", p.body, v["page"], v["scroll_to_top"], p.wantPage, p.wantScroll)
		}
	}
	if code, _ := call(t, app, http.MethodPost, base+"/page", `{"direction":"sideways"}`); code != http.StatusBadRequest {
		t.Errorf("bad direction = %d, want 400", code)
	}

	api.failSaves.Store(true)
	if code, _ := call(t, app, http.MethodPost, base+"/submit", ""); code != http.StatusBadGateway {
		t.Fatalf("submit with failing saves = %d, want 502", code)
	}
	if api.submissions.Load() != 0 {
		t.Fatal("attempt submitted although no answer was saved")
	}
	if api.saves.Load() < 2 {
		t.Errorf("saves = %d, want the batch and the sequential fallback", api.saves.Load())
	}
	if _, resp := call(t, app, http.MethodGet, base, ""); object(t, resp)["state"] != "active" {
		t.Errorf("state after failed submit = %v", object(t, resp)["state"])
	}

	api.failSaves.Store(false)
	code, resp = call(t, app, http.MethodPost, base+"/submit", "")
	if code != http.StatusOK {
		t.Fatalf("submit = %d %+v", code, resp)
	}
	submitted := object(t, resp)
	if submitted["state"] != "completed" || submitted["stats"] == nil {
		t.Fatalf("submit = %v", submitted)
	}
	if api.submissions.Load() != 1 {
		t.Errorf("submissions = %d", api.submissions.Load())
	}

	code, resp = call(t, app, http.MethodGet, base+"/result", "")
	if code != http.StatusOK {
		t.Fatalf("result = %d %+v", code, resp)
	}
	stats, _ := object(t, resp)["stats"].(map[string]interface{})
	if stats["correct"] != float64(1) || stats["unanswered"] != float64(1) {
		t.Errorf("stats = %v", stats)
	}

	w := serve(app, http.MethodGet, base+"/report", "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != util.MimePDF {
		t.Fatalf("report = %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(w.Body.String(), "%PDF") {
		t.Error("report body is not a PDF")
	}

	if code, _ := call(t, app, http.MethodDelete, base, ""); code != http.StatusOK {
		t.Fatalf("abandon = %d", code)
	}
	if code, _ := call(t, app, http.MethodGet, base, ""); code != http.StatusNotFound {
		t.Errorf("attempt after abandon = %d, want 404", code)
	}
}

func TestRoutes_StartAttemptErrors(t *testing.T) {
	app := newTestApp(t, fakeBackend(t).URL)
	call(t, app, http.MethodPost, "/api/auth/login", `{"username":"sita","password":"pw"}`)

	if code, _ := call(t, app, http.MethodPost, "/api/exam-sets/2/start", ""); code != http.StatusPaymentRequired {
		t.Errorf("unpaid set = %d, want 402", code)
	}
	if code, _ := call(t, app, http.MethodGet, "/api/attempts/missing", ""); code != http.StatusNotFound {
		t.Errorf("unknown attempt = %d, want 404", code)
	}
}

func TestSections(t *testing.T) {
	got := Sections([]config.SectionConfig{{Name: "Section 2", StartQuestion: 61, EndQuestion: 80, PointsPerQuestion: 2}})
	if len(got) != 1 || got[0].StartQuestion != 61 || got[0].PointsPerQuestion != 2 {
		t.Fatalf("Sections = %+v", got)
	}
}
