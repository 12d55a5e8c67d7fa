package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"MissionCore/internal/catalog"
	"MissionCore/internal/storage/sqlite"
)

const introYAML = `
tables:
  - name: intro
    rows:
      - name: start
        tag: Mission.Intro.Start
        branches:
          - target: next
      - name: next
        tag: Mission.Intro.Next
        start_state: locked
`

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type testApp struct {
	app  *App
	dir  string
	yaml string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	dir := t.TempDir()
	path := writeFile(t, dir, "missions.yaml", introYAML)
	cfg := DefaultConfig()
	cfg.TableFiles = []string{path}
	cfg.SQLitePath = filepath.Join(dir, "missions.db")
	cfg.FlushInterval = 10 * time.Millisecond
	a, err := NewApp(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return &testApp{app: a, dir: dir, yaml: path}
}

func getJSON(t *testing.T, srv *httptest.Server, path string, wantStatus int, into interface{}) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: expected status %d, got %d", path, wantStatus, resp.StatusCode)
	}
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("GET %s: decode: %v", path, err)
		}
	}
}

func TestNewAppLoadsStoredTables(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "missions.db")
	store, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	side := catalog.NewMemTable("side", []catalog.Row{{Name: "errand", Tag: "Mission.Side.Errand"}})
	if err := store.ImportTable(context.Background(), side); err != nil {
		t.Fatalf("import: %v", err)
	}
	_ = store.Close()

	cfg := DefaultConfig()
	cfg.TableFiles = []string{writeFile(t, dir, "missions.yaml", introYAML)}
	cfg.SQLitePath = dbPath
	a, err := NewApp(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close(context.Background())

	reg := a.Catalog.Registry()
	if reg.Len() != 3 {
		t.Fatalf("expected 3 missions from file and database, got %d", reg.Len())
	}
	if id, ok := reg.ResolveID("Mission.Side.Errand"); !ok || id != 3 {
		t.Fatalf("expected stored table after file tables, got id %d", id)
	}
}

func TestNewAppMissingTableFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TableFiles = []string{filepath.Join(t.TempDir(), "nope.yaml")}
	if _, err := NewApp(context.Background(), cfg, quietLogger()); err == nil {
		t.Fatal("expected missing table file to fail")
	}
}

func TestHTTPMissionRoutes(t *testing.T) {
	ta := newTestApp(t)
	srv := httptest.NewServer(ta.app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", resp.StatusCode)
	}

	var missions []missionDTO
	getJSON(t, srv, "/api/missions", http.StatusOK, &missions)
	if len(missions) != 2 || missions[0].Tag != "Mission.Intro.Start" {
		t.Fatalf("unexpected missions %+v", missions)
	}
	if len(missions[0].Branches) != 1 || missions[0].Branches[0].TargetTag != "Mission.Intro.Next" {
		t.Fatalf("expected resolved branch target, got %+v", missions[0].Branches)
	}

	var one missionDTO
	getJSON(t, srv, "/api/missions/next", http.StatusOK, &one)
	if one.Tag != "Mission.Intro.Next" || one.StartState != "locked" {
		t.Fatalf("unexpected mission %+v", one)
	}
	getJSON(t, srv, "/api/missions/Mission.Unknown", http.StatusNotFound, nil)

	var issues []issueDTO
	getJSON(t, srv, "/api/validate", http.StatusOK, &issues)
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestHTTPReload(t *testing.T) {
	ta := newTestApp(t)
	srv := httptest.NewServer(ta.app.Handler())
	defer srv.Close()

	post := func() reloadDTO {
		t.Helper()
		resp, err := http.Post(srv.URL+"/api/reload", "application/json", nil)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		defer resp.Body.Close()
		var out reloadDTO
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode reload: %v", err)
		}
		return out
	}

	if out := post(); out.Reloaded {
		t.Fatal("expected no reload without changes")
	}
	writeFile(t, ta.dir, "missions.yaml", introYAML+`      - name: epilogue
        tag: Mission.Intro.Epilogue
`)
	out := post()
	if !out.Reloaded || out.Missions != 3 {
		t.Fatalf("expected reload with 3 missions, got %+v", out)
	}
}

func TestHTTPRoomsAndPlayerMissions(t *testing.T) {
	ta := newTestApp(t)
	srv := httptest.NewServer(ta.app.Handler())
	defer srv.Close()

	room := ta.app.Hub.GetRoom("r1")
	p, err := room.Join(context.Background(), "Tester", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	var rooms []roomDTO
	getJSON(t, srv, "/api/rooms", http.StatusOK, &rooms)
	if len(rooms) != 1 || rooms[0].ID != "r1" || rooms[0].Players != 1 {
		t.Fatalf("unexpected rooms %+v", rooms)
	}

	var records []recordDTO
	getJSON(t, srv, "/api/rooms/r1/players/"+p.ID+"/missions", http.StatusOK, &records)
	if len(records) != 2 || records[0].Tag != "Mission.Intro.Start" || records[0].State != "inactive" {
		t.Fatalf("unexpected records %+v", records)
	}
	getJSON(t, srv, "/api/rooms/r1/players/nobody/missions", http.StatusNotFound, nil)
	getJSON(t, srv, "/api/rooms/r9/players/"+p.ID+"/missions", http.StatusNotFound, nil)
}
