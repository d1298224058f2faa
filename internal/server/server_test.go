package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/aura-vibe/queue-sync/internal/ws"
	"github.com/aura-vibe/queue-sync/pkg/database"
	"github.com/aura-vibe/queue-sync/pkg/models"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newRouter(t *testing.T) (*App, http.Handler) {
	t.Helper()
	app := NewApp(database.NewMemoryStore(), nil, nil)
	return app, app.Router(nil, ws.Options{})
}

func do(t *testing.T, h http.Handler, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func expect(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status: got=%d want=%d body=%s", rec.Code, status, rec.Body.String())
	}
}

func createSession(t *testing.T, h http.Handler, host string) models.Session {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/sessions", "", map[string]string{"host_id": host})
	expect(t, rec, http.StatusCreated)
	var s models.Session
	decode(t, rec, &s)
	return s
}

func addSong(t *testing.T, h http.Handler, code, user, id string) models.QueueItem {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/sessions/"+code+"/queue", user, models.Song{ID: id, Name: "song " + id, ArtistName: "a"})
	expect(t, rec, http.StatusCreated)
	var item models.QueueItem
	decode(t, rec, &item)
	return item
}

func TestHealth(t *testing.T) {
	_, h := newRouter(t)
	rec := do(t, h, http.MethodGet, "/health", "", nil)
	expect(t, rec, http.StatusOK)
}

func TestSessionLifecycle(t *testing.T) {
	_, h := newRouter(t)

	s := createSession(t, h, "H1")
	if s.Code == "" || s.HostID != "H1" || !s.Active {
		t.Fatalf("created: %+v", s)
	}

	expect(t, do(t, h, http.MethodGet, "/api/v1/sessions/"+strings.ToLower(s.Code), "", nil), http.StatusOK)
	expect(t, do(t, h, http.MethodGet, "/api/v1/sessions/NOPE00", "", nil), http.StatusNotFound)

	expect(t, do(t, h, http.MethodPost, "/api/v1/sessions/"+s.Code+"/join", "", nil), http.StatusUnauthorized)
	rec := do(t, h, http.MethodPost, "/api/v1/sessions/"+s.Code+"/join", "U1", map[string]string{"username": "alice"})
	expect(t, rec, http.StatusOK)
	var join struct {
		UserID       string `json:"user_id"`
		Username     string `json:"username"`
		IsHost       bool   `json:"is_host"`
		Participants int    `json:"participants"`
	}
	decode(t, rec, &join)
	if join.UserID != "U1" || join.Username != "alice" || join.IsHost || join.Participants != 0 {
		t.Fatalf("join: %+v", join)
	}
	expect(t, do(t, h, http.MethodPost, "/api/v1/sessions/"+s.Code+"/join", "U1", nil), http.StatusOK)

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/"+s.Code, "", nil)
	expect(t, rec, http.StatusOK)
	var info struct {
		Code         string `json:"code"`
		Participants []struct {
			UserID   string `json:"user_id"`
			Username string `json:"username"`
			IsHost   bool   `json:"is_host"`
		} `json:"participants"`
	}
	decode(t, rec, &info)
	if info.Code != s.Code || len(info.Participants) != 2 {
		t.Fatalf("info: %+v", info)
	}
	if !info.Participants[0].IsHost || info.Participants[1].Username != "alice" {
		t.Fatalf("roster: %+v", info.Participants)
	}

	expect(t, do(t, h, http.MethodDelete, "/api/v1/sessions/"+s.Code, "", nil), http.StatusUnauthorized)
	expect(t, do(t, h, http.MethodDelete, "/api/v1/sessions/"+s.Code, "U1", nil), http.StatusForbidden)
	expect(t, do(t, h, http.MethodDelete, "/api/v1/sessions/"+s.Code, "H1", nil), http.StatusNoContent)
	expect(t, do(t, h, http.MethodGet, "/api/v1/sessions/"+s.Code, "", nil), http.StatusNotFound)
}

func TestJoinFullSession(t *testing.T) {
	app, h := newRouter(t)
	app.Sessions.SetMaxParticipants(2)

	s := createSession(t, h, "H1")
	expect(t, do(t, h, http.MethodPost, "/api/v1/sessions/"+s.Code+"/join", "U1", nil), http.StatusOK)
	expect(t, do(t, h, http.MethodPost, "/api/v1/sessions/"+s.Code+"/join", "U2", nil), http.StatusConflict)
	expect(t, do(t, h, http.MethodPost, "/api/v1/sessions/"+s.Code+"/join", "H1", nil), http.StatusOK)
}

func TestCreateSessionWithoutBody(t *testing.T) {
	_, h := newRouter(t)

	rec := do(t, h, http.MethodPost, "/api/v1/sessions", "", nil)
	expect(t, rec, http.StatusCreated)
	var s models.Session
	decode(t, rec, &s)
	if s.HostID == "" {
		t.Fatalf("no host id generated: %+v", s)
	}
}

func TestQueueAndVotes(t *testing.T) {
	_, h := newRouter(t)
	s := createSession(t, h, "H1")
	base := "/api/v1/sessions/" + s.Code + "/queue"

	x := addSong(t, h, s.Code, "U1", "x")
	y := addSong(t, h, s.Code, "U1", "y")

	expect(t, do(t, h, http.MethodPost, base, "U1", map[string]string{"name": "no id"}), http.StatusBadRequest)
	expect(t, do(t, h, http.MethodPost, base, "", models.Song{ID: "z", Name: "z"}), http.StatusUnauthorized)

	votePath := base + "/" + itoa(y.ID) + "/vote"
	rec := do(t, h, http.MethodPost, votePath, "U1", map[string]string{"vote": "up"})
	expect(t, rec, http.StatusOK)
	var res struct {
		Votes        int     `json:"votes"`
		UserVoteType *string `json:"user_vote_type"`
	}
	decode(t, rec, &res)
	if res.Votes != 1 || res.UserVoteType == nil || *res.UserVoteType != "up" {
		t.Fatalf("vote: %+v", res)
	}

	expect(t, do(t, h, http.MethodPost, votePath, "U1", map[string]string{"vote": "sideways"}), http.StatusBadRequest)
	expect(t, do(t, h, http.MethodPost, base+"/9999/vote", "U1", map[string]string{"vote": "up"}), http.StatusNotFound)

	rec = do(t, h, http.MethodGet, base, "U1", nil)
	expect(t, rec, http.StatusOK)
	var queue []models.QueueEntry
	decode(t, rec, &queue)
	if len(queue) != 2 || queue[0].ID != y.ID || queue[1].ID != x.ID {
		t.Fatalf("queue order: %+v", queue)
	}
	if queue[0].UserVoteType == nil || *queue[0].UserVoteType != models.VoteUp {
		t.Fatalf("annotation: %+v", queue[0])
	}

	// revoke
	rec = do(t, h, http.MethodPost, votePath, "U1", map[string]string{"vote": "up"})
	expect(t, rec, http.StatusOK)
	decode(t, rec, &res)
	if res.Votes != 0 || res.UserVoteType != nil {
		t.Fatalf("revoke: %+v", res)
	}
}

func TestHostOnlyRoutes(t *testing.T) {
	_, h := newRouter(t)
	s := createSession(t, h, "H1")
	base := "/api/v1/sessions/" + s.Code

	x := addSong(t, h, s.Code, "U1", "x")
	y := addSong(t, h, s.Code, "U1", "y")

	order := map[string][]int64{"order": {y.ID, x.ID}}
	expect(t, do(t, h, http.MethodPost, base+"/queue/reorder", "U1", order), http.StatusForbidden)
	expect(t, do(t, h, http.MethodPost, base+"/queue/reorder", "H1", map[string][]int64{"order": {y.ID, y.ID}}), http.StatusBadRequest)
	expect(t, do(t, h, http.MethodPost, base+"/queue/reorder", "H1", order), http.StatusOK)

	expect(t, do(t, h, http.MethodPost, base+"/next", "U1", nil), http.StatusForbidden)
	rec := do(t, h, http.MethodPost, base+"/next", "H1", nil)
	expect(t, rec, http.StatusOK)
	var next struct {
		Played models.QueueItem   `json:"played"`
		Queue  []models.QueueItem `json:"queue"`
	}
	decode(t, rec, &next)
	if next.Played.ID != x.ID || len(next.Queue) != 1 {
		t.Fatalf("next: %+v", next)
	}

	played := base + "/queue/" + itoa(y.ID) + "/played"
	expect(t, do(t, h, http.MethodPost, played, "U1", nil), http.StatusForbidden)
	expect(t, do(t, h, http.MethodPost, played, "H1", nil), http.StatusOK)
	expect(t, do(t, h, http.MethodPost, played, "H1", nil), http.StatusConflict)

	expect(t, do(t, h, http.MethodPost, base+"/next", "H1", nil), http.StatusNotFound)
	expect(t, do(t, h, http.MethodGet, base+"/playback", "", nil), http.StatusNotFound)
}

func TestRemoveSong(t *testing.T) {
	_, h := newRouter(t)
	s := createSession(t, h, "H1")
	x := addSong(t, h, s.Code, "U1", "x")
	path := "/api/v1/sessions/" + s.Code + "/queue/" + itoa(x.ID)

	expect(t, do(t, h, http.MethodDelete, path, "U2", nil), http.StatusForbidden)
	expect(t, do(t, h, http.MethodDelete, path, "U1", nil), http.StatusNoContent)
	expect(t, do(t, h, http.MethodDelete, path, "U1", nil), http.StatusNotFound)
	expect(t, do(t, h, http.MethodDelete, "/api/v1/sessions/"+s.Code+"/queue/abc", "U1", nil), http.StatusBadRequest)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func dial(t *testing.T, srv *httptest.Server, code, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/" + code + "?user_id=" + user
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func read(t *testing.T, c *websocket.Conn) map[string]interface{} {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("frame %s: %v", data, err)
	}
	return m
}

func readType(t *testing.T, c *websocket.Conn, want string) map[string]interface{} {
	t.Helper()
	m := read(t, c)
	if m["type"] != want {
		t.Fatalf("frame type: got=%v want=%s (%v)", m["type"], want, m)
	}
	return m
}

func TestWebSocketSession(t *testing.T) {
	_, h := newRouter(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	s := createSession(t, h, "H1")

	resp, err := http.Get(srv.URL + "/api/v1/ws/NOPE00")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status: %d", resp.StatusCode)
	}

	host := dial(t, srv, s.Code, "H1")
	if m := readType(t, host, "participant_count_updated"); m["count"] != float64(1) {
		t.Fatalf("host count: %v", m)
	}
	guest := dial(t, srv, s.Code, "U1")
	readType(t, host, "participant_count_updated")
	readType(t, guest, "participant_count_updated")

	// ping is answered to the sender only
	if err := guest.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readType(t, guest, "pong")

	// guests cannot control playback
	guest.WriteMessage(websocket.TextMessage, []byte(`{"type":"playback_control","action":"next"}`))
	if m := readType(t, guest, "error"); m["code"] != "forbidden" {
		t.Fatalf("error frame: %v", m)
	}

	// empty queue
	host.WriteMessage(websocket.TextMessage, []byte(`{"type":"playback_control","action":"next"}`))
	if m := readType(t, host, "info"); m["message"] != "end of queue" {
		t.Fatalf("info frame: %v", m)
	}

	sync := `{"type":"playback_sync","track":"t1","position":30,"playing":true}`
	host.WriteMessage(websocket.TextMessage, []byte(sync))
	guest.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := guest.ReadMessage()
	if err != nil || string(data) != sync {
		t.Fatalf("relayed sync: got=%s err=%v", data, err)
	}

	// free-form frames reach everyone, sender included
	guest.WriteMessage(websocket.TextMessage, []byte(`{"type":"reaction","emoji":"fire"}`))
	readType(t, host, "reaction")
	readType(t, guest, "reaction")
	guest.WriteMessage(websocket.TextMessage, []byte(`hello`))
	if m := readType(t, host, "text"); m["message"] != "hello" {
		t.Fatalf("text frame: %v", m)
	}
	readType(t, guest, "text")

	late := dial(t, srv, s.Code, "U2")
	readType(t, late, "participant_count_updated")
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err = late.ReadMessage()
	if err != nil || string(data) != sync {
		t.Fatalf("late joiner snapshot: got=%s err=%v", data, err)
	}

	addSong(t, h, s.Code, "U1", "x")
	readType(t, host, "participant_count_updated")
	readType(t, host, "queue_updated")

	expect(t, do(t, h, http.MethodDelete, "/api/v1/sessions/"+s.Code, "H1", nil), http.StatusNoContent)
	if m := readType(t, late, "queue_updated"); m["queue_item"] == nil {
		t.Fatalf("queue_updated without item: %v", m)
	}
	readType(t, late, "session_ended")
}

func TestCheckOriginList(t *testing.T) {
	app := NewApp(database.NewMemoryStore(), nil, nil)
	h := app.Router([]string{"http://allowed.example"}, ws.Options{})
	srv := httptest.NewServer(h)
	defer srv.Close()

	s := createSession(t, h, "H1")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/" + s.Code

	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatalf("foreign origin accepted")
	}

	header = http.Header{"Origin": []string{"http://allowed.example"}}
	c, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	c.Close()
}
