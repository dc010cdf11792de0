package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/snapdesk/internal/capture"
	"github.com/bryanchriswhite/snapdesk/internal/config"
	"github.com/bryanchriswhite/snapdesk/internal/display"
	"github.com/bryanchriswhite/snapdesk/internal/ipc"
	"github.com/bryanchriswhite/snapdesk/internal/session"
	"github.com/bryanchriswhite/snapdesk/internal/store"
	"github.com/bryanchriswhite/snapdesk/internal/window"
)

// blankBackend serves blank frames of the requested size for two screens
type blankBackend struct{}

func (blankBackend) Sources(ctx context.Context, kinds ...capture.Kind) ([]capture.Source, error) {
	return []capture.Source{
		{ID: "screen:0:0", Name: "Screen 1", Kind: capture.KindScreen},
		{ID: "screen:1:0", Name: "Screen 2", Kind: capture.KindScreen},
	}, nil
}

func (blankBackend) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	return capture.NewGrabStream(func() (*image.RGBA, error) {
		return image.NewRGBA(image.Rect(0, 0, c.Width, c.Height)), nil
	}), nil
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	fs     afero.Fs
	store  *store.Store
	orch   *session.Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	displays := display.NewStatic(0,
		display.Display{ID: 1, Bounds: display.Rect{Width: 320, Height: 200}, Size: display.Size{Width: 320, Height: 200}, Primary: true},
		display.Display{ID: 2, Bounds: display.Rect{X: 320, Width: 160, Height: 100}, Size: display.Size{Width: 160, Height: 100}},
	)
	backend := blankBackend{}
	capturer := capture.NewCapturer(displays, backend, backend, capture.Options{FPS: 50})

	fs := afero.NewMemMapFs()
	st := store.New(fs, "/previews", 90)
	orch := session.New(session.Deps{
		Displays: displays,
		Shooter:  capturer,
		Overlays: window.NewHeadlessOpener(fs),
		Host:     window.NewHeadlessHost(true),
		Store:    st,
	}, session.Config{GOOS: "linux"})

	cfgMgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	srv := NewServer(Deps{
		Capturer: capturer,
		Sources:  backend,
		Sessions: orch,
		Previews: st.PreviewHandler(),
		Config:   cfgMgr,
	})
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
	})

	return &testEnv{server: srv, http: ts, fs: fs, store: st, orch: orch}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestGetDisplays(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/api/displays", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var infos []struct {
		ID       display.ID   `json:"id"`
		Bounds   display.Rect `json:"bounds"`
		SourceID string       `json:"source_id"`
	}
	decodeJSON(t, resp, &infos)
	require.Len(t, infos, 2)
	assert.Equal(t, display.ID(2), infos[1].ID)
	assert.Equal(t, 320, infos[1].Bounds.X)
	assert.Equal(t, "screen:1:0", infos[1].SourceID)
}

func TestScreenshot(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/api/displays/primary/screenshot", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	cfg, err := png.DecodeConfig(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 200, cfg.Height)

	resp = env.do(t, "GET", "/api/displays/2/screenshot?x=10&y=5&width=40&height=30", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg, err = png.DecodeConfig(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestScreenshotErrors(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/displays/9/screenshot", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, "GET", "/api/displays/left/screenshot", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, "GET", "/api/displays/1/screenshot?width=wide", nil).StatusCode)
}

func TestScreenshotsAllDisplays(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/screenshots", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var images []struct {
		Data     []byte `json:"data"`
		Width    int    `json:"width"`
		MIMEType string `json:"mime_type"`
	}
	decodeJSON(t, resp, &images)
	require.Len(t, images, 2)
	assert.Equal(t, 320, images[0].Width)
	assert.Equal(t, 160, images[1].Width)
	assert.Equal(t, "image/png", images[1].MIMEType)

	cfg, err := png.DecodeConfig(bytes.NewReader(images[1].Data))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Height)
}

func TestScreenshotsRegions(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"regions":[{"display_id":2,"width":20,"height":10},{"display_id":1}]}`)
	resp := env.do(t, "POST", "/api/screenshots", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var images []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	decodeJSON(t, resp, &images)
	require.Len(t, images, 2)
	assert.Equal(t, 20, images[0].Width)
	assert.Equal(t, 320, images[1].Width)

	resp = env.do(t, "POST", "/api/screenshots", []byte(`{"regions":[{"display_id":1},{"display_id":7}]}`))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecordingLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "POST", "/api/recordings", []byte(`{"display_id":2}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var started struct {
		ID     string         `json:"id"`
		Region capture.Region `json:"region"`
		State  string         `json:"state"`
	}
	decodeJSON(t, resp, &started)
	require.NotEmpty(t, started.ID)
	assert.Equal(t, 160, started.Region.Width)
	assert.Equal(t, "recording", started.State)

	var state map[string]string
	resp = env.do(t, "POST", "/api/recordings/"+started.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &state)
	assert.Equal(t, "paused", state["state"])

	resp = env.do(t, "POST", "/api/recordings/"+started.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &state)
	assert.Equal(t, "recording", state["state"])

	time.Sleep(60 * time.Millisecond)

	resp = env.do(t, "POST", "/api/recordings/"+started.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace"))
	assert.NotEmpty(t, resp.Header.Get("X-Frames"))

	resp = env.do(t, "POST", "/api/recordings/"+started.ID+"/stop", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, "POST", "/api/recordings/"+started.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStoppedRecordingIsForgotten(t *testing.T) {
	env := newTestEnv(t)
	env.server.retention = 20 * time.Millisecond

	resp := env.do(t, "POST", "/api/recordings", []byte(`{}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var started map[string]interface{}
	decodeJSON(t, resp, &started)
	id := started["id"].(string)

	require.Equal(t, http.StatusOK, env.do(t, "POST", "/api/recordings/"+id+"/stop", nil).StatusCode)

	require.Eventually(t, func() bool {
		env.server.mu.Lock()
		defer env.server.mu.Unlock()
		_, ok := env.server.recordings[id]
		return !ok
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, http.StatusNotFound, env.do(t, "POST", "/api/recordings/"+id+"/stop", nil).StatusCode)
}

func TestRecordingUnknown(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, "POST", "/api/recordings/nope/stop", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, "POST", "/api/recordings", []byte(`{"display_id":5}`)).StatusCode)
}

func startSession(t *testing.T, env *testEnv, body string) string {
	t.Helper()
	resp := env.do(t, "POST", "/api/capture/sessions", []byte(body))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started map[string]string
	decodeJSON(t, resp, &started)
	require.NotEmpty(t, started["id"])
	return started["id"]
}

func waitForState(t *testing.T, env *testEnv, id string, want session.State) {
	t.Helper()
	sess, ok := env.orch.Session(id)
	require.True(t, ok)
	require.Eventually(t, func() bool { return sess.State() == want }, 5*time.Second, 5*time.Millisecond)
}

func TestSessionSelectionOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	id := startSession(t, env, `{"path":"/out/pick.png","displays":{"all":true},"hide_host":true}`)
	waitForState(t, env, id, session.StateAwaitingSelection)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	resp := env.do(t, "POST", "/api/capture/sessions/"+id+"/selection?display_id=2", buf.Bytes())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	sess, _ := env.orch.Session(id)
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}

	resp = env.do(t, "GET", "/api/capture/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		State  session.State   `json:"state"`
		Result *session.Result `json:"result"`
	}
	decodeJSON(t, resp, &status)
	assert.Equal(t, session.StateCompleted, status.State)
	require.NotNil(t, status.Result)
	assert.Equal(t, "/out/pick.png", status.Result.Saved.Path)
	assert.Equal(t, display.ID(2), status.Result.DisplayID)

	exists, err := afero.Exists(env.fs, "/out/pick.png")
	require.NoError(t, err)
	assert.True(t, exists)

	resp = env.do(t, "POST", "/api/capture/sessions/"+id+"/selection", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionSelectionTooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.server.maxSelection = 1024

	id := startSession(t, env, `{"path":"/out/big.png"}`)
	waitForState(t, env, id, session.StateAwaitingSelection)

	resp := env.do(t, "POST", "/api/capture/sessions/"+id+"/selection", bytes.Repeat([]byte{0x89}, 1025))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	sess, ok := env.orch.Session(id)
	require.True(t, ok)
	assert.Equal(t, session.StateAwaitingSelection, sess.State())

	exists, err := afero.Exists(env.fs, "/out/big.png")
	require.NoError(t, err)
	assert.False(t, exists)

	resp = env.do(t, "POST", "/api/capture/sessions/"+id+"/selection", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-sess.Done()
	assert.Equal(t, session.StateCancelled, sess.State())
}

func TestSessionCancelOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	id := startSession(t, env, `{}`)
	waitForState(t, env, id, session.StateAwaitingSelection)

	var pending []ipc.Event
	decodeJSON(t, env.do(t, "GET", "/api/capture/sessions", nil), &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].SessionID)
	assert.Equal(t, string(session.StateAwaitingSelection), pending[0].State)

	resp := env.do(t, "DELETE", "/api/capture/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decodeJSON(t, env.do(t, "GET", "/api/capture/sessions", nil), &pending)
	assert.Empty(t, pending)

	var status map[string]string
	resp = env.do(t, "GET", "/api/capture/sessions/"+id, nil)
	decodeJSON(t, resp, &status)
	assert.Equal(t, string(session.StateFailed), status["state"])
	assert.Contains(t, status["error"], "context canceled")

	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/capture/sessions/missing", nil).StatusCode)
}

func TestSessionWebSocket(t *testing.T) {
	env := newTestEnv(t)

	id := startSession(t, env, `{"path":"/out/ws.png"}`)
	waitForState(t, env, id, session.StateAwaitingSelection)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/capture/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var ev ipc.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, string(session.StateAwaitingSelection), ev.State)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "error", ev.Type)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	require.NoError(t, conn.WriteJSON(socketMessage{Type: "selection", Data: buf.Bytes(), DisplayID: 1}))

	states := []string{}
	for {
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		states = append(states, ev.State)
	}
	assert.Contains(t, states, string(session.StateCompleted))

	data, err := afero.ReadFile(env.fs, "/out/ws.png")
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), data)
}

func TestSessionWebSocketUnknown(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/api/capture/sessions/nope/ws", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreviews(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	saved, err := env.store.Save(context.Background(), buf.Bytes(), "")
	require.NoError(t, err)

	resp := env.do(t, "GET", "/previews/"+filepath.Base(saved.Path), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestConfigEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/api/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg config.Config
	decodeJSON(t, resp, &cfg)
	assert.Equal(t, "auto", cfg.Capture.Backend)

	resp = env.do(t, "PUT", "/api/config", []byte(`{"capture":{"backend":"x11","fps":10,"jpeg_quality":80,"image_format":"jpeg"}}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, "GET", "/api/config", nil)
	decodeJSON(t, resp, &cfg)
	assert.Equal(t, "x11", cfg.Capture.Backend)
	assert.Equal(t, 10, cfg.Capture.FPS)

	resp = env.do(t, "PUT", "/api/config", []byte(`{"capture":{"jpeg_quality":0}}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, "GET", "/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/elsewhere", nil).StatusCode)
}
