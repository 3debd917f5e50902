package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kataras/figma-slides/internal/blob"
	"github.com/kataras/figma-slides/internal/session"
	"github.com/kataras/figma-slides/internal/slides"
	"github.com/kataras/figma-slides/internal/sse"
	"github.com/kataras/figma-slides/internal/store"
	"github.com/kataras/figma-slides/internal/testutil"
	"github.com/kataras/figma-slides/internal/token"
	"github.com/kataras/figma-slides/pkg/figma"
	"github.com/kataras/figma-slides/pkg/figma/figmatest"
	"github.com/kataras/figma-slides/pkg/imager"
	"github.com/kataras/figma-slides/pkg/syncer"
)

const (
	fileKey    = "Deck42"
	fileURL    = "https://www.figma.com/design/Deck42/Quarterly"
	figmaToken = "figd_test"
)

type testEnv struct {
	srv      *figmatest.Server
	sessions *session.Manager
	events   *sse.Broker
	router   chi.Router
}

func newTestEnv(t *testing.T, engineToken string, opts Options) *testEnv {
	t.Helper()
	return newTestEnvWithTokens(t, syncer.StaticToken(engineToken), opts)
}

func newTestEnvWithTokens(t *testing.T, tokens syncer.TokenProvider, opts Options) *testEnv {
	t.Helper()
	srv := figmatest.NewServer(t)
	srv.RequireToken(figmaToken)
	srv.AddFile(fileKey, figmatest.Deck("2024-05-01T10:00:00Z",
		figmatest.SlideFrame("1:1", "Cover", "Hello"),
		figmatest.SlideFrame("1:2", "Agenda", "World"),
	))

	engine := syncer.New(srv.Client(""), tokens)
	svc := slides.NewService(engine, testutil.TestStore(t), blob.NewMemory(),
		slides.WithIDGenerator(testutil.NewStubIDGenerator()),
	)
	sessions := session.NewManager(svc, engine, session.WithInterval(time.Hour))
	events := sse.NewBroker(time.Millisecond)
	t.Cleanup(events.Close)

	return &testEnv{
		srv:      srv,
		sessions: sessions,
		events:   events,
		router:   NewRouter(svc, sessions, events, opts),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) importDeck(t *testing.T) SyncResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/figma/import", strings.NewReader(`{"url":"`+fileURL+`"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res SyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, figmaToken, Options{AuthEnabled: true, AuthToken: "secret"})

	w := e.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestAuth(t *testing.T) {
	e := newTestEnv(t, figmaToken, Options{AuthEnabled: true, AuthToken: "secret"})

	w := e.do(t, http.MethodGet, "/api/slides", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodGet, "/api/slides", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodGet, "/api/slides", nil, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFileKey(t *testing.T) {
	e := newTestEnv(t, figmaToken, Options{})

	w := e.do(t, http.MethodGet, "/api/figma/file-key?url="+fileURL, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, fileKey, decode[FileKeyResponse](t, w).FileKey)

	w = e.do(t, http.MethodGet, "/api/figma/file-key?url=https://example.com/x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImport(t *testing.T) {
	e := newTestEnv(t, figmaToken, Options{})
	ch := e.events.Subscribe()

	res := e.importDeck(t)
	assert.Equal(t, fileKey, res.FileKey)
	assert.Equal(t, 2, res.Frames)
	require.Len(t, res.Slides, 2)
	assert.Equal(t, "Cover", res.Slides[0].Name)
	assert.Equal(t, "1:1", res.Slides[0].RemoteFrameID)

	// Progress reaches the event stream.
	var stream strings.Builder
	require.Eventually(t, func() bool {
		for {
			select {
			case msg := <-ch:
				stream.Write(msg)
			default:
				return strings.Contains(stream.String(), "event: "+sse.EventSyncProgress) &&
					strings.Contains(stream.String(), "event: "+sse.EventSlideSynced)
			}
		}
	}, time.Second, 5*time.Millisecond)

	// The file is now watched, paused for the cooldown.
	w := e.do(t, http.MethodGet, "/api/figma/files/"+fileKey+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[session.Status](t, w)
	assert.Equal(t, fileKey, st.FileKey)
	assert.False(t, st.CooldownUntil.IsZero())

	w = e.do(t, http.MethodGet, "/api/slides", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[SlideListResponse](t, w).Total)

	w = e.do(t, http.MethodGet, "/api/slides?file=Other", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[SlideListResponse](t, w).Total)

	w = e.do(t, http.MethodGet, "/api/slides/"+res.Slides[0].ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, res.Slides[0].ContentHash, decode[store.Slide](t, w).ContentHash)

	w = e.do(t, http.MethodGet, "/api/slides/"+res.Slides[0].ID+"/image", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, figmatest.PNG(), w.Body.Bytes())
}

func TestImportErrors(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		body   string
		status int
	}{
		{"invalid json", figmaToken, `{`, http.StatusBadRequest},
		{"missing url", figmaToken, `{}`, http.StatusBadRequest},
		{"not a figma url", figmaToken, `{"url":"https://example.com/file/x"}`, http.StatusBadRequest},
		{"unknown file", figmaToken, `{"url":"https://www.figma.com/design/Nope/Deck"}`, http.StatusBadGateway},
		{"missing token", "", `{"url":"` + fileURL + `"}`, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, tt.token, Options{})
			w := e.do(t, http.MethodPost, "/api/figma/import", strings.NewReader(tt.body))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, decode[errResponse](t, w).Error)
		})
	}
}

func TestImportOffline(t *testing.T) {
	e := newTestEnv(t, figmaToken, Options{})
	e.srv.Close()

	w := e.do(t, http.MethodPost, "/api/figma/import", strings.NewReader(`{"url":"`+fileURL+`"}`))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
}

func TestImportTokenEndpointTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		_, _ = io.WriteString(w, `{"token":"`+figmaToken+`"}`)
	}))
	t.Cleanup(slow.Close)

	e := newTestEnvWithTokens(t, token.NewHTTP(slow.URL, token.WithTimeout(50*time.Millisecond)), Options{})

	w := e.do(t, http.MethodPost, "/api/figma/import", strings.NewReader(`{"url":"`+fileURL+`"}`))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
}

func TestCheckAndNewFrames(t *testing.T) {
	e := newTestEnv(t, figmaToken, Options{})
	e.importDeck(t)

	w := e.do(t, http.MethodPost, "/api/figma/files/"+fileKey+"/check", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[syncer.CheckResult](t, w)
	assert.Equal(t, 2, res.Checked)
	assert.Empty(t, res.Modified)

	e.srv.Update(fileKey, figmatest.SetText("1:2", "Changed"))
	e.srv.Update(fileKey, func(f *figma.FileResponse) {
		page := &f.Document.Children[0]
		page.Children = append(page.Children, figmatest.SlideFrame("1:3", "Appendix", "More"))
	})

	w = e.do(t, http.MethodPost, "/api/figma/files/"+fileKey+"/check", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[syncer.CheckResult](t, w)
	assert.Equal(t, []string{"1:2"}, res.ModifiedFrameIDs())

	w = e.do(t, http.MethodGet, "/api/figma/files/"+fileKey+"/new", nil)
	require.Equal(t, http.StatusOK, w.Code)
	fresh := decode[NewFramesResponse](t, w)
	require.Len(t, fresh.Frames, 1)
	assert.Equal(t, "Appendix", fresh.Frames[0].Name)

	w = e.do(t, http.MethodPost, "/api/figma/files/Unknown/check", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodGet, "/api/figma/files/Unknown/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSyncFileAndSlide(t *testing.T) {
	e := newTestEnv(t, figmaToken, Options{})
	imported := e.importDeck(t)

	e.srv.Update(fileKey, figmatest.SetText("1:1", "Hello again"))

	w := e.do(t, http.MethodPost, "/api/slides/"+imported.Slides[0].ID+"/sync", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	synced := decode[store.Slide](t, w)
	assert.Equal(t, imported.Slides[0].ID, synced.ID)
	assert.NotEqual(t, imported.Slides[0].ContentHash, synced.ContentHash)

	w = e.do(t, http.MethodPost, "/api/figma/files/"+fileKey+"/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	again := decode[SyncResponse](t, w)
	require.Len(t, again.Slides, 2)
	assert.Equal(t, synced.ContentHash, again.Slides[0].ContentHash)

	w = e.do(t, http.MethodPost, "/api/figma/files/Unknown/sync", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodPost, "/api/slides/missing/sync", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReport(t *testing.T) {
	e := newTestEnv(t, figmaToken, Options{})
	e.importDeck(t)

	w := e.do(t, http.MethodGet, "/api/figma/files/"+fileKey+"/report", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Agenda")
	assert.NotContains(t, w.Body.String(), "<script")

	w = e.do(t, http.MethodGet, "/api/figma/files/"+fileKey+"/report?format=md", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, w.Body.String(), "Cover")

	w = e.do(t, http.MethodGet, "/api/figma/files/Unknown/report", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func multipartUpload(t *testing.T, name string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		require.NoError(t, mw.WriteField("name", name))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("file", "slide.png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadAndDeleteSlide(t *testing.T) {
	e := newTestEnv(t, figmaToken, Options{})

	body, ct := multipartUpload(t, "Photo", figmatest.PNG())
	w := e.do(t, http.MethodPost, "/api/slides", body, "Content-Type", ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	slide := decode[store.Slide](t, w)
	assert.Equal(t, "Photo", slide.Name)
	assert.False(t, slide.Linked())

	// Manual slides cannot be synchronized.
	w = e.do(t, http.MethodPost, "/api/slides/"+slide.ID+"/sync", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct = multipartUpload(t, "Junk", []byte("not an image"))
	w = e.do(t, http.MethodPost, "/api/slides", body, "Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct = multipartUpload(t, "No file", nil)
	w = e.do(t, http.MethodPost, "/api/slides", body, "Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct = multipartUpload(t, strings.Repeat("x", 201), figmatest.PNG())
	w = e.do(t, http.MethodPost, "/api/slides", body, "Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	uri := imager.DataURI(figmatest.PNG(), "image/png")
	w = e.do(t, http.MethodPost, "/api/slides", strings.NewReader(`{"name":"Inline","data_uri":"`+uri+`"}`),
		"Content-Type", "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Inline", decode[store.Slide](t, w).Name)

	w = e.do(t, http.MethodPost, "/api/slides", strings.NewReader(`{"data_uri":"data:image/png;base64,!!"}`),
		"Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodDelete, "/api/slides/"+slide.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodGet, "/api/slides/"+slide.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodDelete, "/api/slides/"+slide.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{syncer.ErrMissingToken, http.StatusUnauthorized},
		{syncer.ErrFrameNotFound, http.StatusNotFound},
		{syncer.ErrNoFramesFound, http.StatusUnprocessableEntity},
		{session.ErrCheckInProgress, http.StatusConflict},
		{&figma.APIError{StatusCode: http.StatusForbidden}, http.StatusBadGateway},
		{figma.ErrTimeout, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", syncer.ErrMissingToken, figma.ErrNetworkUnavailable), http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

func TestEventStream(t *testing.T) {
	e := newTestEnv(t, figmaToken, Options{})
	srv := httptest.NewServer(e.router)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return e.events.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	e.events.PublishSlideEvent(sse.EventSlideDeleted, fileKey, "id-9")

	buf := make([]byte, 512)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "event: "+sse.EventSlideDeleted)
}
