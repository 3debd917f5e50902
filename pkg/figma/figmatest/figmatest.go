// Package figmatest provides an in-process fake of the Figma REST API for tests.
//
// The fake serves GET /v1/files/{key}, GET /v1/files/{key}/nodes and
// GET /v1/images/{key} from documents registered with AddFile, plus the
// rendered PNGs those image URLs point to. Failures can be injected per
// endpoint.
package figmatest

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kataras/figma-slides/pkg/figma"
)

// Request kinds counted by Requests.
const (
	KindFile   = "file"
	KindNodes  = "nodes"
	KindImages = "images"
	KindRender = "render"
)

// Server is a fake Figma API backed by in-memory files.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	files        map[string]*figma.FileResponse
	fileStatus   int
	nodesFailure func(ids []string) int
	failedRender map[string]bool
	requests     map[string]int
	nodeBatches  [][]string
	token        string
}

// NewServer starts a fake API that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		files:        make(map[string]*figma.FileResponse),
		failedRender: make(map[string]bool),
		requests:     make(map[string]int),
	}

	r := chi.NewRouter()
	r.Get("/v1/files/{key}", s.handleFile)
	r.Get("/v1/files/{key}/nodes", s.handleNodes)
	r.Get("/v1/images/{key}", s.handleImages)
	r.Get("/renders/{key}/{id}", s.handleRender)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Server.Close)
	return s
}

// Client returns a figma.Client pointed at the fake with fast retries.
func (s *Server) Client(token string, opts ...figma.Option) *figma.Client {
	base := []figma.Option{
		figma.WithBaseURL(s.URL + "/v1"),
		figma.WithRetry(1, time.Millisecond),
		figma.WithRequestTimeout(2 * time.Second),
	}
	return figma.NewClient(token, append(base, opts...)...)
}

// RequireToken makes every API request without the given X-Figma-Token fail with 403.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// AddFile registers (or replaces) a file.
func (s *Server) AddFile(key string, file *figma.FileResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = file
}

// Update mutates a registered file under the server lock.
func (s *Server) Update(key string, fn func(file *figma.FileResponse)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[key]; ok {
		fn(f)
	}
}

// FailFile makes the file endpoint answer with status. Zero restores normal behaviour.
func (s *Server) FailFile(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileStatus = status
}

// FailNodesWhen installs a hook deciding, per requested ID list, whether the
// nodes endpoint fails. The hook returns an HTTP status, or zero to succeed.
func (s *Server) FailNodesWhen(fn func(ids []string) int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodesFailure = fn
}

// FailRender makes the render endpoint return a null URL for nodeID.
func (s *Server) FailRender(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedRender[nodeID] = true
}

// Requests returns how many requests of the given kind were served.
func (s *Server) Requests(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[kind]
}

// NodeBatches returns the ID lists of every nodes request, in arrival order.
func (s *Server) NodeBatches() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.nodeBatches))
	copy(out, s.nodeBatches)
	return out
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.token != "" && r.Header.Get("X-Figma-Token") != s.token {
		writeJSON(w, http.StatusForbidden, map[string]any{"status": 403, "err": "Invalid token"})
		return false
	}
	return true
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[KindFile]++

	if !s.authorized(w, r) {
		return
	}
	if s.fileStatus != 0 {
		writeJSON(w, s.fileStatus, map[string]any{"status": s.fileStatus, "err": "injected failure"})
		return
	}

	file, ok := s.files[chi.URLParam(r, "key")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": 404, "err": "Not found"})
		return
	}

	out := *file
	if d, err := strconv.Atoi(r.URL.Query().Get("depth")); err == nil && out.Document != nil {
		doc := trim(*out.Document, d)
		out.Document = &doc
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[KindNodes]++

	if !s.authorized(w, r) {
		return
	}

	ids := splitIDs(r.URL.Query().Get("ids"))
	s.nodeBatches = append(s.nodeBatches, ids)

	if s.nodesFailure != nil {
		if status := s.nodesFailure(ids); status != 0 {
			writeJSON(w, status, map[string]any{"status": status, "err": "injected failure"})
			return
		}
	}

	file, ok := s.files[chi.URLParam(r, "key")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": 404, "err": "Not found"})
		return
	}

	depth, err := strconv.Atoi(r.URL.Query().Get("depth"))
	if err != nil {
		depth = -1
	}

	resp := figma.NodesResponse{
		Name:         file.Name,
		LastModified: file.LastModified,
		Version:      file.Version,
		Nodes:        make(map[string]*figma.NodeData, len(ids)),
	}
	for _, id := range ids {
		node := findNode(file.Document, id)
		if node == nil {
			resp.Nodes[id] = nil
			continue
		}
		doc := *node
		if depth >= 0 {
			doc = trim(doc, depth)
		}
		resp.Nodes[id] = &figma.NodeData{Document: doc}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[KindImages]++

	if !s.authorized(w, r) {
		return
	}

	key := chi.URLParam(r, "key")
	file, ok := s.files[key]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": 404, "err": "Not found"})
		return
	}

	images := make(map[string]*string)
	for _, id := range splitIDs(r.URL.Query().Get("ids")) {
		if s.failedRender[id] || findNode(file.Document, id) == nil {
			images[id] = nil
			continue
		}
		u := s.URL + "/renders/" + url.PathEscape(key) + "/" + url.PathEscape(id)
		images[id] = &u
	}
	writeJSON(w, http.StatusOK, map[string]any{"err": nil, "images": images})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests[KindRender]++
	s.mu.Unlock()

	w.Header().Set("Content-Type", "image/png")
	w.Write(PNG())
}

// PNG returns a tiny valid PNG image.
func PNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func findNode(root *figma.Node, id string) *figma.Node {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	for i := range root.Children {
		if n := findNode(&root.Children[i], id); n != nil {
			return n
		}
	}
	return nil
}

// trim returns a copy of n keeping depth levels of descendants, the way the
// API's depth parameter does.
func trim(n figma.Node, depth int) figma.Node {
	if depth <= 0 {
		n.Children = nil
		return n
	}
	if n.Children == nil {
		return n
	}
	children := make([]figma.Node, len(n.Children))
	for i, c := range n.Children {
		children[i] = trim(c, depth-1)
	}
	n.Children = children
	return n
}

// SlideFrame returns a 1920x1080 frame holding a single text layer.
func SlideFrame(id, name, text string) figma.Node {
	return figma.Node{
		ID:                  id,
		Name:                name,
		Type:                figma.NodeTypeFrame,
		AbsoluteBoundingBox: &figma.Rectangle{Width: 1920, Height: 1080},
		Children: []figma.Node{{
			ID:         id + "-text",
			Name:       "Text",
			Type:       figma.NodeTypeText,
			Characters: text,
		}},
	}
}

// Deck returns a file with one page holding frames.
func Deck(lastModified string, frames ...figma.Node) *figma.FileResponse {
	return &figma.FileResponse{
		Name:         "Deck",
		LastModified: lastModified,
		Document: &figma.Node{
			ID:   "0:0",
			Type: figma.NodeTypeDocument,
			Children: []figma.Node{{
				ID:       "0:1",
				Name:     "Page 1",
				Type:     figma.NodeTypeCanvas,
				Children: frames,
			}},
		},
	}
}

// SetText replaces the text of the top-level frame frameID. Use with Update.
func SetText(frameID, text string) func(*figma.FileResponse) {
	return func(f *figma.FileResponse) {
		page := &f.Document.Children[0]
		for i := range page.Children {
			if page.Children[i].ID == frameID && len(page.Children[i].Children) > 0 {
				page.Children[i].Children[0].Characters = text
			}
		}
	}
}
