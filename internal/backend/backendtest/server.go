// Package backendtest runs an in-process ClipFlow backend for tests. It keeps
// clips in memory, answers both concatenate variants and pushes scripted
// progress events over the progress WebSocket.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/clipflow/clipflow/internal/backend"
)

// Calls counts requests per endpoint.
type Calls struct {
	List        int
	Upload      int
	Delete      int
	Concatenate int
	Start       int
	Subscribe   int
}

// Failure makes an endpoint answer with Status and a {"detail": Detail} body.
type Failure struct {
	Status int
	Detail string
}

// Server is a fake backend. The zero configuration accepts every upload,
// answers every call successfully and emits no progress until told to.
type Server struct {
	URL string

	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu           sync.Mutex
	clips        []backend.Clip
	nextID       int
	calls        Calls
	uploadReject map[string]Failure
	listFailure  *Failure
	concatFail   *Failure
	script       []backend.ProgressEvent
	emitDelay    time.Duration
	lastConcat   backend.ConcatRequest
	outputs      map[string][]byte
	subs         map[*subscriber]struct{}
	subscribed   chan struct{}
}

type subscriber struct {
	jobID string
	conn  *websocket.Conn
	wmu   sync.Mutex
}

func (s *subscriber) send(ev backend.ProgressEvent) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteJSON(ev)
}

// New starts a fake backend that is shut down when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		uploadReject: make(map[string]Failure),
		outputs:      make(map[string][]byte),
		subs:         make(map[*subscriber]struct{}),
		subscribed:   make(chan struct{}, 64),
	}
	s.srv = httptest.NewServer(s.routes())
	s.URL = s.srv.URL
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Route("/api/clips", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/upload", s.handleUpload)
		r.Post("/concatenate", s.handleConcatenate)
		r.Get("/output/{filename}", s.handleOutput)
		r.Delete("/{id}", s.handleDelete)
	})
	r.Route("/api/process", func(r chi.Router) {
		r.Post("/concatenate", s.handleStart)
		r.Get("/progress", s.handleProgress)
		r.Get("/outputs", s.handleOutputs)
	})
	return r
}

// Close drops every progress subscriber and stops the server.
func (s *Server) Close() {
	s.CloseStreams()
	s.srv.Close()
}

// AddClip stores a clip as if it had been uploaded.
func (s *Server) AddClip(filename string) backend.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addClipLocked(filename, 0)
}

func (s *Server) addClipLocked(filename string, size int64) backend.Clip {
	s.nextID++
	clip := backend.Clip{
		ID:       fmt.Sprintf("clip_%d", s.nextID),
		Filename: filename,
	}
	if size > 0 {
		clip.FileSize = &size
	}
	s.clips = append(s.clips, clip)
	return clip
}

// AddOutput makes filename downloadable and listed as an output.
func (s *Server) AddOutput(filename string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[filename] = data
}

// Clips returns the stored clips in server order.
func (s *Server) Clips() []backend.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.Clip(nil), s.clips...)
}

// Calls returns the request counters.
func (s *Server) Calls() Calls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// RejectUpload makes uploads named filename fail with f.
func (s *Server) RejectUpload(filename string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadReject[filename] = f
}

// FailList makes GET /api/clips/ fail with f; nil restores normal answers.
func (s *Server) FailList(f *Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listFailure = f
}

// FailConcatenate makes both concatenate endpoints fail with f.
func (s *Server) FailConcatenate(f *Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.concatFail = f
}

// Script sets the events pushed to the job's subscribers once a streamed
// start is accepted. Events without a job id are sent untagged.
func (s *Server) Script(events ...backend.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append([]backend.ProgressEvent(nil), events...)
}

// SetEmitDelay makes the script wait d after the acknowledgement. By default
// events follow the acknowledgement immediately, as the real backend's
// broadcast does.
func (s *Server) SetEmitDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitDelay = d
}

// LastConcatRequest returns the body of the most recent concatenate call.
func (s *Server) LastConcatRequest() backend.ConcatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConcat
}

// WaitSubscriber blocks until a progress subscriber connects or the timeout
// passes.
func (s *Server) WaitSubscriber(timeout time.Duration) bool {
	select {
	case <-s.subscribed:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Emit sends ev to the subscribers of jobID, or to all when jobID is empty.
func (s *Server) Emit(jobID string, ev backend.ProgressEvent) {
	for _, sub := range s.subscribers(jobID) {
		_ = sub.send(ev)
	}
}

// CloseStreams closes every progress connection without a terminal event.
func (s *Server) CloseStreams() {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[*subscriber]struct{})
	s.mu.Unlock()

	for _, sub := range subs {
		sub.wmu.Lock()
		_ = sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		sub.wmu.Unlock()
		_ = sub.conn.Close()
	}
}

// awaitJobSubscriber waits until the client's progress connection for jobID
// is registered; the client dials before starting, but the upgrade handler
// may register it after the start request arrives.
func (s *Server) awaitJobSubscriber(jobID string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for len(s.subscribers(jobID)) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func (s *Server) subscribers(jobID string) []*subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		if jobID == "" || sub.jobID == "" || sub.jobID == jobID {
			out = append(out, sub)
		}
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, backend.Health{Status: "healthy", Service: "clipflow-fake"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls.List++
	failure := s.listFailure
	clips := append([]backend.Clip{}, s.clips...)
	s.mu.Unlock()

	if failure != nil {
		writeDetail(w, failure.Status, failure.Detail)
		return
	}
	writeJSON(w, http.StatusOK, backend.ClipList{Clips: clips})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls.Upload++
	s.mu.Unlock()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()
	size, err := io.Copy(io.Discard, file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not read upload")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.uploadReject[header.Filename]; ok {
		writeDetail(w, f.Status, f.Detail)
		return
	}
	clip := s.addClipLocked(header.Filename, size)
	writeJSON(w, http.StatusOK, backend.UploadResponse{Message: "File uploaded successfully", Clip: &clip})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Delete++
	for i, clip := range s.clips {
		if clip.ID == id {
			s.clips = append(s.clips[:i], s.clips[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"message": "Clip deleted successfully"})
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "Clip not found")
}

// checkConcat validates a concatenate body the way the real backend does.
func (s *Server) checkConcat(req backend.ConcatRequest) *Failure {
	if s.concatFail != nil {
		return s.concatFail
	}
	if len(req.ClipIDs) < 2 {
		return &Failure{Status: http.StatusBadRequest, Detail: "At least 2 clips are required for concatenation"}
	}
	for _, id := range req.ClipIDs {
		found := false
		for _, clip := range s.clips {
			if clip.ID == id {
				found = true
				break
			}
		}
		if !found {
			return &Failure{Status: http.StatusNotFound, Detail: fmt.Sprintf("Clip %s not found", id)}
		}
	}
	return nil
}

func outputName(req backend.ConcatRequest) string {
	name := req.OutputFilename
	if name == "" {
		name = "concatenated.mp4"
	}
	if !strings.HasSuffix(name, ".mp4") {
		name += ".mp4"
	}
	return name
}

func (s *Server) handleConcatenate(w http.ResponseWriter, r *http.Request) {
	var req backend.ConcatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	s.calls.Concatenate++
	s.lastConcat = req
	failure := s.checkConcat(req)
	s.mu.Unlock()

	if failure != nil {
		writeDetail(w, failure.Status, failure.Detail)
		return
	}
	name := outputName(req)
	writeJSON(w, http.StatusOK, backend.ConcatResult{
		Message:        fmt.Sprintf("Successfully concatenated %d clips", len(req.ClipIDs)),
		OutputFilename: name,
		OutputPath:     "/outputs/" + name,
		HadAudio:       true,
		ClipsProcessed: len(req.ClipIDs),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req backend.ConcatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	s.calls.Start++
	s.lastConcat = req
	failure := s.checkConcat(req)
	script := append([]backend.ProgressEvent(nil), s.script...)
	delay := s.emitDelay
	s.mu.Unlock()

	if failure != nil {
		writeDetail(w, failure.Status, failure.Detail)
		return
	}
	name := outputName(req)
	writeJSON(w, http.StatusOK, backend.ConcatAck{
		Success:        true,
		Message:        "Concatenation started",
		OutputFilename: name,
		ClipCount:      len(req.ClipIDs),
		JobID:          req.JobID,
	})

	if len(script) > 0 {
		go func() {
			s.awaitJobSubscriber(req.JobID, time.Second)
			if delay > 0 {
				time.Sleep(delay)
			}
			for _, ev := range script {
				s.Emit(req.JobID, ev)
			}
		}()
	}
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sub := &subscriber{jobID: r.URL.Query().Get("job_id"), conn: conn}

	s.mu.Lock()
	s.calls.Subscribe++
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	select {
	case s.subscribed <- struct{}{}:
	default:
	}

	// Drain until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := backend.OutputList{Outputs: []backend.Output{}}
	for name, data := range s.outputs {
		list.Outputs = append(list.Outputs, backend.Output{
			Filename: name,
			Size:     int64(len(data)),
			Modified: float64(time.Now().Unix()),
		})
	}
	list.Count = len(list.Outputs)
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	s.mu.Lock()
	data, ok := s.outputs[name]
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "File not found")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
