// Package web serves the analysis inspector: a JSON view of the current
// analysis plus a live event stream of run progress.
package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/incbuild/incc/pkg/analysis"
	"github.com/incbuild/incc/pkg/events"
	"github.com/incbuild/incc/pkg/logging"
	"github.com/incbuild/incc/pkg/vfs"
)

// Summary is the /api/analysis payload.
type Summary struct {
	Sources      int      `json:"sources"`
	Classes      int      `json:"classes"`
	Products     int      `json:"products"`
	Libraries    int      `json:"libraries"`
	Compilations int      `json:"compilations"`
	MainClasses  []string `json:"mainClasses,omitempty"`
}

// SourceView is the /api/relations payload for one source.
type SourceView struct {
	Source    string                         `json:"source"`
	Classes   []string                       `json:"classes"`
	Products  []string                       `json:"products,omitempty"`
	Libraries []string                       `json:"libraries,omitempty"`
	Deps      []analysis.InternalDependency  `json:"deps,omitempty"`
	UsedNames map[string][]string            `json:"usedNames,omitempty"`
	Problems  map[string][]analysis.Problem  `json:"problems,omitempty"`
}

// Server exposes the inspector over HTTP.
type Server struct {
	mu       sync.RWMutex
	analysis *analysis.Analysis
	bus      events.Publisher
	router   *mux.Router
}

func NewServer(bus events.Publisher) *Server {
	s := &Server{bus: bus, analysis: analysis.Empty()}
	r := mux.NewRouter()
	r.Use(logging.RequestLogMiddleware)
	r.HandleFunc("/api/analysis", s.handleAnalysis).Methods("GET")
	r.HandleFunc("/api/relations", s.handleRelations).Methods("GET")
	r.HandleFunc("/events", s.handleEvents).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.router = r
	return s
}

// SetAnalysis swaps the snapshot served to clients.
func (s *Server) SetAnalysis(a *analysis.Analysis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a != nil {
		s.analysis = a
	}
}

// Start blocks serving HTTP on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logging.Info("inspector listening", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleAnalysis(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	a := s.analysis
	s.mu.RUnlock()

	summary := Summary{
		Sources:      len(a.Stamps.Sources),
		Classes:      len(a.APIs.Internal),
		Products:     len(a.Stamps.Products),
		Libraries:    len(a.Stamps.Libraries),
		Compilations: len(a.Compilations),
	}
	for _, info := range a.Infos {
		summary.MainClasses = append(summary.MainClasses, info.MainClasses...)
	}
	writeJSON(w, summary)
}

func (s *Server) handleRelations(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("source")
	if src == "" {
		http.Error(w, "missing source parameter", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	a := s.analysis
	s.mu.RUnlock()

	ref := vfs.FileRef(src)
	if !a.HasSource(ref) {
		http.Error(w, "unknown source", http.StatusNotFound)
		return
	}

	view := SourceView{
		Source:    src,
		Classes:   a.Relations.ClassesOf(ref),
		UsedNames: make(map[string][]string),
	}
	for _, p := range a.Relations.ProductsOf(ref) {
		view.Products = append(view.Products, string(p))
	}
	for _, l := range a.Relations.LibrariesOf(ref) {
		view.Libraries = append(view.Libraries, string(l))
	}
	for _, class := range view.Classes {
		view.Deps = append(view.Deps, a.Relations.InternalDependenciesOf(class)...)
		for name := range a.Relations.UsedNamesOf(class) {
			view.UsedNames[class] = append(view.UsedNames[class], name)
		}
	}
	if info, ok := a.Infos[ref]; ok && (len(info.Reported) > 0 || len(info.Unreported) > 0) {
		view.Problems = map[string][]analysis.Problem{
			"reported":   info.Reported,
			"unreported": info.Unreported,
		}
	}
	writeJSON(w, view)
}

// handleEvents streams run events over SSE. The topic defaults to run
// status; ?topic=cycle selects per-cycle summaries.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = events.TopicRunStatus
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub, err := s.bus.Subscribe(r.Context(), topic)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("encoding response", "error", err)
	}
}
