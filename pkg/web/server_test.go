package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/incbuild/incc/pkg/analysis"
	"github.com/incbuild/incc/pkg/events"
	"github.com/incbuild/incc/pkg/stamp"
)

func testAnalysis(t *testing.T) *analysis.Analysis {
	t.Helper()
	a := analysis.Empty()
	err := a.AddSource(analysis.SourceEntry{
		Source: "a.src",
		Stamp:  stamp.Hash([]byte("class A")),
		Classes: []analysis.AnalyzedClass{
			{Name: "A", APIHash: 1},
		},
		NonLocalProducts: []analysis.NonLocalProduct{
			{Class: "A", Binary: "A", File: "out/A.class"},
		},
		Info: analysis.SourceInfo{MainClasses: []string{"A"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestAnalysisSummary(t *testing.T) {
	s := NewServer(events.NewBus())
	s.SetAnalysis(testAnalysis(t))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/analysis", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var summary Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if summary.Sources != 1 || summary.Classes != 1 || summary.Products != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(summary.MainClasses) != 1 || summary.MainClasses[0] != "A" {
		t.Errorf("main classes = %v", summary.MainClasses)
	}
}

func TestRelationsView(t *testing.T) {
	s := NewServer(events.NewBus())
	s.SetAnalysis(testAnalysis(t))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/relations?source=a.src", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var view SourceView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decoding view: %v", err)
	}
	if len(view.Classes) != 1 || view.Classes[0] != "A" {
		t.Errorf("view = %+v", view)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/relations?source=nope.src", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown source status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/relations", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing parameter status = %d", rec.Code)
	}
}
