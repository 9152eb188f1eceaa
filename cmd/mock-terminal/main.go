// Package main implements a mock terminal server for local development and
// e2e testing. It serves the terminal action protocol (POST /actions/{action})
// from JSON fixture files, routing by the activity's template id. This
// eliminates the need for a real terminal while wiring hub flows, making them
// fast, deterministic, and offline-capable.
//
// Usage:
//
//	mock-terminal -fixtures /path/to/fixtures -port 8090
//
// Fixture files are JSON named by template (e.g., "tpl.echo.json" maps to
// template "tpl.echo") and may set "crateStorage", "response", and "status":
//
//	{"crateStorage": {"crates": [...]}, "response": "RequestSuspend"}
//	{"status": 419}
//
// Sequential fixtures: if numbered files exist (e.g., "tpl.echo.1.json",
// "tpl.echo.2.json"), the Nth call for that template uses the Nth fixture,
// with the base "tpl.echo.json" as a repeating fallback. This enables testing
// suspend→resume and token-invalidation flows. Templates without a fixture
// get echo behavior: configure returns the activity unchanged and run actions
// return Success with no payload.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/planhub/terminal"
)

// fixture scripts one action response for a template.
type fixture struct {
	// Status, when non-zero, is returned as a bare HTTP status with no body.
	// Use 419 to exercise token invalidation.
	Status int `json:"status,omitempty"`

	// CrateStorage replaces the activity's storage on configure replies and
	// becomes the payload on run replies.
	CrateStorage json.RawMessage `json:"crateStorage,omitempty"`

	// Response is the signal attached to run replies. Defaults to Success.
	Response terminal.ActivityResponse `json:"response,omitempty"`
}

// capturedRequest stores the key fields of an incoming action request for
// test verification.
type capturedRequest struct {
	Template    string `json:"template"`
	Action      string `json:"action"`
	ActivityID  string `json:"activity_id"`
	ContainerID string `json:"container_id,omitempty"`
	CallIndex   int    `json:"call_index"` // 1-indexed per-template call number
	Timestamp   int64  `json:"timestamp"`
}

type server struct {
	fixtures map[string][]fixture // template id → ordered fixture sequence
	calls    atomic.Int64         // total calls served

	// Per-template call counters for sequential fixture selection.
	templateCalls   map[string]*atomic.Int64
	templateCallsMu sync.Mutex // protects lazy init of templateCalls entries

	// Per-template request capture for assertions in e2e tests.
	templateRequests   map[string][]capturedRequest
	templateRequestsMu sync.Mutex
}

func newServer(fixtures map[string][]fixture) *server {
	return &server{
		fixtures:         fixtures,
		templateCalls:    make(map[string]*atomic.Int64),
		templateRequests: make(map[string][]capturedRequest),
	}
}

// captureRequest stores a request for later retrieval via the /requests endpoint.
func (s *server) captureRequest(template, action string, env terminal.RequestEnvelope, callIndex int) {
	captured := capturedRequest{
		Template:   template,
		Action:     action,
		ActivityID: env.Activity.ID.String(),
		CallIndex:  callIndex,
		Timestamp:  time.Now().UnixMilli(),
	}
	if env.ContainerID != uuid.Nil {
		captured.ContainerID = env.ContainerID.String()
	}

	s.templateRequestsMu.Lock()
	defer s.templateRequestsMu.Unlock()
	s.templateRequests[template] = append(s.templateRequests[template], captured)
}

// getTemplateCounter returns the call counter for a template, creating it lazily.
func (s *server) getTemplateCounter(template string) *atomic.Int64 {
	s.templateCallsMu.Lock()
	defer s.templateCallsMu.Unlock()
	if c, ok := s.templateCalls[template]; ok {
		return c
	}
	c := &atomic.Int64{}
	s.templateCalls[template] = c
	return c
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files (optional)")
	port := flag.Int("port", 8090, "port to listen on")
	flag.Parse()

	// Allow env var override
	if envDir := os.Getenv("MOCK_TERMINAL_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}

	fixtures := map[string][]fixture{}
	if *fixtureDir != "" {
		var err error
		fixtures, err = loadFixtures(*fixtureDir)
		if err != nil {
			log.Fatalf("Failed to load fixtures from %s: %v", *fixtureDir, err)
		}
	}
	log.Printf("Loaded %d template(s)", len(fixtures))
	for template, seq := range fixtures {
		log.Printf("  template: %s (%d fixture(s))", template, len(seq))
	}

	s := newServer(fixtures)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/actions/", s.handleAction)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock terminal listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	action := strings.TrimPrefix(r.URL.Path, "/actions/")
	if action == "" || strings.Contains(action, "/") {
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}

	var env terminal.RequestEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if env.Activity == nil {
		http.Error(w, "activity is required", http.StatusBadRequest)
		return
	}

	template := env.Activity.TemplateID
	callNum := s.calls.Add(1)
	log.Printf("[call %d] action=%s template=%s activity=%s", callNum, action, template, env.Activity.ID)

	// Select fixture from sequence based on per-template call count. Templates
	// with no fixture fall back to a zero fixture: echo behavior.
	counter := s.getTemplateCounter(template)
	callIndex := int(counter.Add(1) - 1) // 0-indexed

	s.captureRequest(template, action, env, callIndex+1)

	var fx fixture
	if seq, ok := s.fixtures[template]; ok {
		if callIndex < len(seq) {
			fx = seq[callIndex]
		} else {
			fx = seq[len(seq)-1] // repeat last fixture
		}
	}

	if fx.Status != 0 {
		log.Printf("[call %d] template=%s scripted status %d", callNum, template, fx.Status)
		w.WriteHeader(fx.Status)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	switch action {
	case terminal.ActionRun, terminal.ActionExecuteChildActivities:
		response := fx.Response
		if response == terminal.ResponseNull {
			response = terminal.ResponseSuccess
		}
		_ = json.NewEncoder(w).Encode(&terminal.PayloadDTO{
			ContainerID:  env.ContainerID,
			CrateStorage: fx.CrateStorage,
			Response:     response,
		})
	case terminal.ActionDocumentation:
		doc := fx.CrateStorage
		if doc == nil {
			doc = json.RawMessage(`{}`)
		}
		_, _ = w.Write(doc)
	default:
		// configure, activate, deactivate: echo the activity, applying any
		// scripted storage.
		out := *env.Activity
		if fx.CrateStorage != nil {
			out.CrateStorage = fx.CrateStorage
		}
		_ = json.NewEncoder(w).Encode(&out)
	}

	log.Printf("[call %d] template=%s call_index=%d served", callNum, template, callIndex+1)
}

// handleStats returns call counts for test assertions.
// Returns total_calls and a per-template calls_by_template breakdown.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.templateCallsMu.Lock()
	callsByTemplate := make(map[string]int64, len(s.templateCalls))
	for template, counter := range s.templateCalls {
		callsByTemplate[template] = counter.Load()
	}
	s.templateCallsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":       s.calls.Load(),
		"calls_by_template": callsByTemplate,
	})
}

// handleRequests returns captured request records for test assertions.
// Query params:
//   - template: filter by template id (optional, returns all if omitted)
//   - call: filter by call index, 1-indexed (optional)
//
// Returns {"requests_by_template": {"tpl.echo": [...], ...}}
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	templateFilter := r.URL.Query().Get("template")
	callFilter := r.URL.Query().Get("call")

	s.templateRequestsMu.Lock()
	result := make(map[string][]capturedRequest)
	for template, reqs := range s.templateRequests {
		if templateFilter != "" && template != templateFilter {
			continue
		}
		if callFilter != "" {
			callIdx, err := strconv.Atoi(callFilter)
			if err == nil {
				for _, req := range reqs {
					if req.CallIndex == callIdx {
						result[template] = append(result[template], req)
					}
				}
				continue
			}
		}
		result[template] = reqs
	}
	s.templateRequestsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"requests_by_template": result,
	})
}

// numberedFileRe matches files like "tpl.echo.1.json", "tpl.echo.2.json".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// loadFixtures reads JSON files from dir and returns a map of template id to
// fixture sequence.
//
// For each template, fixtures are ordered:
//  1. Numbered files (template.1.json, template.2.json, ...) in numeric order
//  2. Base file (template.json) appended as the final fallback
func loadFixtures(dir string) (map[string][]fixture, error) {
	// template → fixture, and template → {index → fixture} for numbered files
	baseFiles := make(map[string]fixture)
	numberedFiles := make(map[string]map[int]fixture)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		var fx fixture
		if err := json.Unmarshal(data, &fx); err != nil {
			return fmt.Errorf("invalid fixture %s: %w", path, err)
		}

		// Check for numbered pattern: template.N.json
		if matches := numberedFileRe.FindStringSubmatch(info.Name()); matches != nil {
			template := matches[1]
			index, _ := strconv.Atoi(matches[2])
			if numberedFiles[template] == nil {
				numberedFiles[template] = make(map[int]fixture)
			}
			numberedFiles[template][index] = fx
			return nil
		}

		// Base file: template.json
		template := strings.TrimSuffix(info.Name(), ".json")
		baseFiles[template] = fx
		return nil
	})

	if err != nil {
		return nil, err
	}

	// Build ordered sequences
	fixtures := make(map[string][]fixture)

	allTemplates := make(map[string]bool)
	for tpl := range baseFiles {
		allTemplates[tpl] = true
	}
	for tpl := range numberedFiles {
		allTemplates[tpl] = true
	}

	for template := range allTemplates {
		var seq []fixture

		if numbered, ok := numberedFiles[template]; ok {
			indices := make([]int, 0, len(numbered))
			for idx := range numbered {
				indices = append(indices, idx)
			}
			sort.Ints(indices)

			for _, idx := range indices {
				seq = append(seq, numbered[idx])
			}
		}

		if base, ok := baseFiles[template]; ok {
			seq = append(seq, base)
		}

		if len(seq) > 0 {
			fixtures[template] = seq
		}
	}

	return fixtures, nil
}
