//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/mealclarify/pkg/client"
)

const e2eAPIKey = "e2e-test-api-key"

// modelReply is one scripted chat completion. A non-zero status makes the
// fake model fail with that HTTP status.
type modelReply struct {
	status  int
	content string
}

// fakeModel is an OpenAI-compatible chat completions endpoint that answers
// from a script. When the script runs out it repeats the last reply.
type fakeModel struct {
	mu      sync.Mutex
	script  []modelReply
	calls   int
	prompts []string
	srv     *httptest.Server
}

func newFakeModel(t *testing.T) *fakeModel {
	t.Helper()
	m := &fakeModel{}
	m.srv = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *fakeModel) baseURL() string {
	return m.srv.URL + "/v1/"
}

func (m *fakeModel) reply(replies ...modelReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, replies...)
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *fakeModel) serve(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}

	var body struct {
		Messages []struct {
			Content any `json:"content"`
		} `json:"messages"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	m.mu.Lock()
	m.calls++
	if n := len(body.Messages); n > 0 {
		raw, _ := json.Marshal(body.Messages[n-1].Content)
		m.prompts = append(m.prompts, string(raw))
	}
	var rep modelReply
	switch {
	case len(m.script) > 1:
		rep, m.script = m.script[0], m.script[1:]
	case len(m.script) == 1:
		rep = m.script[0]
	default:
		rep = modelReply{status: http.StatusInternalServerError}
	}
	m.mu.Unlock()

	if rep.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rep.status)
		_, _ = w.Write([]byte(`{"error":{"message":"scripted failure","type":"server_error"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-e2e",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": rep.content},
		}},
	})
}

// uncertainMeal is a model answer that asks the user about one item.
func uncertainMeal(item, reason string) modelReply {
	return modelReply{content: fmt.Sprintf(`{
		"items": [{"name": "pasta", "quantity": "1 plate", "nutrition": {"calories": 450, "protein": 14, "carbs": 80, "fat": 8}}],
		"uncertainty": {"has_uncertainty": true, "uncertain_items": [%q], "uncertainty_reasons": [%q]}
	}`, item, reason)}
}

// resolvedMeal is a confident model answer.
func resolvedMeal(name string, calories float64) modelReply {
	return modelReply{content: fmt.Sprintf(`{
		"items": [{"name": %q, "nutrition": {"calories": %g}}],
		"uncertainty": {"has_uncertainty": false, "uncertain_items": [], "uncertainty_reasons": []}
	}`, name, calories)}
}

// mealServer manages a running mealclarify server process.
type mealServer struct {
	cmd     *exec.Cmd
	dataDir string
	address string
	model   *fakeModel
	logFile *os.File
}

// startServer launches the binary against a fresh data directory.
func startServer(t *testing.T, model *fakeModel) *mealServer {
	t.Helper()
	requireBinary(t)
	return launch(t, t.TempDir(), model)
}

// launch starts the binary on a free port. Configuration is passed entirely
// through the environment.
func launch(t *testing.T, dataDir string, model *fakeModel) *mealServer {
	t.Helper()

	port := freePort(t)
	cmd := exec.Command(mealclarifyBin)
	cmd.Env = append(os.Environ(), serverEnv(dataDir, port, model)...)

	lf, err := os.CreateTemp(dataDir, "mealclarify-*.log")
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	cmd.Stdout = lf
	cmd.Stderr = lf

	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start mealclarify: %v", err)
	}

	s := &mealServer{
		cmd:     cmd,
		dataDir: dataDir,
		address: fmt.Sprintf("127.0.0.1:%d", port),
		model:   model,
		logFile: lf,
	}
	t.Cleanup(func() {
		s.stop()
		lf.Close()
	})

	if err := s.waitHealthy(10 * time.Second); err != nil {
		log, _ := os.ReadFile(lf.Name())
		t.Fatalf("mealclarify not healthy: %v\n%s", err, log)
	}
	return s
}

func serverEnv(dataDir string, port int, model *fakeModel) []string {
	return []string{
		fmt.Sprintf("MEALCLARIFY_PORT=%d", port),
		"MEALCLARIFY_DB_PATH=" + filepath.Join(dataDir, "mealclarify.db"),
		"MEALCLARIFY_API_KEY=" + e2eAPIKey,
		"MEALCLARIFY_CONFIG_PATH=" + filepath.Join(dataDir, "nonexistent.yaml"),
		"MEALCLARIFY_ANALYSIS_BASE_URL=" + model.baseURL(),
		"MEALCLARIFY_LOG_FORMAT=json",
		"MEALCLARIFY_SNAPSHOT_INTERVAL=0s",
		"OPENAI_API_KEY=sk-e2e",
	}
}

func (s *mealServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil && s.cmd.ProcessState == nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
	}
}

// restartOnSameData stops the server and starts a new process over the
// same database.
func (s *mealServer) restartOnSameData(t *testing.T) *mealServer {
	t.Helper()
	s.stop()
	time.Sleep(200 * time.Millisecond)
	return launch(t, s.dataDir, s.model)
}

func (s *mealServer) baseURL() string {
	return "http://" + s.address
}

func (s *mealServer) dbPath() string {
	return filepath.Join(s.dataDir, "mealclarify.db")
}

func (s *mealServer) client(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.New(client.Config{BaseURL: s.baseURL(), APIKey: e2eAPIKey, Timeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return c
}

func (s *mealServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := s.baseURL() + "/api/v1/health"

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("not healthy after %s", timeout)
}

// cli runs an offline subcommand against the server's database.
func (s *mealServer) cli(t *testing.T, args ...string) (string, error) {
	t.Helper()
	args = append(args, "--db", s.dbPath())
	cmd := exec.Command(mealclarifyBin, args...)
	cmd.Env = append(os.Environ(),
		"MEALCLARIFY_CONFIG_PATH="+filepath.Join(s.dataDir, "nonexistent.yaml"),
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// freePort returns a free TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
