package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"logwarden/bootstrap"
	"logwarden/config"
	"logwarden/core"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	color.NoColor = true
}

// cliFixture runs commands against one on-disk data directory.
type cliFixture struct {
	t   *testing.T
	cfg *config.Config
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	cfg := &config.Config{
		DataPaths: config.DataPaths{DataDir: filepath.Join(t.TempDir(), "data")},
		ML: config.MLConfig{
			ModelName:     "cli_model",
			ModelStore:    config.ModelStoreSQLite,
			Contamination: 0.05,
			NumTrees:      100,
			SubsampleSize: 256,
			Seed:          42,
		},
		Severity: core.DefaultSeverityPolicy(),
		API: config.APIConfig{
			Host:      "127.0.0.1",
			Port:      8081,
			RateLimit: config.RateLimitConfig{RequestsPerSecond: 10, Burst: 10},
		},
		Worker: config.WorkerConfig{Count: 1, QueueSize: 4},
	}
	cfg.Detection.FilterCacheSize = 16
	cfg.Logging.Level = "error"
	cfg.ResolveDataPaths()
	return &cliFixture{t: t, cfg: cfg}
}

func (f *cliFixture) newApp(ctx context.Context, _ string) (*bootstrap.App, error) {
	logger := zap.NewNop()
	return bootstrap.NewAppWithConfig(ctx, f.cfg, logger, logger.Sugar())
}

// run executes the CLI with args and returns stdout.
func (f *cliFixture) run(args ...string) (string, error) {
	f.t.Helper()
	root := newRootCmd(&options{newApp: f.newApp})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// seed writes events directly through a short-lived app.
func (f *cliFixture) seed(events []core.Event) {
	f.t.Helper()
	app, err := f.newApp(context.Background(), "")
	require.NoError(f.t, err)
	defer app.Shutdown()
	require.NoError(f.t, app.Storage.EventStorage.InsertEvents(context.Background(), events))
}

func accessLog() []core.Event {
	base := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	events := make([]core.Event, 0, 31)
	for i := 0; i < 30; i++ {
		events = append(events, core.Event{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			ActorID:   "alice", Action: "read", Resource: "wiki", Status: "success",
		})
	}
	return append(events, core.Event{
		Timestamp: time.Date(2024, 6, 9, 3, 0, 0, 0, time.UTC),
		ActorID:   "mallory", Action: "delete", Resource: "payroll-db", Status: "failure",
	})
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const rulesYAML = `rules:
  - name: Deletes
    description: Any delete action
    active: true
    match_type: AND
    conditions:
      - field: action
        operator: "="
        value: delete
  - name: Broken
    active: true
    match_type: AND
    conditions:
      - field: password
        operator: "="
        value: x
`

func TestRulesImport_ReportsPerRuleOutcome(t *testing.T) {
	f := newCLIFixture(t)
	path := writeFile(t, "rules.yaml", rulesYAML)

	out, err := f.run("rules", "import", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 rules failed")
	assert.Contains(t, out, "✓ Deletes")
	assert.Contains(t, out, "✗ Broken")
	assert.Contains(t, out, "Imported: 1, Failed: 1")

	out, err = f.run("rules", "list", "--json")
	require.NoError(t, err)
	var rules []core.Rule
	require.NoError(t, json.Unmarshal([]byte(out), &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, "Deletes", rules[0].Name)
	assert.True(t, rules[0].Active)
}

func TestRulesImport_FileErrors(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("rules", "import", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = f.run("rules", "import", writeFile(t, "empty.yaml", "rules: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rules found")

	_, err = f.run("rules", "import", writeFile(t, "bad.yaml", "rules: [\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestRulesEnableDisable(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.run("rules", "import", writeFile(t, "rules.yaml", `rules:
  - name: Deletes
    active: true
    match_type: AND
    conditions:
      - field: action
        operator: "="
        value: delete
`))
	require.NoError(t, err)

	_, err = f.run("rules", "disable", "1")
	require.NoError(t, err)

	out, err := f.run("rules", "list", "--json")
	require.NoError(t, err)
	var rules []core.Rule
	require.NoError(t, json.Unmarshal([]byte(out), &rules))
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Active)

	_, err = f.run("rules", "enable", "1")
	require.NoError(t, err)

	_, err = f.run("rules", "enable", "999")
	assert.Error(t, err)

	_, err = f.run("rules", "enable", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid rule id")
}

func TestDetectionCommands_EndToEnd(t *testing.T) {
	f := newCLIFixture(t)
	f.seed(accessLog())
	_, err := f.run("rules", "import", writeFile(t, "rules.yaml", rulesYAML))
	require.Error(t, err) // Broken is rejected; Deletes is stored

	out, err := f.run("rules", "run", "--json")
	require.NoError(t, err)
	var runRes map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &runRes))
	assert.Equal(t, 1, runRes["new_alerts"])

	out, err = f.run("alerts", "--json")
	require.NoError(t, err)
	var alerts []core.Alert
	require.NoError(t, json.Unmarshal([]byte(out), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "mallory", alerts[0].ActorID)

	out, err = f.run("anomalies", "run", "--json")
	require.NoError(t, err)
	var anomalyRes struct {
		Events    int  `json:"events"`
		Anomalies int  `json:"anomalies"`
		Trained   bool `json:"trained"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &anomalyRes))
	assert.Equal(t, 31, anomalyRes.Events)
	assert.True(t, anomalyRes.Trained)
	assert.GreaterOrEqual(t, anomalyRes.Anomalies, 1)

	out, err = f.run("anomalies", "list", "--json")
	require.NoError(t, err)
	var anomalies []core.Anomaly
	require.NoError(t, json.Unmarshal([]byte(out), &anomalies))
	require.NotEmpty(t, anomalies)
	assert.Equal(t, "mallory", anomalies[0].ActorID)

	out, err = f.run("unified", "--json")
	require.NoError(t, err)
	var unified []core.UnifiedAlert
	require.NoError(t, json.Unmarshal([]byte(out), &unified))
	require.Len(t, unified, 1+len(anomalies))
	for i := 1; i < len(unified); i++ {
		assert.False(t, unified[i].Timestamp.After(unified[i-1].Timestamp), "unified alerts must be newest first")
	}

	out, err = f.run("anomalies", "retrain", "--json")
	require.NoError(t, err)
	var retrain retrainOutput
	require.NoError(t, json.Unmarshal([]byte(out), &retrain))
	assert.Equal(t, retrainOutput{TrainingSamples: 31, Retrained: true}, retrain)
}

func TestTableOutput(t *testing.T) {
	f := newCLIFixture(t)
	f.seed(accessLog())
	_, err := f.run("rules", "import", writeFile(t, "rules.yaml", rulesYAML))
	require.Error(t, err)

	out, err := f.run("rules", "run")
	require.NoError(t, err)
	assert.Contains(t, out, "1 new alert(s)")

	out, err = f.run("rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "RULES")
	assert.Contains(t, out, "action = 'delete'")

	out, err = f.run("unified")
	require.NoError(t, err)
	assert.Contains(t, out, "UNIFIED ALERTS")
	assert.Contains(t, out, "rule-1")
	assert.Contains(t, out, "Rule-Based")
}

func TestEmptyStore(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("anomalies", "run")
	require.NoError(t, err)
	assert.Contains(t, out, "No events to score")

	out, err = f.run("alerts")
	require.NoError(t, err)
	assert.Contains(t, out, "No alerts")

	out, err = f.run("anomalies", "retrain")
	require.NoError(t, err)
	assert.Contains(t, out, "model unchanged")

	out, err = f.run("anomalies", "retrain", "--json")
	require.NoError(t, err)
	var retrain retrainOutput
	require.NoError(t, json.Unmarshal([]byte(out), &retrain))
	assert.Equal(t, retrainOutput{}, retrain, "an empty store reports that nothing was retrained")
}

type retrainOutput struct {
	TrainingSamples int  `json:"training_samples"`
	Retrained       bool `json:"retrained"`
}

func TestConfigFlag_LoadsFile(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	cfgPath := writeFile(t, "logwarden.yaml", "data_paths:\n  data_dir: "+dataDir+"\nlogging:\n  level: error\n")

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "rules", "list", "--json"})
	require.NoError(t, root.Execute())
	assert.JSONEq(t, "[]", out.String())

	_, err := os.Stat(filepath.Join(dataDir, "logwarden.db"))
	assert.NoError(t, err)

	root = NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml"), "alerts"})
	assert.Error(t, root.Execute())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}
