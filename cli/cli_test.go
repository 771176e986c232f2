package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/posrunner/logging"
	"github.com/nomis52/posrunner/report"
)

const scenariosCSV = `scenario_name,user_name,password,ean_code,item_name,expected_price,cash_tender_amount,loyalty_number,promotion_code,quantity
basic_cash_sale,cashier1,1234,5000112637922,Milk,5.99,50.00,,,1
promo_sale,cashier1,1234,111,Bread,2.50,20.00,,SAVE1,2
wrong_price,cashier1,1234,5000112637922,Milk,4.99,50.00,,,1
no_tender,cashier1,1234,111,Bread,2.50,,,,1
`

const settingsCSV = `setting_name,setting_value,description
POS_LAUNCH_PATH,C:\POS\pos.exe,Launch path
POS_STARTUP_WAIT,0,Seconds to wait after launch
POS_APP_TITLE,Retail POS,Main window title
DEFAULT_TIMEOUT,0.2,Control timeout
SCREENSHOT_ON_FAILURE,true,Capture on failure
REPORT_TITLE,Store 12 Nightly,Report heading
`

type fixture struct {
	dir    string
	config string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	write("scenarios.csv", scenariosCSV)
	write("settings.csv", settingsCSV)

	cfg := `data:
  scenarios: ` + filepath.Join(dir, "scenarios.csv") + `
  settings: ` + filepath.Join(dir, "settings.csv") + `
engine:
  interstitial_timeout: 10ms
evidence:
  dir: ` + filepath.Join(dir, "evidence") + `
report:
  dir: ` + filepath.Join(dir, "reports") + `
history:
  dir: ` + filepath.Join(dir, "history") + `
`
	return &fixture{dir: dir, config: write("config.yaml", cfg)}
}

// run executes the command line and returns its exit status and stdout.
func (f *fixture) run(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(&RootOptions{Logger: logging.Discard()})
	cmd.SetArgs(append([]string{"--config", f.config}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	if err != nil {
		out.WriteString(err.Error())
	}
	return ExitCode(err), out.String()
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "passing scenarios", args: []string{"run", "basic_cash_sale", "promo_sale"}, want: report.ExitPassed},
		{name: "price mismatch", args: []string{"run", "wrong_price"}, want: report.ExitFailed},
		{name: "invalid row wins", args: []string{"run", "wrong_price", "no_tender"}, want: report.ExitConfigError},
		{name: "unknown scenario", args: []string{"run", "nope"}, want: report.ExitConfigError},
		{name: "all", args: []string{"run", "all", "--no-evidence"}, want: report.ExitConfigError},
		{name: "bad filter", args: []string{"run", "all", "--filter", "quantity >"}, want: report.ExitConfigError},
		{name: "filter without all", args: []string{"run", "promo_sale", "--filter", "quantity > 1"}, want: report.ExitConfigError},
		{name: "no args", args: []string{"run"}, want: report.ExitConfigError},
		{name: "conflicting evidence flags", args: []string{"run", "all", "--evidence", "--no-evidence"}, want: report.ExitConfigError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			code, out := f.run(t, tt.args...)
			assert.Equal(t, tt.want, code, out)
		})
	}
}

func TestRun_WritesReportsEvidenceAndHistory(t *testing.T) {
	f := newFixture(t)

	code, out := f.run(t, "run", "basic_cash_sale", "wrong_price", "--parallel", "2")
	require.Equal(t, report.ExitFailed, code, out)
	assert.Contains(t, out, "2 scenarios: 1 passed, 1 failed, 0 errors")
	assert.Contains(t, out, "VerificationMismatch")

	reports, err := filepath.Glob(filepath.Join(f.dir, "reports", "*.json"))
	require.NoError(t, err)
	assert.Len(t, reports, 3, "two run documents and one batch summary")

	batches, err := filepath.Glob(filepath.Join(f.dir, "reports", "batch_*.json"))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	data, err := os.ReadFile(batches[0])
	require.NoError(t, err)
	var b report.Batch
	require.NoError(t, json.Unmarshal(data, &b))
	assert.Equal(t, "Store 12 Nightly", b.Title)
	assert.Equal(t, 1, b.Failed)

	snapshots, err := filepath.Glob(filepath.Join(f.dir, "evidence", "*", "*.png"))
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)

	code, out = f.run(t, "history", "--failed")
	require.Equal(t, report.ExitPassed, code, out)
	assert.Contains(t, out, "wrong_price")
	assert.NotContains(t, out, "basic_cash_sale")

	id := strings.Fields(strings.Split(out, "\n")[1])[0]
	code, out = f.run(t, "history", id)
	require.Equal(t, report.ExitPassed, code, out)
	var run report.Run
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, "wrong_price", run.Scenario)
	assert.Equal(t, "4.99", run.Expected)
	assert.Equal(t, "5.99", run.Observed)
}

func TestRun_NoEvidence(t *testing.T) {
	f := newFixture(t)
	code, _ := f.run(t, "run", "wrong_price", "--no-evidence")
	require.Equal(t, report.ExitFailed, code)

	snapshots, err := filepath.Glob(filepath.Join(f.dir, "evidence", "*", "*.png"))
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestScenarios(t *testing.T) {
	f := newFixture(t)

	code, out := f.run(t, "scenarios", "list")
	require.Equal(t, report.ExitPassed, code, out)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[1], "basic_cash_sale"))
	assert.Contains(t, lines[2], "SAVE1")
	assert.True(t, strings.HasSuffix(lines[4], "no"))

	code, out = f.run(t, "scenarios", "show", "promo_sale")
	require.Equal(t, report.ExitPassed, code, out)
	assert.Contains(t, out, "promotion_code: SAVE1")
	assert.Contains(t, out, "quantity: 2")
	assert.NotContains(t, out, "1234")

	code, _ = f.run(t, "scenarios", "show", "nope")
	assert.Equal(t, report.ExitConfigError, code)

	code, out = f.run(t, "scenarios", "validate", "basic_cash_sale")
	assert.Equal(t, report.ExitPassed, code, out)
	code, out = f.run(t, "scenarios", "validate")
	assert.Equal(t, report.ExitConfigError, code)
	assert.Contains(t, out, "no_tender")
}

func TestScenariosAdd(t *testing.T) {
	f := newFixture(t)

	code, out := f.run(t, "scenarios", "add", "two_items",
		"--user-name", "cashier1", "--password", "1234",
		"--ean-code", "5000112637922;111", "--item-name", "Milk;Bread",
		"--expected-price", "5.99;2.50", "--quantity", "1;2", "--cash-tender-amount", "20.00")
	require.Equal(t, report.ExitPassed, code, out)

	code, out = f.run(t, "run", "two_items")
	assert.Equal(t, report.ExitPassed, code, out)

	code, _ = f.run(t, "scenarios", "add", "two_items", "--user-name", "x", "--password", "y",
		"--ean-code", "1", "--item-name", "A", "--expected-price", "1.00", "--quantity", "1", "--cash-tender-amount", "1.00")
	assert.Equal(t, report.ExitConfigError, code, "duplicate name")

	code, _ = f.run(t, "scenarios", "add", "broken", "--user-name", "x")
	assert.Equal(t, report.ExitConfigError, code)
}

func TestSettings(t *testing.T) {
	f := newFixture(t)
	code, out := f.run(t, "settings")
	require.Equal(t, report.ExitPassed, code, out)
	assert.Contains(t, out, "POS_APP_TITLE")
	assert.Contains(t, out, "Retail POS")
}

func TestHistory_RequiresDir(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	cmd := NewRootCommand(&RootOptions{Logger: logging.Discard()})
	cmd.SetArgs([]string{
		"--scenarios", filepath.Join(f.dir, "scenarios.csv"),
		"--settings", filepath.Join(f.dir, "settings.csv"),
		"history",
	})
	cmd.SetOut(&out)
	assert.Equal(t, report.ExitConfigError, ExitCode(cmd.Execute()))
}

func TestBadConfig(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.config, []byte("driver:\n  kind: robot\n"), 0o644))
	code, out := f.run(t, "scenarios", "list")
	assert.Equal(t, report.ExitConfigError, code)
	assert.Contains(t, out, "driver.kind")
}

func TestExecute(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, report.ExitPassed, Execute([]string{"version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "posrunner dev")

	stdout.Reset()
	assert.Equal(t, report.ExitConfigError, Execute([]string{"frobnicate"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unknown command")
}
