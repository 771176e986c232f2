// Package scenario loads and validates the tabular data that drives POS scenarios.
//
// Two CSV resources back a Store:
//
//   - the scenarios file, one named test case per row
//   - the settings file, setting_name/setting_value/description rows
//
// Each resource is read at most once per process and cached for the process
// lifetime. There is no invalidation: picking up data edits requires a fresh
// process, so every run in a process sees the same frozen data snapshot.
//
// # Example
//
//	store := scenario.NewStore("data/test_scenarios.csv", "data/app_settings.csv")
//	row, err := store.GetScenario("basic_cash_sale")
//	if errors.Is(err, scenario.ErrNotFound) {
//	    // unknown scenario name
//	}
package scenario

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Store provides cached, read-only access to scenario rows and settings.
// All methods are safe for concurrent use.
type Store struct {
	scenariosPath string
	settingsPath  string
	logger        *slog.Logger

	scenariosOnce sync.Once
	scenarios     map[string]ScenarioRow
	invalid       map[string]error
	names         []string
	scenariosErr  error

	settingsOnce sync.Once
	settings     Settings
	settingsErr  error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used while loading resources.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With("component", "scenario_store")
	}
}

// NewStore creates a store backed by the given CSV files. Nothing is read until first use.
func NewStore(scenariosPath, settingsPath string, opts ...Option) *Store {
	s := &Store{
		scenariosPath: scenariosPath,
		settingsPath:  settingsPath,
		logger:        slog.Default().With("component", "scenario_store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadScenarios returns every valid scenario keyed by name.
// Rows that fail field validation are excluded here and reported by Invalid and GetScenario.
func (s *Store) LoadScenarios() (map[string]ScenarioRow, error) {
	s.scenariosOnce.Do(s.loadScenarios)
	if s.scenariosErr != nil {
		return nil, s.scenariosErr
	}
	out := make(map[string]ScenarioRow, len(s.scenarios))
	for name, row := range s.scenarios {
		out[name] = row.Clone()
	}
	return out, nil
}

// LoadSettings returns the settings resource.
func (s *Store) LoadSettings() (Settings, error) {
	s.settingsOnce.Do(s.loadSettings)
	if s.settingsErr != nil {
		return Settings{}, s.settingsErr
	}
	return s.settings, nil
}

// GetScenario resolves a scenario by name.
// Returns an error wrapping ErrNotFound when the name is absent and a
// *ValidationError when the row exists but is invalid.
func (s *Store) GetScenario(name string) (ScenarioRow, error) {
	s.scenariosOnce.Do(s.loadScenarios)
	if s.scenariosErr != nil {
		return ScenarioRow{}, s.scenariosErr
	}
	if err, bad := s.invalid[name]; bad {
		return ScenarioRow{}, err
	}
	row, ok := s.scenarios[name]
	if !ok {
		return ScenarioRow{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return row.Clone(), nil
}

// Names returns every scenario name, valid or not, in file order.
func (s *Store) Names() ([]string, error) {
	s.scenariosOnce.Do(s.loadScenarios)
	if s.scenariosErr != nil {
		return nil, s.scenariosErr
	}
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out, nil
}

// Invalid returns the validation error of every row that failed field validation.
func (s *Store) Invalid() (map[string]error, error) {
	s.scenariosOnce.Do(s.loadScenarios)
	if s.scenariosErr != nil {
		return nil, s.scenariosErr
	}
	out := make(map[string]error, len(s.invalid))
	for k, v := range s.invalid {
		out[k] = v
	}
	return out, nil
}

func (s *Store) loadScenarios() {
	records, err := readCSV(s.scenariosPath, RequiredColumns)
	if err != nil {
		s.scenariosErr = fmt.Errorf("loading scenarios: %w", err)
		return
	}

	s.scenarios = make(map[string]ScenarioRow, len(records))
	s.invalid = make(map[string]error)
	seen := make(map[string]bool, len(records))

	for i, rec := range records {
		name := strings.TrimSpace(rec[ColScenarioName])
		if name == "" {
			s.scenariosErr = fmt.Errorf("loading scenarios: %s row %d: empty %s", s.scenariosPath, i+2, ColScenarioName)
			return
		}
		if seen[name] {
			s.scenariosErr = fmt.Errorf("loading scenarios: %s row %d: duplicate scenario %q", s.scenariosPath, i+2, name)
			return
		}
		seen[name] = true
		s.names = append(s.names, name)

		row, err := parseRow(rec)
		if err != nil {
			s.invalid[name] = err
			s.logger.Warn("invalid scenario row", "scenario", name, "error", err)
			continue
		}
		s.scenarios[name] = row
	}

	s.logger.Info("loaded scenarios",
		"path", s.scenariosPath,
		"valid", len(s.scenarios),
		"invalid", len(s.invalid),
	)
}

func (s *Store) loadSettings() {
	records, err := readCSV(s.settingsPath, []string{ColSettingName, ColSettingValue})
	if err != nil {
		s.settingsErr = fmt.Errorf("loading settings: %w", err)
		return
	}

	rows := make(map[string]SettingRow, len(records))
	for i, rec := range records {
		name := strings.TrimSpace(rec[ColSettingName])
		if name == "" {
			s.settingsErr = fmt.Errorf("loading settings: %s row %d: empty %s", s.settingsPath, i+2, ColSettingName)
			return
		}
		if _, dup := rows[name]; dup {
			s.settingsErr = fmt.Errorf("loading settings: %s row %d: duplicate setting %q", s.settingsPath, i+2, name)
			return
		}
		rows[name] = SettingRow{
			Name:        name,
			Value:       strings.TrimSpace(rec[ColSettingValue]),
			Description: strings.TrimSpace(rec[ColDescription]),
		}
	}
	s.settings = Settings{rows: rows}

	s.logger.Info("loaded settings", "path", s.settingsPath, "count", len(rows))
}

// readCSV reads a headed CSV file into records keyed by column name.
func readCSV(path string, required []string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseCSV(f, path, required)
}

func parseCSV(r io.Reader, path string, required []string) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: missing header row", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[col] = true
	}
	var missing []string
	for _, col := range required {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: missing required column(s): %s", path, strings.Join(missing, ", "))
	}

	var records []map[string]string
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if isBlank(fields) {
			continue
		}
		rec := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(fields) {
				rec[col] = fields[i]
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func isBlank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
