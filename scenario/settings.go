package scenario

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Setting keys understood by the engine.
const (
	SettingLaunchPath          = "POS_LAUNCH_PATH"
	SettingStartupWait         = "POS_STARTUP_WAIT"
	SettingAppTitle            = "POS_APP_TITLE"
	SettingDefaultTimeout      = "DEFAULT_TIMEOUT"
	SettingScreenshotOnFailure = "SCREENSHOT_ON_FAILURE"
	SettingTitleRegex          = "POS_TITLE_REGEX"
	SettingReportTitle         = "REPORT_TITLE"
	SettingTotalTolerance      = "TOTAL_TOLERANCE"
	SettingCurrency            = "CURRENCY"
)

// Settings CSV column names.
const (
	ColSettingName  = "setting_name"
	ColSettingValue = "setting_value"
	ColDescription  = "description"
)

const (
	defaultReportTitle    = "POS Automation Test Report"
	defaultTotalTolerance = "0.01"
	defaultCurrency       = "USD"
)

// RequiredSettings must resolve to a non-empty value before any UI interaction.
var RequiredSettings = []string{
	SettingLaunchPath,
	SettingStartupWait,
	SettingAppTitle,
	SettingDefaultTimeout,
}

// ErrMissingSetting is wrapped by errors for absent or empty required settings.
var ErrMissingSetting = errors.New("missing required setting")

// SettingRow is one key/value entry from the settings resource.
type SettingRow struct {
	Name        string
	Value       string
	Description string
}

// Settings is the environment-level configuration keyed by setting name.
type Settings struct {
	rows map[string]SettingRow
}

// NewSettings builds Settings from key/value pairs. Intended for tests and
// for applying command-line overrides on top of loaded settings.
func NewSettings(values map[string]string) Settings {
	s := Settings{rows: make(map[string]SettingRow, len(values))}
	for k, v := range values {
		s.rows[k] = SettingRow{Name: k, Value: v}
	}
	return s
}

// With returns a copy of the settings with key set to value.
func (s Settings) With(key, value string) Settings {
	out := Settings{rows: make(map[string]SettingRow, len(s.rows)+1)}
	for k, v := range s.rows {
		out.rows[k] = v
	}
	row := out.rows[key]
	row.Name = key
	row.Value = value
	out.rows[key] = row
	return out
}

// Get returns the raw value for key and whether it is present.
func (s Settings) Get(key string) (string, bool) {
	row, ok := s.rows[key]
	return row.Value, ok
}

// Rows returns all settings sorted by name.
func (s Settings) Rows() []SettingRow {
	rows := make([]SettingRow, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

// Validate checks that every required setting resolves to a non-empty value
// and that typed settings parse. All problems are reported together.
func (s Settings) Validate() error {
	var errs []error
	for _, key := range RequiredSettings {
		if v, _ := s.Get(key); strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingSetting, key))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, key := range []string{SettingStartupWait, SettingDefaultTimeout} {
		if _, err := s.Duration(key); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := s.TotalTolerance(); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.ScreenshotOnFailure(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// maxDurationSeconds is the largest number of seconds a time.Duration holds.
const maxDurationSeconds = float64(math.MaxInt64) / float64(time.Second)

// Duration parses key as a duration. Bare integers and decimals are seconds,
// matching the settings files used by the POS team ("POS_STARTUP_WAIT,10").
func (s Settings) Duration(key string) (time.Duration, error) {
	v, _ := s.Get(key)
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("%w: %s", ErrMissingSetting, key)
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		switch {
		case math.IsNaN(secs) || math.IsInf(secs, 0):
			return 0, fmt.Errorf("setting %s: invalid duration %q", key, v)
		case secs < 0:
			return 0, fmt.Errorf("setting %s: negative duration %q", key, v)
		case secs >= maxDurationSeconds:
			return 0, fmt.Errorf("setting %s: duration %q out of range", key, v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("setting %s: invalid duration %q", key, v)
	}
	if d < 0 {
		return 0, fmt.Errorf("setting %s: negative duration %q", key, v)
	}
	return d, nil
}

// LaunchPath is the application launch locator.
func (s Settings) LaunchPath() string {
	v, _ := s.Get(SettingLaunchPath)
	return v
}

// AppTitle is the expected main-window title.
func (s Settings) AppTitle() string {
	v, _ := s.Get(SettingAppTitle)
	return v
}

// TitleRegex is an optional main-window title pattern; empty when unset.
func (s Settings) TitleRegex() string {
	v, _ := s.Get(SettingTitleRegex)
	return v
}

// StartupWait is the grace period granted to a freshly launched application.
func (s Settings) StartupWait() (time.Duration, error) {
	return s.Duration(SettingStartupWait)
}

// DefaultTimeout bounds control resolution when a step has no override.
func (s Settings) DefaultTimeout() (time.Duration, error) {
	return s.Duration(SettingDefaultTimeout)
}

// ScreenshotOnFailure reports whether evidence capture is enabled. Defaults to true.
func (s Settings) ScreenshotOnFailure() (bool, error) {
	v, ok := s.Get(SettingScreenshotOnFailure)
	if !ok || strings.TrimSpace(v) == "" {
		return true, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("setting %s: invalid boolean %q", SettingScreenshotOnFailure, v)
	}
	return b, nil
}

// ReportTitle is the human title stamped on report documents.
func (s Settings) ReportTitle() string {
	if v, ok := s.Get(SettingReportTitle); ok && v != "" {
		return v
	}
	return defaultReportTitle
}

// Currency is the default currency for rows that do not name one.
func (s Settings) Currency() string {
	if v, ok := s.Get(SettingCurrency); ok && v != "" {
		return v
	}
	return defaultCurrency
}

// TotalTolerance is the largest acceptable difference between expected and displayed totals.
func (s Settings) TotalTolerance() (apd.Decimal, error) {
	v, ok := s.Get(SettingTotalTolerance)
	if !ok || strings.TrimSpace(v) == "" {
		v = defaultTotalTolerance
	}
	d, err := ParseAmount(v)
	if err != nil {
		return d, fmt.Errorf("setting %s: %w", SettingTotalTolerance, err)
	}
	return d, nil
}
