package scenario

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// ErrDuplicate is returned when appending a scenario whose name already exists.
var ErrDuplicate = errors.New("scenario already exists")

// AllColumns is the header written when AppendScenario creates a new file.
var AllColumns = append(append([]string{}, RequiredColumns...), ColPromotionDiscount, ColCurrency)

// AppendScenario validates rec and appends it to the scenarios CSV at path,
// creating the file with a full header if it does not exist.
//
// The file is re-read to check for duplicate names. Stores already holding a
// cached copy of the file are not refreshed.
func AppendScenario(path string, rec map[string]string) error {
	row, err := parseRow(rec)
	if err != nil {
		return err
	}

	header := AllColumns
	existing, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		existing = nil
	case err != nil:
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if len(existing) > 0 {
		header, err = readHeader(existing, path)
		if err != nil {
			return err
		}
		records, err := parseCSV(strings.NewReader(string(existing)), path, RequiredColumns)
		if err != nil {
			return err
		}
		for _, r := range records {
			if strings.TrimSpace(r[ColScenarioName]) == row.Name {
				return fmt.Errorf("%w: %q", ErrDuplicate, row.Name)
			}
		}
		for col, v := range rec {
			if strings.TrimSpace(v) != "" && !slices.Contains(header, col) {
				return fmt.Errorf("%s: column %q is not in the file header", path, col)
			}
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		if _, err := f.WriteString("\n"); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}

	w := csv.NewWriter(f)
	if len(existing) == 0 {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	fields := make([]string, len(header))
	for i, col := range header {
		fields[i] = rec[col]
	}
	if err := w.Write(fields); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func readHeader(data []byte, path string) ([]string, error) {
	header, err := csv.NewReader(strings.NewReader(string(data))).Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: missing header row", path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	return header, nil
}
