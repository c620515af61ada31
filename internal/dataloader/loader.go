// Package dataloader turns the raw anime catalogue into the processed CSV
// consumed by the vector-store builder.
package dataloader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"animerec/internal/apperr"
	"animerec/internal/logging"
)

// Column names after normalization.
const (
	ColumnName     = "name"
	ColumnGenres   = "genres"
	ColumnSynopsis = "synopsis"
	ColumnCombined = "combined_info"
)

var requiredColumns = []string{ColumnName, ColumnGenres, ColumnSynopsis}

// columnTypos maps frequent misspellings to their canonical column name.
var columnTypos = map[string]string{
	"synopsys":  ColumnSynopsis,
	"sypnopsis": ColumnSynopsis,
	"genre":     ColumnGenres,
	"title":     ColumnName,
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// ErrEmptyInput is the cause reported for a raw file with no data rows.
var ErrEmptyInput = errors.New("raw input is empty")

// Loader reads a raw CSV (or .xlsx) catalogue and writes the processed CSV.
type Loader struct {
	rawPath       string
	processedPath string
	log           zerolog.Logger
}

func New(rawPath, processedPath string) *Loader {
	return &Loader{
		rawPath:       rawPath,
		processedPath: processedPath,
		log:           logging.Component("dataloader"),
	}
}

// table is a header plus rows, every row as wide as the header.
type table struct {
	header []string
	rows   [][]string
}

// LoadAndProcess normalizes and validates the raw file, then writes one
// combined_info row per input row and returns the processed path. Nothing is
// written unless every step succeeds.
func (l *Loader) LoadAndProcess(ctx context.Context) (string, error) {
	fail := func(msg string, err error) (string, error) {
		return "", apperr.New(apperr.KindDataProcessing, msg, err).
			With("path", l.rawPath)
	}

	t, err := l.read()
	if err != nil {
		if errors.Is(err, ErrEmptyInput) {
			return fail("empty input file", err)
		}
		return fail("read raw data", err)
	}
	if err := ctx.Err(); err != nil {
		return fail("cancelled", err)
	}

	// Columns are checked before emptiness so a header-only file with the
	// wrong schema reports the missing columns.
	l.normalizeHeader(t)
	index, err := validate(t)
	if err != nil {
		return fail("validate raw data", err)
	}
	if len(t.rows) == 0 {
		return fail("empty input file", ErrEmptyInput)
	}
	l.warnNulls(t, index)

	combined := make([]string, len(t.rows))
	for i, row := range t.rows {
		combined[i] = Combine(row[index[ColumnName]], row[index[ColumnSynopsis]], row[index[ColumnGenres]])
	}

	if err := writeAtomic(l.processedPath, combined); err != nil {
		return "", apperr.New(apperr.KindDataProcessing, "write processed data", err).
			With("path", l.processedPath)
	}
	l.log.Info().
		Int("rows", len(combined)).
		Str("raw_path", l.rawPath).
		Str("processed_path", l.processedPath).
		Msg("processed data written")
	return l.processedPath, nil
}

// Combine renders one processed record.
func Combine(name, synopsis, genres string) string {
	return fmt.Sprintf("Title: %s | Overview: %s | Genres: %s",
		strings.TrimSpace(name), strings.TrimSpace(synopsis), strings.TrimSpace(genres))
}

// NormalizeColumn trims, strips a byte-order mark, replaces whitespace runs
// with "_" and lowercases.
func NormalizeColumn(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\ufeff", ""))
	return strings.ToLower(whitespaceRun.ReplaceAllString(name, "_"))
}

func (l *Loader) read() (*table, error) {
	if strings.EqualFold(filepath.Ext(l.rawPath), ".xlsx") {
		return l.readXLSX()
	}
	return l.readCSV()
}

func (l *Loader) readCSV() (*table, error) {
	f, err := os.Open(l.rawPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	t := &table{header: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				l.log.Warn().Int("line", pe.Line).Err(pe.Err).Msg("skipping malformed line")
				continue
			}
			return nil, err
		}
		if row, ok := l.fit(rec, len(header)); ok {
			t.rows = append(t.rows, row)
		}
	}
	return t, nil
}

// readXLSX reads the first sheet of a workbook.
func (l *Loader) readXLSX() (*table, error) {
	f, err := excelize.OpenFile(l.rawPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyInput
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyInput
	}
	t := &table{header: rows[0]}
	for _, rec := range rows[1:] {
		if row, ok := l.fit(rec, len(t.header)); ok {
			t.rows = append(t.rows, row)
		}
	}
	return t, nil
}

// fit pads short rows with empty fields. Rows wider than the header are
// malformed and skipped with a warning.
func (l *Loader) fit(rec []string, width int) ([]string, bool) {
	switch {
	case len(rec) > width:
		l.log.Warn().Int("fields", len(rec)).Int("expected", width).Msg("skipping malformed line")
		return nil, false
	case len(rec) < width:
		padded := make([]string, width)
		copy(padded, rec)
		return padded, true
	default:
		return rec, true
	}
}

func (l *Loader) normalizeHeader(t *table) {
	present := make(map[string]bool, len(t.header))
	for i, h := range t.header {
		t.header[i] = NormalizeColumn(h)
		present[t.header[i]] = true
	}
	for i, h := range t.header {
		canonical, ok := columnTypos[h]
		if !ok || present[canonical] {
			continue
		}
		l.log.Info().Str("from", h).Str("to", canonical).Msg("renamed column")
		t.header[i] = canonical
		present[canonical] = true
	}
}

// validate returns the position of each required column, first occurrence wins.
func validate(t *table) (map[string]int, error) {
	index := make(map[string]int, len(t.header))
	for i, h := range t.header {
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		available := append([]string(nil), t.header...)
		sort.Strings(available)
		return nil, fmt.Errorf("missing required columns %v (available: %v)", missing, available)
	}
	return index, nil
}

// warnNulls logs, per required column, how many rows are blank. Such rows are
// kept and render as empty text in combined_info.
func (l *Loader) warnNulls(t *table, index map[string]int) {
	for _, c := range requiredColumns {
		n := 0
		for _, row := range t.rows {
			if strings.TrimSpace(row[index[c]]) == "" {
				n++
			}
		}
		if n > 0 {
			l.log.Warn().Str("column", c).Int("count", n).Msg("null values in required column")
		}
	}
}

// writeAtomic writes the processed CSV to a temp file next to path and renames
// it into place.
func writeAtomic(path string, combined []string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".processed-*.csv")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	if err = w.Write([]string{ColumnCombined}); err != nil {
		return err
	}
	for _, c := range combined {
		if err = w.Write([]string{c}); err != nil {
			return err
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
