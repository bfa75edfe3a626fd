package feed

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/uhyunpark/chartreplay/pkg/candle"
)

// CSVSource reads <dir>/<SYMBOL>_<resolution>.csv, e.g. BTCUSDT_1m.csv.
type CSVSource struct {
	dir string
}

func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir}
}

func (s *CSVSource) Path(symbol string, res candle.Resolution) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", strings.ToUpper(symbol), res))
}

func (s *CSVSource) Candles(ctx context.Context, q Query) ([]candle.Candle, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path(q.Symbol, q.Resolution))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cs, err := ReadCSV(f)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return filter(cs, q), nil
}

// ReadCSV parses time,open,high,low,close rows. An optional header names the
// columns (time/timestamp/open_time_ms, open, high, low, close); without one
// the first five columns are used in that order. Times above 1e12 are taken
// as milliseconds. Invalid candles are dropped and the result is normalized.
func ReadCSV(r io.Reader) ([]candle.Candle, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	idx := [5]int{0, 1, 2, 3, 4}
	var out []candle.Candle
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && isHeader(rec) {
			idx, err = headerIndex(rec)
			if err != nil {
				return nil, err
			}
			continue
		}
		c, err := parseCSVRow(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return candle.Normalize(out), nil
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
	return err != nil
}

func headerIndex(rec []string) ([5]int, error) {
	idx := [5]int{-1, -1, -1, -1, -1}
	for i, h := range rec {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "time", "timestamp", "open_time", "open_time_ms", "date":
			idx[0] = i
		case "open", "o":
			idx[1] = i
		case "high", "h":
			idx[2] = i
		case "low", "l":
			idx[3] = i
		case "close", "c":
			idx[4] = i
		}
	}
	for _, v := range idx {
		if v < 0 {
			return idx, fmt.Errorf("csv header %v is missing a time/open/high/low/close column", rec)
		}
	}
	return idx, nil
}

func parseCSVRow(rec []string, idx [5]int) (candle.Candle, error) {
	var vals [5]float64
	for k, i := range idx {
		if i >= len(rec) {
			return candle.Candle{}, fmt.Errorf("expected at least %d columns, got %d", i+1, len(rec))
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil {
			return candle.Candle{}, err
		}
		vals[k] = v
	}
	t := int64(vals[0])
	if t > 1e12 {
		t /= 1000
	}
	return candle.Candle{Time: t, Open: vals[1], High: vals[2], Low: vals[3], Close: vals[4]}, nil
}

// WriteCSV writes candles with a header in the layout ReadCSV expects.
func WriteCSV(w io.Writer, cs []candle.Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close"}); err != nil {
		return err
	}
	for _, c := range cs {
		rec := []string{
			strconv.FormatInt(c.Time, 10),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
