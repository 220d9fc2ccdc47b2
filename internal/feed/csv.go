package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"structure-engine/internal/market"
)

// LoadCSVFile reads bars from a CSV file. See ReadCSV for the format.
func LoadCSVFile(path string) ([]market.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses rows of time,open,high,low,close[,volume]. The time column
// is either unix milliseconds or RFC3339. A header row is skipped.
func ReadCSV(r io.Reader) ([]market.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var bars []market.Bar
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && isHeader(rec) {
			continue
		}
		if len(rec) < 5 {
			return nil, fmt.Errorf("line %d: want at least 5 columns, got %d", line, len(rec))
		}
		ts, err := parseTime(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var v [5]float64
		for i := 1; i < len(rec) && i <= 5; i++ {
			if v[i-1], err = strconv.ParseFloat(strings.TrimSpace(rec[i]), 64); err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+1, err)
			}
		}
		bars = append(bars, market.Bar{OpenTime: ts, Open: v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4]})
	}
	return bars, nil
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[1%len(rec)]), 64)
	return err != nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
