package config

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ayusman/glimmer/internal/light"
)

// LoadPoints reads light positions from path. Files starting with '[' are
// JSON arrays of [x, y, z]; anything else is CSV with one x,y,z row per
// light. Blank lines and lines starting with '#' are ignored.
func LoadPoints(path string) ([]light.Point, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lights: %w", err)
	}
	var points []light.Point
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &points); err != nil {
			return nil, fmt.Errorf("parse lights %s: %w", path, err)
		}
	} else {
		points, err = parseCSV(raw)
		if err != nil {
			return nil, fmt.Errorf("parse lights %s: %w", path, err)
		}
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("lights %s: no lights defined", path)
	}
	return points, nil
}

func parseCSV(raw []byte) ([]light.Point, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.Comment = '#'
	r.FieldsPerRecord = 3
	r.TrimLeadingSpace = true

	var points []light.Point
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return points, nil
		}
		if err != nil {
			return nil, err
		}
		var xyz [3]float64
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				line, _ := r.FieldPos(i)
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			xyz[i] = v
		}
		points = append(points, light.Point{X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}
}
