package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// readInput returns the contents of path, or stdin for "" and "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// parseValues accepts a JSON array of numbers or plain text with numbers
// separated by commas, whitespace or newlines. Lines starting with '#' are
// comments.
func parseValues(data []byte) ([]float64, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("no values in input")
	}
	if trimmed[0] == '[' {
		var values []float64
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return nil, fmt.Errorf("parse JSON values: %w", err)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("no values in input")
		}
		return values, nil
	}

	var values []float64
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		for _, field := range strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ';' || r == ' ' || r == '\t'
		}) {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %q is not a number", line, field)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("line %d: %q is not a finite number", line, field)
			}
			values = append(values, v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no values in input")
	}
	return values, nil
}

// parseSubgroups reads one subgroup per line, or splits a flat series
// into consecutive subgroups of size n when n > 0.
func parseSubgroups(data []byte, n int) ([][]float64, error) {
	if n > 0 {
		values, err := parseValues(data)
		if err != nil {
			return nil, err
		}
		if len(values)%n != 0 {
			return nil, fmt.Errorf("%d values do not divide into subgroups of %d", len(values), n)
		}
		groups := make([][]float64, 0, len(values)/n)
		for i := 0; i < len(values); i += n {
			groups = append(groups, values[i:i+n])
		}
		return groups, nil
	}

	var groups [][]float64
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		values, err := parseValues([]byte(line))
		if err != nil {
			return nil, err
		}
		groups = append(groups, values)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("no subgroups in input")
	}
	return groups, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
