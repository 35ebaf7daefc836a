// Package projection shrinks a crawl output file to the fields needed for
// review, streaming so large result files never sit in memory.
package projection

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Summary is the projected form of one crawler.PageRecord.
type Summary struct {
	Domain           string `json:"domain"`
	URL              string `json:"url"`
	Title            string `json:"title"`
	ExtractionMethod string `json:"extractionMethod"`
}

// Trim reads a JSON array of page records from r and writes the array of
// their summaries to w, two-space indented. It returns how many records it
// projected.
func Trim(r io.Reader, w io.Writer) (int, error) {
	dec := json.NewDecoder(bufio.NewReader(r))
	tok, err := dec.Token()
	if err != nil {
		return 0, fmt.Errorf("read array start: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return 0, errors.New("input must be a JSON array")
	}

	out := bufio.NewWriter(w)
	if _, err := out.WriteString("[\n"); err != nil {
		return 0, fmt.Errorf("write output: %w", err)
	}
	count := 0
	for dec.More() {
		var rec Summary
		if err := dec.Decode(&rec); err != nil {
			return count, fmt.Errorf("decode record %d: %w", count, err)
		}
		body, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return count, fmt.Errorf("encode record %d: %w", count, err)
		}
		if count > 0 {
			if _, err := out.WriteString(",\n"); err != nil {
				return count, fmt.Errorf("write output: %w", err)
			}
		}
		if _, err := out.Write(body); err != nil {
			return count, fmt.Errorf("write output: %w", err)
		}
		count++
	}
	if _, err := dec.Token(); err != nil {
		return count, fmt.Errorf("read array end: %w", err)
	}
	if _, err := out.WriteString("\n]\n"); err != nil {
		return count, fmt.Errorf("write output: %w", err)
	}
	if err := out.Flush(); err != nil {
		return count, fmt.Errorf("flush output: %w", err)
	}
	return count, nil
}
