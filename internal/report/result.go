package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ResultPrefix marks the machine-readable summary line on stdout
const ResultPrefix = "RESULT_JSON:"

// Summary is the batch outcome handed back to the caller
type Summary struct {
	Added  int      `json:"added"`
	Failed []string `json:"failed"`
	Logs   []string `json:"logs"`
	Output string   `json:"output"`
}

// NewSummary returns an empty summary for the given output table
func NewSummary(output string) *Summary {
	return &Summary{
		Failed: []string{},
		Logs:   []string{},
		Output: output,
	}
}

// Logf appends a progress line
func (s *Summary) Logf(format string, args ...interface{}) {
	s.Logs = append(s.Logs, fmt.Sprintf(format, args...))
}

// Fail records a per-file failure reason
func (s *Summary) Fail(reason string) {
	s.Failed = append(s.Failed, reason)
}

// MarshalASCII encodes the summary as compact JSON with every non-ASCII
// character written as a \u escape
func (s *Summary) MarshalASCII() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return escapeNonASCII(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// WriteResultLine writes the RESULT_JSON line followed by a newline
func WriteResultLine(w io.Writer, s *Summary) error {
	data, err := s.MarshalASCII()
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s%s\n", ResultPrefix, data)
	return err
}

// ParseResultLine finds the RESULT_JSON line in output and decodes it
func ParseResultLine(output string) (*Summary, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, ResultPrefix) {
			continue
		}
		var s Summary
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, ResultPrefix)), &s); err != nil {
			return nil, fmt.Errorf("invalid result line: %w", err)
		}
		return &s, nil
	}
	return nil, fmt.Errorf("no %s line in output", ResultPrefix)
}

func escapeNonASCII(data []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r < utf8.RuneSelf {
			out.WriteByte(data[0])
		} else if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			fmt.Fprintf(&out, `\u%04x\u%04x`, r1, r2)
		} else {
			fmt.Fprintf(&out, `\u%04x`, r)
		}
		data = data[size:]
	}
	return out.Bytes()
}
