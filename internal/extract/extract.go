package extract

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/joseph-ayodele/doc-enricher/internal/common"
)

var (
	jsonFenceRe = regexp.MustCompile("(?is)```[ \t]*json[^\n]*\n(.*?)```")
	anyFenceRe  = regexp.MustCompile("(?s)```[^\n]*\n(.*?)```")
)

// Method names the strategy that located the object.
type Method string

const (
	MethodJSONFence Method = "json_fence"
	MethodAnyFence  Method = "any_fence"
	MethodBraceScan Method = "brace_scan"
)

// Object finds the first JSON object in free-form model output. It tries,
// in order: fenced blocks tagged json, any fenced block, then the first
// top-level balanced {...} span that parses. Numbers are kept as json.Number.
func Object(text string) (map[string]any, Method, error) {
	for _, m := range jsonFenceRe.FindAllStringSubmatch(text, -1) {
		if obj, ok := parseObject(m[1]); ok {
			return obj, MethodJSONFence, nil
		}
	}
	for _, m := range anyFenceRe.FindAllStringSubmatch(text, -1) {
		if obj, ok := parseObject(m[1]); ok {
			return obj, MethodAnyFence, nil
		}
	}
	// Only top-level spans are candidates: a span that fails to parse is
	// skipped whole, never searched for inner objects.
	for start := strings.IndexByte(text, '{'); start >= 0; {
		end, ok := balancedEnd(text, start)
		if !ok {
			break
		}
		if obj, ok := parseObject(text[start:end]); ok {
			return obj, MethodBraceScan, nil
		}
		next := strings.IndexByte(text[end:], '{')
		if next < 0 {
			break
		}
		start = end + next
	}
	return nil, "", common.ExtractionError("no JSON object found")
}

// balancedEnd returns the index just past the '}' closing the object that
// opens at start. Braces inside JSON strings are ignored.
func balancedEnd(s string, start int) (int, bool) {
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func parseObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	// Trailing garbage after the object means the span was not an object.
	if dec.More() {
		return nil, false
	}
	return obj, true
}

// Canonical serializes an extracted object with sorted keys and no HTML
// escaping, so identical objects always produce identical bytes.
func Canonical(obj map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
