package guard

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedObject = regexp.MustCompile("(?s)```(?i:json)?\\s*(\\{.*?\\})\\s*```")

// Extract recovers a candidate record from free generation text. It tries,
// in order: the whole text as a JSON object, fenced ```json blocks, the first
// balanced {...} span, the greedy first-{ to last-} span. When nothing
// parses the raw text becomes a low-confidence answer. Missing or null keys
// are backfilled in every case.
func Extract(raw string) Candidate {
	c, ok := parseObject(strings.TrimSpace(raw))
	if !ok {
		c, ok = fromFence(raw)
	}
	if !ok {
		c, ok = fromBalanced(raw)
	}
	if !ok {
		c, ok = fromGreedy(raw)
	}
	if !ok {
		c = Candidate{}
	}
	return backfill(c, raw)
}

func parseObject(s string) (Candidate, bool) {
	if s == "" || s[0] != '{' {
		return nil, false
	}
	var c Candidate
	if err := json.Unmarshal([]byte(s), &c); err != nil || c == nil {
		return nil, false
	}
	return c, true
}

func fromFence(raw string) (Candidate, bool) {
	for _, m := range fencedObject.FindAllStringSubmatch(raw, -1) {
		if c, ok := parseObject(strings.TrimSpace(m[1])); ok {
			return c, true
		}
	}
	return nil, false
}

// fromBalanced walks every '{' and tries the span up to its matching '}',
// ignoring braces inside string literals.
func fromBalanced(raw string) (Candidate, bool) {
	for start := strings.IndexByte(raw, '{'); start >= 0; {
		if end := matchBrace(raw, start); end > start {
			if c, ok := parseObject(raw[start : end+1]); ok {
				return c, true
			}
		}
		next := strings.IndexByte(raw[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func fromGreedy(raw string) (Candidate, bool) {
	first := strings.IndexByte(raw, '{')
	last := strings.LastIndexByte(raw, '}')
	if first < 0 || last <= first {
		return nil, false
	}
	return parseObject(raw[first : last+1])
}

func backfill(c Candidate, raw string) Candidate {
	if c[keyAnswer] == nil {
		c[keyAnswer] = raw
	}
	if c[keyConfidence] == nil {
		c[keyConfidence] = "low"
	}
	if c[keySources] == nil {
		c[keySources] = []string{}
	}
	return c
}
