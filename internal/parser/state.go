package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// stateGlobals are the global variables the site has been observed
// assigning its page state to.
var stateGlobals = []string{
	"__INITIAL_STATE__",
	"__APP_DATA__",
	"currentData",
}

// jsonParseRe captures the escaped string argument of a JSON.parse call.
var jsonParseRe = regexp.MustCompile(`JSON\.parse\(\s*"((?:[^"\\]|\\.)*)"\s*\)`)

// stateCandidates pulls candidate JSON blobs out of one inline script
// block. Two assignment shapes are recognized: a JSON.parse call on an
// escaped string, and a direct object-literal assignment.
func stateCandidates(script string) []string {
	var out []string
	for _, m := range jsonParseRe.FindAllStringSubmatch(script, -1) {
		if unquoted, err := strconv.Unquote(`"` + m[1] + `"`); err == nil {
			out = append(out, unquoted)
		}
	}
	for _, name := range stateGlobals {
		out = append(out, literalAssignments(script, name)...)
	}
	return out
}

// literalAssignments finds `<name> = {...}` assignments and extracts the
// balanced object literal that follows.
func literalAssignments(script, name string) []string {
	var out []string
	rest := script
	for {
		idx := strings.Index(rest, name)
		if idx < 0 {
			return out
		}
		rest = rest[idx+len(name):]
		trimmed := strings.TrimLeft(rest, " \t\r\n")
		if !strings.HasPrefix(trimmed, "=") {
			continue
		}
		trimmed = strings.TrimLeft(trimmed[1:], " \t\r\n")
		if !strings.HasPrefix(trimmed, "{") {
			continue
		}
		obj, ok := balancedObject(trimmed)
		if !ok {
			continue
		}
		out = append(out, obj)
		rest = trimmed[len(obj):]
	}
}

// balancedObject returns the prefix of s forming one brace-balanced
// object, tracking string literals so braces inside values don't count.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
