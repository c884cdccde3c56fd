package project

import (
	"regexp"
	"strconv"
	"strings"
)

// document is the raw text of a descriptor, edited line by line so that
// comments and unrelated formatting survive a mutation.
type document struct {
	lines []string
}

func newDocument(text string) *document {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return &document{}
	}
	return &document{lines: strings.Split(text, "\n")}
}

func (d *document) String() string {
	if len(d.lines) == 0 {
		return ""
	}
	return strings.Join(d.lines, "\n") + "\n"
}

var headerRe = regexp.MustCompile(`^\s*\[\[?\s*([^\]]+?)\s*\]\]?\s*(#.*)?$`)

// section returns the header line index of [table] and the index one past
// its last line. start is -1 when the table has no header.
func (d *document) section(table string) (start, end int) {
	start = -1
	for i, line := range d.lines {
		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if start >= 0 {
			return start, i
		}
		if normalizeKey(m[1]) == table {
			start = i
		}
	}
	return start, len(d.lines)
}

// find returns the line index of key inside [table], or -1.
func (d *document) find(table, key string) int {
	start, end := d.section(table)
	if start < 0 {
		return -1
	}
	for i := start + 1; i < end; i++ {
		k, ok := lineKey(d.lines[i])
		if ok && k == key {
			return i
		}
	}
	return -1
}

// subTable returns the line range of a [table.key] block, together with
// any nested [table.key.*] blocks that follow it. start is -1 when key is
// not written as a sub-table.
func (d *document) subTable(table, key string) (start, end int) {
	start = -1
	for i, line := range d.lines {
		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		parts := splitDotted(m[1])
		inside := len(parts) >= 2 && parts[0] == table && parts[1] == key
		switch {
		case start < 0 && inside && len(parts) == 2:
			start = i
		case start >= 0 && !inside:
			return start, i
		}
	}
	return start, len(d.lines)
}

// dropSubTable deletes the [table.key] block and reports whether it existed.
func (d *document) dropSubTable(table, key string) bool {
	start, end := d.subTable(table, key)
	if start < 0 {
		return false
	}
	d.lines = append(d.lines[:start], d.lines[end:]...)
	for n := len(d.lines); n > 0 && strings.TrimSpace(d.lines[n-1]) == ""; n-- {
		d.lines = d.lines[:n-1]
	}
	return true
}

// set writes `key = value` into [table], replacing an existing entry in
// place, appending to the table, or creating the table at the end. A key
// written as a [table.key] sub-table is replaced by the inline entry.
func (d *document) set(table, key, value string) {
	entry := quoteKey(key) + " = " + value
	d.dropSubTable(table, key)
	if i := d.find(table, key); i >= 0 {
		d.lines[i] = leadingSpace(d.lines[i]) + entry + trailingComment(d.lines[i])
		return
	}
	start, end := d.section(table)
	if start < 0 {
		if n := len(d.lines); n > 0 && strings.TrimSpace(d.lines[n-1]) != "" {
			d.lines = append(d.lines, "")
		}
		d.lines = append(d.lines, "["+table+"]", entry)
		return
	}
	at := end
	for at > start+1 && strings.TrimSpace(d.lines[at-1]) == "" {
		at--
	}
	d.lines = append(d.lines[:at], append([]string{entry}, d.lines[at:]...)...)
}

// remove deletes key from [table], whether written inline or as a
// [table.key] sub-table, and reports whether it was present.
func (d *document) remove(table, key string) bool {
	i := d.find(table, key)
	if i < 0 {
		return d.dropSubTable(table, key)
	}
	d.lines = append(d.lines[:i], d.lines[i+1:]...)
	return true
}

var keyRe = regexp.MustCompile(`^\s*("(?:[^"\\]|\\.)*"|'[^']*'|[A-Za-z0-9_.-]+)\s*=`)

func lineKey(line string) (string, bool) {
	m := keyRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return normalizeKey(m[1]), true
}

// splitDotted splits a dotted TOML key into its normalized parts, keeping
// dots inside quoted parts.
func splitDotted(k string) []string {
	var parts []string
	var cur strings.Builder
	inStr := byte(0)
	for i := 0; i < len(k); i++ {
		c := k[i]
		switch {
		case inStr != 0:
			if c == '\\' && inStr == '"' && i+1 < len(k) {
				cur.WriteByte(c)
				i++
				c = k[i]
			} else if c == inStr {
				inStr = 0
			}
		case c == '"' || c == '\'':
			inStr = c
		case c == '.':
			parts = append(parts, normalizeKey(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	return append(parts, normalizeKey(cur.String()))
}

func normalizeKey(k string) string {
	k = strings.TrimSpace(k)
	switch {
	case strings.HasPrefix(k, `"`):
		if s, err := strconv.Unquote(k); err == nil {
			return s
		}
	case strings.HasPrefix(k, `'`) && strings.HasSuffix(k, `'`) && len(k) >= 2:
		return k[1 : len(k)-1]
	}
	return k
}

var bareKeyRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func quoteKey(k string) string {
	if bareKeyRe.MatchString(k) {
		return k
	}
	return quote(k)
}

// quote renders s as a TOML basic string.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			if r < 0x20 || r == 0x7f {
				b.WriteString(`\u` + strconv.FormatInt(int64(r)+0x10000, 16)[1:])
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// inlineTable renders ordered key/value pairs as { k = "v", ... }.
func inlineTable(pairs ...[2]string) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		parts = append(parts, quoteKey(p[0])+" = "+quote(p[1]))
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func leadingSpace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// trailingComment returns a " # ..." suffix from a single-line string or
// inline-table value, skipping '#' inside quoted strings.
func trailingComment(line string) string {
	inStr := byte(0)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inStr != 0:
			if c == '\\' && inStr == '"' {
				i++
			} else if c == inStr {
				inStr = 0
			}
		case c == '"' || c == '\'':
			inStr = c
		case c == '#':
			j := i
			for j > 0 && (line[j-1] == ' ' || line[j-1] == '\t') {
				j--
			}
			return line[j:]
		}
	}
	return ""
}
