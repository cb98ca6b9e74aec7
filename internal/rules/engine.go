package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ErrUnstable is returned when corrections keep rewriting each other past the
// iteration limit.
var ErrUnstable = errors.New("vocabulary corrections did not settle")

const defaultIterationLimit = 30

// correction rewrites transcript text and reports whether anything changed.
type correction interface {
	Correct(text string) (string, bool)
}

// LineParser turns one vocabulary file line into a correction.
type LineParser interface {
	Accepts(line string) bool
	Parse(line string) (correction, error)
}

// Engine applies vocabulary corrections to finalized transcripts. Speech
// models routinely mishear product names and jargon; a vocabulary file maps
// those mishearings back to the canonical spelling.
//
// File format, one entry per line (blank lines and # comments ignored):
//
//	Rekapo: recapo, re kapo      canonical term followed by its mishearings
//	standup => stand-up          whole-word replacement
//	s/\bq(\d)\b/Q$1/             regular expression, always global
type Engine struct {
	corrections []correction
	limit       int
}

// NewEngine loads the vocabulary file at path. A blank path or missing file
// yields an engine that returns text unchanged.
func NewEngine(path string, iterationLimit int) (*Engine, error) {
	return NewEngineWithParsers(path, iterationLimit, defaultParsers())
}

func NewEngineWithParsers(path string, iterationLimit int, parsers []LineParser) (*Engine, error) {
	if iterationLimit <= 0 {
		iterationLimit = defaultIterationLimit
	}
	if len(parsers) == 0 {
		parsers = defaultParsers()
	}

	engine := &Engine{limit: iterationLimit}
	if strings.TrimSpace(path) == "" {
		return engine, nil
	}

	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return engine, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vocabulary file %q: %w", path, err)
	}

	engine.corrections, err = parseVocabulary(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("parse vocabulary file %q: %w", path, err)
	}
	return engine, nil
}

// Len reports how many corrections are loaded.
func (e *Engine) Len() int {
	return len(e.corrections)
}

// Apply runs every correction until a full pass changes nothing.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.corrections) == 0 || strings.TrimSpace(text) == "" {
		return text, nil
	}

	for pass := 0; pass < e.limit; pass++ {
		dirty := false
		for _, c := range e.corrections {
			if next, changed := c.Correct(text); changed {
				text = next
				dirty = true
			}
		}
		if !dirty {
			return text, nil
		}
	}
	return text, fmt.Errorf("%w after %d passes", ErrUnstable, e.limit)
}

func parseVocabulary(contents string, parsers []LineParser) ([]correction, error) {
	var out []correction
	for n, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var parser LineParser
		for _, p := range parsers {
			if p.Accepts(line) {
				parser = p
				break
			}
		}
		if parser == nil {
			return nil, fmt.Errorf("line %d: unrecognized entry", n+1)
		}

		c, err := parser.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func defaultParsers() []LineParser {
	return []LineParser{patternParser{}, replacementParser{}, aliasParser{}}
}

// wordCorrection replaces whole-word, case-insensitive occurrences of a term.
type wordCorrection struct {
	re *regexp.Regexp
	to string
}

func newWordCorrection(terms []string, to string) (wordCorrection, error) {
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.Join(strings.Fields(term), " ")
		if term == "" {
			continue
		}
		// Multi-word terms tolerate any run of whitespace between words.
		quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(term), " ", `\s+`))
	}
	if len(quoted) == 0 {
		return wordCorrection{}, errors.New("no terms to correct")
	}
	re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	if err != nil {
		return wordCorrection{}, err
	}
	return wordCorrection{re: re, to: to}, nil
}

func (w wordCorrection) Correct(text string) (string, bool) {
	out := w.re.ReplaceAllLiteralString(text, w.to)
	return out, out != text
}

type replacementParser struct{}

func (replacementParser) Accepts(line string) bool {
	return strings.Contains(line, "=>")
}

func (replacementParser) Parse(line string) (correction, error) {
	from, to, _ := strings.Cut(line, "=>")
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("replacement needs a source term")
	}
	if from == to {
		return nil, errors.New("replacement does not change anything")
	}
	return newWordCorrection([]string{from}, to)
}

type aliasParser struct{}

func (aliasParser) Accepts(line string) bool {
	return strings.Contains(line, ":")
}

func (aliasParser) Parse(line string) (correction, error) {
	canonical, rest, _ := strings.Cut(line, ":")
	canonical = strings.TrimSpace(canonical)
	if canonical == "" {
		return nil, errors.New("alias needs a canonical term")
	}
	var aliases []string
	for _, alias := range strings.Split(rest, ",") {
		alias = strings.TrimSpace(alias)
		// The canonical spelling is already correct; skipping it keeps passes stable.
		if alias != "" && alias != canonical {
			aliases = append(aliases, alias)
		}
	}
	if len(aliases) == 0 {
		return nil, fmt.Errorf("alias %q lists no mishearings", canonical)
	}
	return newWordCorrection(aliases, canonical)
}

// patternCorrection is a sed-style regular expression substitution.
type patternCorrection struct {
	re *regexp.Regexp
	to string
}

func (p patternCorrection) Correct(text string) (string, bool) {
	out := p.re.ReplaceAllString(text, p.to)
	return out, out != text
}

type patternParser struct{}

func (patternParser) Accepts(line string) bool {
	return len(line) > 2 && line[0] == 's' && isDelimiter(line[1])
}

// Parse reads s<d>pattern<d>replacement<d>[flags]. Only the i flag is
// recognized; matching is case-sensitive unless it is given.
func (patternParser) Parse(line string) (correction, error) {
	delim := line[1]
	fields, err := splitDelimited(line[2:], delim, 2)
	if err != nil {
		return nil, err
	}
	pattern, replacement, flags := fields[0], fields[1], strings.TrimSpace(fields[2])

	switch flags {
	case "":
	case "i":
		pattern = "(?i)" + pattern
	default:
		return nil, fmt.Errorf("unsupported pattern flags %q", flags)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return patternCorrection{re: re, to: replacement}, nil
}

// splitDelimited splits s into n delimited fields plus the remainder. A
// backslash before the delimiter makes it literal; other escapes pass through
// to the regexp compiler.
func splitDelimited(s string, delim byte, n int) ([]string, error) {
	fields := make([]string, 0, n+1)
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			if s[i+1] == delim {
				cur.WriteByte(delim)
			} else {
				cur.WriteByte(c)
				cur.WriteByte(s[i+1])
			}
			i++
			continue
		}
		if c == delim && len(fields) < n {
			fields = append(fields, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	if len(fields) < n {
		return nil, errors.New("unterminated pattern")
	}
	return append(fields, cur.String()), nil
}

func isDelimiter(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == ' ' || c == '\t' || c == ':':
		return false
	}
	return true
}
