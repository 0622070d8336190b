// Package repair turns near-JSON telemetry text into text a strict JSON parser
// accepts. It runs a single forward pass with explicit state and no
// backtracking, fixing missing member commas, stray and trailing commas, and
// malformed numbers. Everything else, including unquoted keys and unclosed
// containers, is copied through for the strict parser to reject.
package repair

import (
	"fmt"
	"slices"
)

// Container kinds kept on the scanner stack.
const (
	kindObject byte = '{'
	kindArray  byte = '['
)

// Result is the repaired text plus one human-readable note per applied fix.
// Fixes are diagnostics only.
type Result struct {
	Text  string
	Fixes []string
}

// Changed reports whether any fix was applied.
func (r Result) Changed() bool {
	return len(r.Fixes) > 0
}

// scanner holds the state of one repair pass.
type scanner struct {
	src   string
	pos   int
	out   []byte
	stack []byte
	fixes []string

	// lastValue is true when the previous significant token completed a value.
	lastValue bool

	// valueEnd is the output offset just past the last completed value.
	valueEnd int

	// lastSig is the last non-whitespace byte written, or 0 before any.
	lastSig    byte
	lastSigIdx int
}

// Repair scans text once and returns the repaired JSON text. It never fails;
// unrecoverable input comes back best-effort and is left to the strict parser.
func Repair(text string) Result {
	sc := &scanner{
		src:        text,
		lastSigIdx: -1,
		out:        make([]byte, 0, len(text)+len(text)/64+8),
	}

	sc.run()

	return Result{Text: string(sc.out), Fixes: sc.fixes}
}

func (sc *scanner) run() {
	for sc.pos < len(sc.src) {
		ch := sc.src[sc.pos]

		switch {
		case ch == '"':
			sc.beforeValue(ch)
			sc.scanString()
		case ch == '{' || ch == '[':
			sc.beforeValue(ch)
			sc.openContainer(ch)
		case ch == '}' || ch == ']':
			sc.closeContainer(ch)
		case ch == ',':
			sc.scanComma()
		case ch == ':':
			sc.emit(ch)
			sc.lastValue = false
			sc.pos++
		case isSpace(ch):
			sc.out = append(sc.out, ch)
			sc.pos++
		case isNumberStart(ch):
			sc.beforeValue(ch)
			sc.scanNumber()
		case isLetter(ch):
			sc.beforeValue(ch)
			sc.scanWord()
		default:
			sc.emit(ch)
			sc.pos++
		}
	}
}

func (sc *scanner) inObject() bool {
	return len(sc.stack) > 0 && sc.stack[len(sc.stack)-1] == kindObject
}

// beforeValue inserts a missing member comma when a new value starts right
// after a completed one inside an object.
func (sc *scanner) beforeValue(next byte) {
	if !sc.lastValue || !sc.inObject() || !isCommaTrigger(next) {
		return
	}

	sc.out = slices.Insert(sc.out, sc.valueEnd, ',')
	sc.lastSig, sc.lastSigIdx = ',', sc.valueEnd
	sc.lastValue = false
	sc.note("inserted missing comma at offset %d", sc.pos)
}

// atKey reports whether a token starting now sits in object key position.
func (sc *scanner) atKey() bool {
	return sc.inObject() && (sc.lastSig == kindObject || sc.lastSig == ',')
}

// complete marks the end of a scalar token. Keys never count as completed
// values, so no comma is ever inserted between a key and what follows it.
func (sc *scanner) complete(key bool) {
	if key {
		sc.lastValue = false

		return
	}

	sc.completeValue()
}

func (sc *scanner) completeValue() {
	sc.lastValue = true
	sc.valueEnd = len(sc.out)
}

func (sc *scanner) openContainer(ch byte) {
	sc.emit(ch)
	sc.stack = append(sc.stack, ch)
	sc.lastValue = false
	sc.pos++
}

func (sc *scanner) closeContainer(ch byte) {
	if sc.lastSig == ',' {
		idx := sc.lastSigIdx
		sc.out = append(sc.out[:idx], sc.out[idx+1:]...)
		sc.note("removed trailing comma before %q at offset %d", ch, sc.pos)
	}

	sc.emit(ch)

	if len(sc.stack) > 0 {
		sc.stack = sc.stack[:len(sc.stack)-1]
	}

	sc.pos++
	sc.completeValue()
}

// scanComma drops separators that cannot be valid: a comma right after an
// opener, a colon, or another comma.
func (sc *scanner) scanComma() {
	switch sc.lastSig {
	case 0, ',', '{', '[', ':':
		sc.note("removed stray comma at offset %d", sc.pos)
		sc.pos++

		return
	}

	sc.emit(',')
	sc.lastValue = false
	sc.pos++
}

// scanString copies a string literal verbatim, honouring escapes.
func (sc *scanner) scanString() {
	key := sc.atKey()

	sc.emit('"')
	sc.pos++

	escaped := false

	for sc.pos < len(sc.src) {
		ch := sc.src[sc.pos]
		sc.emit(ch)
		sc.pos++

		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"':
			sc.complete(key)

			return
		}
	}

	// Unterminated: left for the strict parser to reject.
	sc.complete(key)
}

// scanNumber consumes a numeric run, including any adjacent non-delimiter
// garbage, and writes its normalized form.
func (sc *scanner) scanNumber() {
	key := sc.atKey()
	start := sc.pos
	sawDot := false

	for sc.pos < len(sc.src) {
		ch := sc.src[sc.pos]

		if ch == ',' && sc.isDecimalComma(start, sawDot) {
			sawDot = true
			sc.pos++

			continue
		}

		if isDelimiter(ch) {
			break
		}

		if ch == '.' {
			sawDot = true
		}

		sc.pos++
	}

	run := sc.src[start:sc.pos]

	fixed, ok := NormalizeNumber(run)

	switch {
	case !ok:
		sc.note("replaced malformed number %q with 0 at offset %d", run, start)
	case fixed != run:
		sc.note("normalized number %q to %q at offset %d", run, fixed, start)
	}

	sc.emitString(fixed)
	sc.complete(key)
}

// isDecimalComma reports whether the comma at sc.pos sits between two digits
// of an object member value. A member comma in a valid object is always
// followed by a key, never by a digit.
func (sc *scanner) isDecimalComma(start int, sawDot bool) bool {
	if sawDot || !sc.inObject() || sc.pos == start || sc.pos+1 >= len(sc.src) {
		return false
	}

	return isDigit(sc.src[sc.pos-1]) && isDigit(sc.src[sc.pos+1])
}

// scanWord copies a bare word. Only true, false and null are valid JSON; other
// words are not quoted here.
func (sc *scanner) scanWord() {
	key := sc.atKey()
	start := sc.pos

	for sc.pos < len(sc.src) && !isDelimiter(sc.src[sc.pos]) {
		sc.pos++
	}

	sc.emitString(sc.src[start:sc.pos])
	sc.complete(key)
}

// emit appends one byte and tracks it when significant.
func (sc *scanner) emit(ch byte) {
	if !isSpace(ch) {
		sc.lastSig, sc.lastSigIdx = ch, len(sc.out)
	}

	sc.out = append(sc.out, ch)
}

// emitString appends a token that contains no whitespace.
func (sc *scanner) emitString(token string) {
	if token == "" {
		return
	}

	sc.out = append(sc.out, token...)
	sc.lastSig, sc.lastSigIdx = token[len(token)-1], len(sc.out)-1
}

func (sc *scanner) note(format string, args ...any) {
	sc.fixes = append(sc.fixes, fmt.Sprintf(format, args...))
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isNumberStart(ch byte) bool {
	return isDigit(ch) || ch == '-' || ch == '+' || ch == '.'
}

func isCommaTrigger(ch byte) bool {
	return ch == '"' || ch == '{' || ch == '[' || ch == '-' || isDigit(ch) || isLetter(ch)
}

func isDelimiter(ch byte) bool {
	switch ch {
	case ',', ':', '{', '}', '[', ']', '"':
		return true
	}

	return isSpace(ch)
}
