// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pathtemplate

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Variable identifies a substitution in a compiled template.
type Variable uint8

const (
	HostID Variable = iota + 1
	Year
	Month
	Day
	Hour
	Minute
	Second
	Unique
)

var variableNames = map[string]Variable{
	"host_id": HostID,
	"year":    Year,
	"month":   Month,
	"day":     Day,
	"hour":    Hour,
	"minute":  Minute,
	"second":  Second,
	"unique":  Unique,
}

var variableStrings = [...]string{
	HostID: "host_id",
	Year:   "year",
	Month:  "month",
	Day:    "day",
	Hour:   "hour",
	Minute: "minute",
	Second: "second",
	Unique: "unique",
}

// String returns the variable's name as written in a template.
func (v Variable) String() string {
	if int(v) > 0 && int(v) < len(variableStrings) {
		return variableStrings[v]
	}
	return fmt.Sprintf("variable(%d)", uint8(v))
}

// ErrInvalidTemplate is matched (via errors.Is) by every error
// returned from Compile.
var ErrInvalidTemplate = errors.New("invalid path template")

// UnknownVariableError reports a brace-enclosed name that is not one
// of the recognized variables.
type UnknownVariableError struct {
	Name   string
	Offset int
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown template variable %q at offset %d", e.Name, e.Offset)
}

func (e *UnknownVariableError) Is(target error) bool { return target == ErrInvalidTemplate }

// UnterminatedBraceError reports a "{" with no closing "}".
type UnterminatedBraceError struct {
	Offset int
}

func (e *UnterminatedBraceError) Error() string {
	return fmt.Sprintf("unmatched '{' at offset %d", e.Offset)
}

func (e *UnterminatedBraceError) Is(target error) bool { return target == ErrInvalidTemplate }

// UnmatchedCloseBraceError reports a single "}" outside a variable.
type UnmatchedCloseBraceError struct {
	Offset int
}

func (e *UnmatchedCloseBraceError) Error() string {
	return fmt.Sprintf("unmatched '}' at offset %d (use '}}' for a literal brace)", e.Offset)
}

func (e *UnmatchedCloseBraceError) Is(target error) bool { return target == ErrInvalidTemplate }

// token is either a literal run (variable == 0) or a variable.
type token struct {
	literal  string
	variable Variable
}

// Template is a compiled path template. It is immutable and safe for
// concurrent use.
type Template struct {
	source     string
	tokens     []token
	usesHostID bool
}

// Values are the inputs to a single render.
type Values struct {
	// Time is the seal timestamp. Converted to UTC before rendering.
	Time time.Time

	// HostID is the display form of the resolved host identity. Only
	// read when the template references {host_id}.
	HostID string

	// Unique is the uniqueness token for this object.
	Unique string
}

// Compile parses source left to right. Adjacent literal characters
// (including escaped braces) are merged into a single literal token.
// Whitespace around a variable name inside braces is ignored.
func Compile(source string) (*Template, error) {
	template := &Template{source: source}
	var literal strings.Builder

	flushLiteral := func() {
		if literal.Len() > 0 {
			template.tokens = append(template.tokens, token{literal: literal.String()})
			literal.Reset()
		}
	}

	for position := 0; position < len(source); {
		switch source[position] {
		case '{':
			if position+1 < len(source) && source[position+1] == '{' {
				literal.WriteByte('{')
				position += 2
				continue
			}
			end := strings.IndexByte(source[position+1:], '}')
			if end < 0 {
				return nil, &UnterminatedBraceError{Offset: position}
			}
			name := strings.TrimSpace(source[position+1 : position+1+end])
			variable, ok := variableNames[name]
			if !ok {
				return nil, &UnknownVariableError{Name: name, Offset: position}
			}
			flushLiteral()
			template.tokens = append(template.tokens, token{variable: variable})
			if variable == HostID {
				template.usesHostID = true
			}
			position += end + 2

		case '}':
			if position+1 < len(source) && source[position+1] == '}' {
				literal.WriteByte('}')
				position += 2
				continue
			}
			return nil, &UnmatchedCloseBraceError{Offset: position}

		default:
			literal.WriteByte(source[position])
			position++
		}
	}
	flushLiteral()
	return template, nil
}

// MustCompile is like Compile but panics on error. For templates that
// are constants in code and tests.
func MustCompile(source string) *Template {
	template, err := Compile(source)
	if err != nil {
		panic(fmt.Sprintf("pathtemplate: %v", err))
	}
	return template
}

// String returns the template source.
func (t *Template) String() string { return t.source }

// UsesHostID reports whether rendering needs a resolved host identity.
func (t *Template) UsesHostID() bool { return t.usesHostID }

// Render substitutes values into the template.
func (t *Template) Render(values Values) string {
	utc := values.Time.UTC()
	var builder strings.Builder
	builder.Grow(len(t.source) + 32)

	for _, tok := range t.tokens {
		switch tok.variable {
		case 0:
			builder.WriteString(tok.literal)
		case HostID:
			builder.WriteString(values.HostID)
		case Year:
			writePadded(&builder, utc.Year(), 4)
		case Month:
			writePadded(&builder, int(utc.Month()), 2)
		case Day:
			writePadded(&builder, utc.Day(), 2)
		case Hour:
			writePadded(&builder, utc.Hour(), 2)
		case Minute:
			writePadded(&builder, utc.Minute(), 2)
		case Second:
			writePadded(&builder, utc.Second(), 2)
		case Unique:
			builder.WriteString(values.Unique)
		}
	}
	return builder.String()
}

func writePadded(builder *strings.Builder, value, width int) {
	digits := strconv.Itoa(value)
	for i := len(digits); i < width; i++ {
		builder.WriteByte('0')
	}
	builder.WriteString(digits)
}

var uniqueEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewUnique returns a fresh uniqueness token: the 16 random bytes of a
// version 4 UUID in unpadded RFC 4648 base32 (26 characters from
// A-Z and 2-7, safe in any object key).
func NewUnique() string {
	id := uuid.New()
	return uniqueEncoding.EncodeToString(id[:])
}
