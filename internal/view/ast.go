// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package view

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// exprLexer tokenizes the inside of one {{ }} interpolation. "||" must be
// matched before "|".
var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"[^"]*"|'[^']*'`},
	{Name: "Number", Pattern: `-?\d+(\.\d+)?`},
	{Name: "OpOr", Pattern: `\|\|`},
	{Name: "Pipe", Pattern: `\|`},
	{Name: "Dot", Pattern: `\.`},
	{Name: "Ident", Pattern: `[a-zA-Z_]\w*`},
	{Name: "Punct", Pattern: `[(),]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// Expr is one interpolation.
//
// Grammar: path [ "||" literal ] { "|" filter }
type Expr struct {
	Pos      lexer.Position `parser:""`
	Path     *Path          `parser:"@@"`
	Fallback *Literal       `parser:"( '||' @@ )?"`
	Filters  []*Filter      `parser:"( '|' @@ )*"`
}

// Path is a dotted state reference such as info.rsrp.
type Path struct {
	Parts []string `parser:"@Ident ( Dot @Ident )*"`
}

// String joins the path back into dotted form.
func (p *Path) String() string { return strings.Join(p.Parts, ".") }

// Root is the top-level state key the path reads.
func (p *Path) Root() string { return p.Parts[0] }

// Leaf is the last path segment, used to pick a masking rule.
func (p *Path) Leaf() string { return p.Parts[len(p.Parts)-1] }

// Literal is a quoted string or a number.
type Literal struct {
	String *string `parser:"  @String"`
	Number *string `parser:"| @Number"`
}

// Value returns the literal text without quotes.
func (l *Literal) Value() string {
	switch {
	case l == nil:
		return ""
	case l.String != nil:
		s := *l.String
		return s[1 : len(s)-1]
	case l.Number != nil:
		return *l.Number
	}
	return ""
}

// Filter is a named transform with optional literal arguments.
type Filter struct {
	Name string     `parser:"@Ident"`
	Args []*Literal `parser:"( '(' ( @@ ( ',' @@ )* )? ')' )?"`
}

var exprParser = participle.MustBuild[Expr](
	participle.Lexer(exprLexer),
)

// filterArity is the number of arguments each filter accepts.
var filterArity = map[string][2]int{
	"mask":    {0, 1},
	"upper":   {0, 0},
	"lower":   {0, 0},
	"default": {1, 1},
}

// ParseExpr parses the body of one interpolation.
func ParseExpr(src string) (*Expr, error) {
	expr, err := exprParser.ParseString("", src)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped with template context by the caller
	}
	for _, f := range expr.Filters {
		arity, ok := filterArity[f.Name]
		if !ok {
			return nil, fmt.Errorf("unknown filter %q", f.Name)
		}
		if n := len(f.Args); n < arity[0] || n > arity[1] {
			return nil, fmt.Errorf("filter %q takes %d to %d arguments, got %d", f.Name, arity[0], arity[1], n)
		}
		if f.Name == "mask" && len(f.Args) == 1 {
			if _, ok := maskKinds[f.Args[0].Value()]; !ok {
				return nil, fmt.Errorf("unknown mask kind %q", f.Args[0].Value())
			}
		}
	}
	return expr, nil
}

// Masked reports whether the expression output depends on the masking flag.
func (e *Expr) Masked() bool {
	for _, f := range e.Filters {
		if f.Name == "mask" {
			return true
		}
	}
	return false
}
