// Package directiveparser implements a parser for //inject: source directives.
package directiveparser

import (
	"strconv"
	"strings"

	"github.com/alecthomas/errors"
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	annotationParser = participle.MustBuild[annotation](
		participle.Lexer(directiveLexer),
		participle.Union[Directive](&DirectiveProvider{}, &DirectiveInjectable{}, &DirectiveScope{}, &DirectiveContainer{}),
		participle.Elide("Whitespace"),
		participle.Unquote("String"),
	)
	directiveLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "String", Pattern: `"(\\.|[^"])*"`},
		{Name: "Name", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*([./-][a-zA-Z0-9_]+)*`},
		{Name: "Punct", Pattern: `[:=,*]`},
		{Name: "Whitespace", Pattern: `\s+`},
	})
)

type annotation struct {
	Directive Directive `parser:"'inject' ':' @@"`
}

//sumtype:decl
type Directive interface {
	directive()
	// Validate the directive.
	Validate() error
	String() string
}

// DirectiveProvider marks a function as a factory method.
//
//	//inject:provider [scope=S] [set|values|map=K] [qualifier="q"]
type DirectiveProvider struct {
	Scope     string `parser:"'provider' (  'scope' '=' @Name"`
	Set       bool   `parser:"            | @'set'"`
	Values    bool   `parser:"            | @'values'"`
	MapKey    string `parser:"            | 'map' '=' @('*'? Name)"`
	Qualifier string `parser:"            | 'qualifier' '=' @String )*"`
}

func (p *DirectiveProvider) directive() {}
func (p *DirectiveProvider) String() string {
	out := "inject:provider"
	if p.Scope != "" {
		out += " scope=" + p.Scope
	}
	switch {
	case p.Set:
		out += " set"
	case p.Values:
		out += " values"
	case p.MapKey != "":
		out += " map=" + p.MapKey
	}
	if p.Qualifier != "" {
		out += " qualifier=" + strconv.Quote(p.Qualifier)
	}
	return out
}
func (p *DirectiveProvider) Validate() error {
	kinds := 0
	for _, set := range []bool{p.Set, p.Values, p.MapKey != ""} {
		if set {
			kinds++
		}
	}
	if kinds > 1 {
		return errors.Errorf("provider can only be one of set, values or map")
	}
	return nil
}

// DirectiveInjectable marks a struct type as constructor-injected.
type DirectiveInjectable struct {
	Scope string `parser:"'injectable' ('scope' '=' @Name)?"`
}

func (d *DirectiveInjectable) directive() {}
func (d *DirectiveInjectable) String() string {
	if d.Scope != "" {
		return "inject:injectable scope=" + d.Scope
	}
	return "inject:injectable"
}
func (d *DirectiveInjectable) Validate() error { return nil }

// DirectiveScope declares a scope named after the annotated type.
type DirectiveScope struct {
	Parent string `parser:"'scope' (  'parent' '=' @Name"`
	Alias  string `parser:"         | 'alias' '=' @Name )*"`
}

func (d *DirectiveScope) directive() {}
func (d *DirectiveScope) String() string {
	out := "inject:scope"
	if d.Parent != "" {
		out += " parent=" + d.Parent
	}
	if d.Alias != "" {
		out += " alias=" + d.Alias
	}
	return out
}
func (d *DirectiveScope) Validate() error {
	if d.Parent != "" && d.Alias != "" {
		return errors.Errorf("scope alias %s cannot also have a parent", d.Alias)
	}
	return nil
}

// DirectiveContainer marks an interface as a container.
type DirectiveContainer struct {
	Scope   string   `parser:"'container' (  'scope' '=' @Name"`
	Depends []string `parser:"             | 'depends' '=' @Name (',' @Name)* )*"`
}

func (d *DirectiveContainer) directive() {}
func (d *DirectiveContainer) String() string {
	out := "inject:container"
	if d.Scope != "" {
		out += " scope=" + d.Scope
	}
	if len(d.Depends) > 0 {
		out += " depends=" + strings.Join(d.Depends, ",")
	}
	return out
}
func (d *DirectiveContainer) Validate() error { return nil }

// Parse an injection directive, without the leading "//".
func Parse(text string) (Directive, error) {
	if text == "" {
		return nil, errors.Errorf("empty directive")
	}

	result, err := annotationParser.ParseString("", text)
	if err != nil {
		return nil, errors.Errorf("failed to parse directive: %w", err)
	}
	directive := result.Directive
	if err := directive.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}
	return directive, nil
}
