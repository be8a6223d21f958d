package manifest

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/alecthomas/scopegraph/internal/binding"
)

var (
	manifestLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Comment", Pattern: `(?:#|//)[^\n]*`},
		{Name: "String", Pattern: `"(\\.|[^"])*"`},
		{Name: "TypeVar", Pattern: `\$[a-zA-Z_][a-zA-Z0-9_]*`},
		{Name: "Name", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*([./-][a-zA-Z0-9_]+)*`},
		{Name: "Punct", Pattern: `[\[\](){},*<=]`},
		{Name: "Whitespace", Pattern: `\s+`},
	})
	manifestParser = participle.MustBuild[file](
		participle.Lexer(manifestLexer),
		participle.Union[declaration](&scopeDecl{}, &aliasDecl{}, &moduleDecl{}, &injectDecl{}, &containerDecl{}),
		participle.Elide("Whitespace", "Comment"),
		participle.Unquote("String"),
		participle.UseLookahead(2),
	)
)

type file struct {
	Declarations []declaration `parser:"@@*"`
}

//sumtype:decl
type declaration interface {
	declaration()
	apply(b *builder) error
}

type scopeDecl struct {
	Pos    lexer.Position
	Name   string `parser:"'scope' @Name"`
	Parent string `parser:"('<' @Name)?"`
}

func (*scopeDecl) declaration() {}

type aliasDecl struct {
	Pos    lexer.Position
	Name   string `parser:"'alias' @Name '='"`
	Target string `parser:"@Name"`
}

func (*aliasDecl) declaration() {}

type moduleDecl struct {
	Pos      lexer.Position
	Name     string         `parser:"'module' @Name"`
	Includes []string       `parser:"('includes' @Name (',' @Name)*)?"`
	Provides []*provideDecl `parser:"'{' @@* '}'"`
}

func (*moduleDecl) declaration() {}

type provideDecl struct {
	Pos      lexer.Position
	Set      bool       `parser:"'provide' (  @'set'"`
	Values   bool       `parser:"           | @'values'"`
	MapKey   *typeExpr  `parser:"           | 'map' '=' @@ )?"`
	Key      *keyExpr   `parser:"@@"`
	Requires []*keyExpr `parser:"('(' (@@ (',' @@)*)? ')')?"`
	Name     string     `parser:"'as' @Name"`
	Scope    string     `parser:"('scoped' @Name)?"`
}

type injectDecl struct {
	Pos      lexer.Position
	Type     *typeExpr  `parser:"'inject' @@"`
	Scope    string     `parser:"('scoped' @Name)?"`
	Requires []*keyExpr `parser:"('(' (@@ (',' @@)*)? ')')?"`
	Members  []*keyExpr `parser:"('members' '(' (@@ (',' @@)*)? ')')?"`
}

func (*injectDecl) declaration() {}

type containerDecl struct {
	Pos     lexer.Position
	Name    string             `parser:"'container' @Name"`
	Scope   string             `parser:"('scoped' @Name)?"`
	Modules []string           `parser:"('modules' @Name (',' @Name)*)?"`
	Members []*containerMember `parser:"'{' @@* '}'"`
}

func (*containerDecl) declaration() {}

type containerMember struct {
	Pos     lexer.Position
	Bind    *bindMember   `parser:"  @@"`
	Depends string        `parser:"| 'depends' @Name"`
	Get     *getMember    `parser:"| @@"`
	Inject  *injectMember `parser:"| @@"`
}

type bindMember struct {
	Key  *keyExpr `parser:"'bind' @@"`
	Name string   `parser:"('as' @Name)?"`
}

type getMember struct {
	Key  *keyExpr `parser:"'get' @@"`
	Name string   `parser:"'as' @Name"`
}

type injectMember struct {
	Type     *typeExpr  `parser:"'inject' @@"`
	Requires []*keyExpr `parser:"('(' (@@ (',' @@)*)? ')')?"`
	Name     string     `parser:"('as' @Name)?"`
}

type keyExpr struct {
	Qualifier string    `parser:"@String?"`
	Type      *typeExpr `parser:"@@"`
}

type typeExpr struct {
	Pointer *typeExpr   `parser:"  '*' @@"`
	Slice   *typeExpr   `parser:"| '[' ']' @@"`
	Map     *mapExpr    `parser:"| @@"`
	Var     string      `parser:"| @TypeVar"`
	Name    string      `parser:"| @Name"`
	Args    []*typeExpr `parser:"  ('[' @@ (',' @@)* ']')?"`
}

type mapExpr struct {
	Key   *typeExpr `parser:"'map' '[' @@ ']'"`
	Value *typeExpr `parser:"@@"`
}

// String renders the expression in the canonical form accepted by binding.ParseType.
func (t *typeExpr) String() string {
	w := &strings.Builder{}
	t.write(w)
	return w.String()
}

func (t *typeExpr) write(w *strings.Builder) {
	switch {
	case t.Pointer != nil:
		w.WriteString("*")
		t.Pointer.write(w)
		return
	case t.Slice != nil:
		w.WriteString("[]")
		t.Slice.write(w)
		return
	case t.Map != nil:
		w.WriteString("map[")
		t.Map.Key.write(w)
		w.WriteString("]")
		t.Map.Value.write(w)
		return
	case t.Var != "":
		w.WriteString(t.Var)
	default:
		w.WriteString(t.Name)
	}
	if len(t.Args) == 0 {
		return
	}
	w.WriteString("[")
	for i, arg := range t.Args {
		if i > 0 {
			w.WriteString(", ")
		}
		arg.write(w)
	}
	w.WriteString("]")
}

// typeParams returns the type variables and unqualified identifiers in the argument list of a generic type.
//
// Predeclared types such as int are type arguments, not parameters.
func (t *typeExpr) typeParams() []string {
	var params []string
	for _, arg := range t.Args {
		switch {
		case arg.Var != "":
			params = append(params, arg.Var[1:])
		case arg.Name != "" && !strings.Contains(arg.Name, ".") && len(arg.Args) == 0 &&
			binding.Named(arg.Name).Kind != binding.Primitive:
			params = append(params, arg.Name)
		}
	}
	return params
}
