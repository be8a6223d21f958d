// Package scan statically loads Go packages and extracts declarations from their //inject: directives.
package scan

import (
	"context"
	"go/ast"
	"go/token"
	"go/types"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/alecthomas/errors"
	"github.com/kballard/go-shellquote"
	"golang.org/x/mod/modfile"
	"golang.org/x/tools/go/packages"

	"github.com/alecthomas/scopegraph/internal/binding"
	"github.com/alecthomas/scopegraph/internal/depgraph"
	"github.com/alecthomas/scopegraph/internal/directiveparser"
	"github.com/alecthomas/scopegraph/internal/logging"
)

type scanOptions struct {
	// Additional package patterns to search for directives.
	patterns []string
	tags     []string
	logger   *slog.Logger
}

type Option func(*scanOptions) error

// WithPatterns adds additional package patterns to search for directives.
func WithPatterns(patterns ...string) Option {
	return func(o *scanOptions) error {
		o.patterns = append(o.patterns, patterns...)
		return nil
	}
}

// WithTags sets the build tags used while loading packages.
func WithTags(tags ...string) Option {
	return func(o *scanOptions) error {
		o.tags = append(o.tags, tags...)
		return nil
	}
}

// TagsFromGoFlags returns the build tags set by the -tags flags in a $GOFLAGS value, so that packages are scanned with
// the same tags the go command would build them with.
//
// A value that cannot be split into words has no tags.
func TagsFromGoFlags(goflags string) []string {
	words, err := shellquote.Split(goflags)
	if err != nil {
		return nil
	}
	tags := []string{}
	for _, word := range words {
		for _, prefix := range []string{"-tags=", "--tags="} {
			if value, ok := strings.CutPrefix(word, prefix); ok {
				tags = append(tags, strings.Split(value, ",")...)
			}
		}
	}
	return tags
}

// WithLogger enables debug logging of package loading.
func WithLogger(logger *slog.Logger) Option {
	return func(o *scanOptions) error {
		o.logger = logger
		return nil
	}
}

// Packages loads the package in dir along with any additional patterns, and extracts a [depgraph.Snapshot] from their
// directives.
//
// Each package with providers becomes a module named after its import path. Containers install every such module.
func Packages(ctx context.Context, dir string, options ...Option) (*depgraph.Snapshot, error) {
	opts := &scanOptions{}
	for _, opt := range options {
		if err := opt(opts); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if opts.logger == nil {
		opts.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	destImport, err := ImportPathForDir(dir)
	if err != nil {
		return nil, errors.Errorf("failed to determine import path for directory %s: %w", dir, err)
	}

	cfg := &packages.Config{
		Context: ctx,
		Logf:    logging.Tracef(opts.logger, "go/packages"),
		Fset:    token.NewFileSet(),
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedImports | packages.NeedTypes | packages.NeedSyntax |
			packages.NeedTypesInfo,
	}
	if modfile.IsDirectoryPath(dir) {
		cfg.Dir = dir
	}
	if tags := slices.Compact(slices.Sorted(slices.Values(opts.tags))); len(tags) > 0 {
		cfg.BuildFlags = []string{"-tags=" + strings.Join(tags, ",")}
	}
	pkgs, err := packages.Load(cfg, append(slices.Clone(opts.patterns), destImport)...)
	if err != nil {
		return nil, errors.Errorf("failed to load packages: %w", err)
	}

	s := &scanner{fset: cfg.Fset, logger: opts.logger, snapshot: &depgraph.Snapshot{
		Aliases: map[string]string{},
		Parents: map[string]string{},
	}}
	found := false
	for _, pkg := range pkgs {
		if len(pkg.Errors) > 0 {
			return nil, errors.Errorf("%s: %s", pkg.PkgPath, pkg.Errors[0])
		}
		if pkg.PkgPath == destImport {
			found = true
		}
		if err := s.analysePackage(pkg); err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, errors.Errorf("package %q not found", destImport)
	}
	modules := make([]string, 0, len(s.snapshot.Modules))
	for _, module := range s.snapshot.Modules {
		modules = append(modules, module.Name)
	}
	for i := range s.snapshot.Containers {
		s.snapshot.Containers[i].Modules = modules
	}
	return s.snapshot, nil
}

type scanner struct {
	fset     *token.FileSet
	logger   *slog.Logger
	snapshot *depgraph.Snapshot
}

// Parse a directive from a comment. Will return (nil, nil) if a directive is not found.
func parseDirective(doc *ast.CommentGroup) (directiveparser.Directive, error) {
	if doc == nil {
		return nil, nil
	}
	for _, comment := range doc.List {
		if strings.HasPrefix(comment.Text, "//inject:") {
			return directiveparser.Parse(comment.Text[2:])
		}
	}
	return nil, nil
}

func (s *scanner) analysePackage(pkg *packages.Package) error {
	module := depgraph.ProviderEntity{Name: pkg.PkgPath}
	for _, file := range pkg.Syntax {
		for _, decl := range file.Decls {
			switch decl := decl.(type) {
			case *ast.FuncDecl:
				directive, err := parseDirective(decl.Doc)
				if err != nil {
					return errors.Errorf("%s: %w", s.fset.Position(decl.Pos()), err)
				} else if directive == nil {
					continue
				}
				provider, ok := directive.(*directiveparser.DirectiveProvider)
				if !ok {
					return errors.Errorf("%s: %s is not valid on a function", s.fset.Position(decl.Pos()), directive)
				}
				method, err := s.createMethod(decl, pkg, provider)
				if err != nil {
					return errors.Errorf("%s: %w", s.fset.Position(decl.Pos()), err)
				}
				s.logger.Debug("Found provider", "module", module.Name, "method", method.Name, "provides", method.Provides)
				module.Methods = append(module.Methods, method)

			case *ast.GenDecl:
				directive, err := parseDirective(decl.Doc)
				if err != nil {
					return errors.Errorf("%s: %w", s.fset.Position(decl.Pos()), err)
				} else if directive == nil {
					continue
				}
				for _, spec := range decl.Specs {
					typeSpec, ok := spec.(*ast.TypeSpec)
					if !ok {
						continue
					}
					if err := s.analyseType(typeSpec, pkg, directive); err != nil {
						return errors.Errorf("%s: %w", s.fset.Position(typeSpec.Pos()), err)
					}
				}
			}
		}
	}
	if len(module.Methods) > 0 {
		s.snapshot.Modules = append(s.snapshot.Modules, module)
	}
	return nil
}

func (s *scanner) analyseType(spec *ast.TypeSpec, pkg *packages.Package, directive directiveparser.Directive) error {
	obj, ok := pkg.TypesInfo.Defs[spec.Name].(*types.TypeName)
	if !ok {
		return errors.Errorf("could not resolve type %s", spec.Name.Name)
	}
	switch directive := directive.(type) {
	case *directiveparser.DirectiveScope:
		name := spec.Name.Name
		if directive.Alias != "" {
			s.snapshot.Aliases[name] = directive.Alias
		} else {
			s.snapshot.Parents[name] = directive.Parent
		}
		return nil

	case *directiveparser.DirectiveInjectable:
		entity, err := s.createInjectable(obj, directive)
		if err != nil {
			return err
		}
		s.logger.Debug("Found injectable", "type", entity.Type)
		s.snapshot.Types = append(s.snapshot.Types, entity)
		return nil

	case *directiveparser.DirectiveContainer:
		container, err := s.createContainer(obj, pkg, directive)
		if err != nil {
			return err
		}
		s.logger.Debug("Found container", "container", container.Name)
		s.snapshot.Containers = append(s.snapshot.Containers, container)
		return nil

	default:
		return errors.Errorf("%s is not valid on a type", directive)
	}
}

func (s *scanner) createMethod(fn *ast.FuncDecl, pkg *packages.Package, directive *directiveparser.DirectiveProvider) (depgraph.Method, error) {
	funcObj, ok := pkg.TypesInfo.ObjectOf(fn.Name).(*types.Func)
	if !ok {
		return depgraph.Method{}, errors.Errorf("failed to retrieve object for function %s", fn.Name.Name)
	}
	sig := funcObj.Signature()
	if sig.Recv() != nil {
		return depgraph.Method{}, errors.Errorf("provider %s must be a function, not a method", fn.Name.Name)
	}
	if sig.TypeParams().Len() > 0 {
		return depgraph.Method{}, errors.Errorf("provider function %s cannot have type parameters", fn.Name.Name)
	}

	results := sig.Results()
	switch results.Len() {
	case 1:
	case 2:
		if !isErrorType(results.At(1).Type()) {
			return depgraph.Method{}, errors.Errorf("provider function %s second return value must be error", fn.Name.Name)
		}
	default:
		return depgraph.Method{}, errors.Errorf("provider function %s must return (T) or (T, error)", fn.Name.Name)
	}

	provides, err := keyOf(results.At(0).Type(), directive.Qualifier)
	if err != nil {
		return depgraph.Method{}, err
	}
	method := depgraph.Method{
		Name:     fn.Name.Name,
		Provides: provides,
		Scope:    directive.Scope,
	}
	switch {
	case directive.Set:
		method.Provision = binding.SetElement
	case directive.Values:
		method.Provision = binding.SetValues
	case directive.MapKey != "":
		method.Provision = binding.MapEntry
		method.MapKey, err = binding.ParseType(directive.MapKey)
		if err != nil {
			return depgraph.Method{}, errors.Errorf("invalid map key type %q: %w", directive.MapKey, err)
		}
	}

	params := sig.Params()
	for i := range params.Len() {
		key, err := keyOf(params.At(i).Type(), "")
		if err != nil {
			return depgraph.Method{}, errors.Errorf("parameter %s: %w", params.At(i).Name(), err)
		}
		method.Requires = append(method.Requires, key)
	}
	return method, nil
}

func (s *scanner) createInjectable(obj *types.TypeName, directive *directiveparser.DirectiveInjectable) (depgraph.TypeEntity, error) {
	named, ok := obj.Type().(*types.Named)
	if !ok {
		return depgraph.TypeEntity{}, errors.Errorf("injectable %s must be a named type", obj.Name())
	}
	strct, ok := named.Underlying().(*types.Struct)
	if !ok {
		return depgraph.TypeEntity{}, errors.Errorf("injectable %s must be a struct", obj.Name())
	}
	typ, err := convertType(named)
	if err != nil {
		return depgraph.TypeEntity{}, err
	}
	entity := depgraph.TypeEntity{Type: typ, Scope: directive.Scope}
	for field := range strct.Fields() {
		key, err := keyOf(field.Type(), "")
		if err != nil {
			return depgraph.TypeEntity{}, errors.Errorf("field %s: %w", field.Name(), err)
		}
		entity.Requires = append(entity.Requires, key)
	}
	return entity, nil
}

func (s *scanner) createContainer(obj *types.TypeName, pkg *packages.Package, directive *directiveparser.DirectiveContainer) (depgraph.ConsumerEntity, error) {
	iface, ok := obj.Type().Underlying().(*types.Interface)
	if !ok {
		return depgraph.ConsumerEntity{}, errors.Errorf("container %s must be an interface", obj.Name())
	}
	container := depgraph.ConsumerEntity{
		Name:  pkg.PkgPath + "." + obj.Name(),
		Scope: directive.Scope,
	}
	for _, dependency := range directive.Depends {
		if !strings.Contains(dependency, ".") {
			dependency = pkg.PkgPath + "." + dependency
		}
		container.Dependencies = append(container.Dependencies, dependency)
	}
	for method := range iface.ExplicitMethods() {
		sig := method.Signature()
		switch {
		case sig.Params().Len() == 0 && sig.Results().Len() == 1:
			key, err := keyOf(sig.Results().At(0).Type(), "")
			if err != nil {
				return depgraph.ConsumerEntity{}, errors.Errorf("method %s: %w", method.Name(), err)
			}
			container.Provisions = append(container.Provisions, depgraph.Provision{Name: method.Name(), Returns: key})

		case sig.Params().Len() == 1 && sig.Results().Len() == 0:
			key, err := keyOf(sig.Params().At(0).Type(), "")
			if err != nil {
				return depgraph.ConsumerEntity{}, errors.Errorf("method %s: %w", method.Name(), err)
			}
			container.Injects = append(container.Injects, depgraph.InjectionSite{Name: method.Name(), Requires: []binding.Key{key}})

		default:
			return depgraph.ConsumerEntity{}, errors.Errorf("container method %s must be T() or func(T)", method.Name())
		}
	}
	return container, nil
}

func isErrorType(t types.Type) bool {
	named, ok := t.(*types.Named)
	if !ok {
		return false
	}
	return named.Obj().Name() == "error" && named.Obj().Pkg() == nil
}

// ImportPathForDir returns the import path of the package in dir, by locating the enclosing go.mod.
//
// dir is returned as-is if it is not a directory path.
func ImportPathForDir(dir string) (string, error) {
	if !modfile.IsDirectoryPath(dir) {
		return dir, nil
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Errorf("failed to get absolute path for directory %s: %w", dir, err)
	}
	dir = root
	// Search up directories for go.mod file
	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(root)
		if parent == root {
			return "", errors.Errorf("couldn't find a go.mod file above %s", dir)
		}
		root = parent
	}
	dir, err = filepath.Rel(root, dir)
	if err != nil {
		return "", errors.Errorf("failed to get relative path for directory %s: %w", dir, err)
	}
	goModPath := filepath.Join(root, "go.mod")
	data, err := os.ReadFile(goModPath) //nolint
	if err != nil {
		return "", errors.Errorf("failed to read go.mod file at %s: %w", goModPath, err)
	}
	mod, err := modfile.Parse(goModPath, data, nil)
	if err != nil {
		return "", errors.Errorf("failed to parse go.mod file at %s: %w", goModPath, err)
	}
	return path.Join(mod.Module.Mod.Path, filepath.ToSlash(dir)), nil
}
