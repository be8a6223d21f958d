package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/alecthomas/errors"
	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	"github.com/alecthomas/repr"

	"github.com/alecthomas/scopegraph/internal/depgraph"
	"github.com/alecthomas/scopegraph/internal/logging"
	"github.com/alecthomas/scopegraph/internal/manifest"
	"github.com/alecthomas/scopegraph/internal/resolver"
	"github.com/alecthomas/scopegraph/internal/scan"
)

type Globals struct {
	Version  kong.VersionFlag   `help:"Print the version and exit."`
	Chdir    kong.ChangeDirFlag `help:"Change to this directory before running." placeholder:"DIR" short:"C"`
	Config   kong.ConfigFlag    `help:"Load flags from this TOML file." placeholder:"FILE"`
	Debug    bool               `help:"Enable debug logging."`
	Log      logging.Config     `embed:"" prefix:"log-"`
	Wrapper  []string           `help:"Additional wrapper types satisfied by a binding of their type argument." placeholder:"TYPE"`
	MaxTrail int                `help:"Dependency chain depth at which a cycle is assumed." default:"100"`
	MaxKeys  int                `help:"Give up after expanding this many required bindings." default:"100000"`
}

func (g *Globals) options(logger *slog.Logger) []resolver.Option {
	return []resolver.Option{
		resolver.WithLogger(logger),
		resolver.WithWrappers(g.Wrapper...),
		resolver.WithMaxTrail(g.MaxTrail),
		resolver.WithMaxKeys(g.MaxKeys),
	}
}

type CLI struct {
	Globals

	Check  checkCmd  `cmd:"" help:"Resolve manifests and report diagnostics."`
	Scopes scopesCmd `cmd:"" help:"Print the resolved scope of every required binding."`
	List   listCmd   `cmd:"" help:"List every required binding and its dependencies."`
	Scan   scanCmd   `cmd:"" help:"Resolve the //inject: directives in Go packages and report diagnostics."`
	Dump   dumpCmd   `cmd:"" help:"Dump the result of a resolution pass."`
}

func resolveManifests(patterns []string, g *Globals, logger *slog.Logger) (*resolver.Result, error) {
	snapshot, err := loadManifests(patterns)
	if err != nil {
		return nil, err
	}
	return resolver.Pass(snapshot, append(g.options(logger), resolver.Final(true))...)
}

type checkCmd struct {
	Manifests []string `arg:"" help:"Manifest files or glob patterns." placeholder:"MANIFEST"`
}

func (c *checkCmd) Run(kctx *kong.Context, g *Globals, logger *slog.Logger) error {
	result, err := resolveManifests(c.Manifests, g, logger)
	if err != nil {
		return err
	}
	return report(kctx.Stdout, result)
}

type scopesCmd struct {
	Manifests []string `arg:"" help:"Manifest files or glob patterns." placeholder:"MANIFEST"`
}

func (c *scopesCmd) Run(kctx *kong.Context, g *Globals, logger *slog.Logger) error {
	result, err := resolveManifests(c.Manifests, g, logger)
	if err != nil {
		return err
	}
	for _, key := range result.Assignment.Keys() {
		resolution, _ := result.Assignment.Get(key)
		fmt.Fprintf(kctx.Stdout, "%s -> %s (%s)\n", key, resolution.Scope, resolution.Origin)
	}
	return report(kctx.Stderr, result)
}

type listCmd struct {
	Manifests []string `arg:"" help:"Manifest files or glob patterns." placeholder:"MANIFEST"`
}

func (c *listCmd) Run(kctx *kong.Context, g *Globals, logger *slog.Logger) error {
	result, err := resolveManifests(c.Manifests, g, logger)
	if err != nil {
		return err
	}
	graph := result.Graph.Graph()
	for _, key := range slices.Sorted(maps.Keys(graph)) {
		fmt.Fprintf(kctx.Stdout, "%s\n", key)
		for _, dep := range graph[key] {
			fmt.Fprintf(kctx.Stdout, "  %s\n", dep)
		}
	}
	return report(kctx.Stderr, result)
}

type scanCmd struct {
	Tags     []string `help:"Tags to enable during type analysis (will also be read from $GOFLAGS)." placeholder:"TAG"`
	Dir      string   `help:"Directory of the Go module to scan." arg:"" type:"existingdir"`
	Patterns []string `help:"Additional package patterns to scan." arg:"" optional:""`
}

func (c *scanCmd) Run(kctx *kong.Context, g *Globals, logger *slog.Logger) error {
	snapshot, err := scan.Packages(context.Background(), c.Dir,
		scan.WithPatterns(c.Patterns...),
		scan.WithTags(c.Tags...),
		scan.WithTags(scan.TagsFromGoFlags(os.Getenv("GOFLAGS"))...),
		scan.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	result, err := resolver.Pass(snapshot, append(g.options(logger), resolver.Final(true))...)
	if err != nil {
		return err
	}
	return report(kctx.Stdout, result)
}

type dumpCmd struct {
	Manifests []string `arg:"" help:"Manifest files or glob patterns." placeholder:"MANIFEST"`
}

type dump struct {
	Containers  []string
	Scopes      map[string]string
	Graph       map[string][]string
	Diagnostics []string
}

func (c *dumpCmd) Run(kctx *kong.Context, g *Globals, logger *slog.Logger) error {
	result, err := resolveManifests(c.Manifests, g, logger)
	if err != nil {
		return err
	}
	out := dump{
		Containers: result.Graph.Containers(),
		Scopes:     map[string]string{},
		Graph:      result.Graph.Graph(),
	}
	for key, s := range result.Assignment.Scopes() {
		out.Scopes[key.String()] = s.String()
	}
	for _, d := range result.Diagnostics {
		out.Diagnostics = append(out.Diagnostics, d.Error())
	}
	repr.New(kctx.Stdout, repr.Indent("  ")).Println(out)
	return nil
}

// report writes diagnostics to w, and returns an error if there were any errors.
func report(w io.Writer, result *resolver.Result) error {
	for _, d := range result.Diagnostics {
		fmt.Fprintln(w, d.Error())
	}
	if errs := len(result.Errors()); errs > 0 {
		return errors.Errorf("resolution failed with %d errors", errs)
	}
	return nil
}

// loadManifests resolves each pattern relative to the working directory.
func loadManifests(patterns []string) (*depgraph.Snapshot, error) {
	rooted := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		abs, err := filepath.Abs(pattern)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		rooted = append(rooted, strings.TrimPrefix(filepath.ToSlash(abs), "/"))
	}
	snapshot, err := manifest.Load(os.DirFS("/"), rooted...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load manifests")
	}
	return snapshot, nil
}

func main() {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		version = info.Main.Version
	}
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Description("Infer and validate the scopes of dependency injection bindings."),
		kong.Vars{"version": version},
		kong.Configuration(kongtoml.Loader, ".scopegraph.toml"),
		kong.UsageOnError(),
	)
	if cli.Debug {
		cli.Log.Level = slog.LevelDebug
	}
	logger := logging.New(os.Stderr, cli.Log)
	err := kctx.Run(&cli.Globals, logger)
	kctx.FatalIfErrorf(err)
}
