package xquery

import (
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/go-git/go-billy/v5"

	"xquery-go/internal/metrics"
)

var docCallPattern = regexp.MustCompile(`(?:\bfn:)?\bdoc\s*\(\s*(?:"([^"]*)"|'([^']*)')\s*\)`)

// Resolver binds doc("path") calls to parsed documents. One Resolver serves
// a single Execute call, so variable names restart at $__doc_0 per call.
type Resolver struct {
	fs          billy.Filesystem
	workingDir  string
	projectRoot string
	next        int
}

// NewResolver returns a resolver for one query. Relative base directories
// are taken from the process working directory.
func NewResolver(fs billy.Filesystem, workingDir, projectRoot string) *Resolver {
	return &Resolver{fs: fs, workingDir: absDir(workingDir), projectRoot: absDir(projectRoot)}
}

func absDir(dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// Rewrite replaces every doc() call in expr with a fresh variable and
// returns the new bindings. Each call site gets its own variable.
func (r *Resolver) Rewrite(expr string) (string, map[string]*Node, error) {
	bound := map[string]*Node{}
	var firstErr error
	out := docCallPattern.ReplaceAllStringFunc(expr, func(call string) string {
		if firstErr != nil {
			return call
		}
		m := docCallPattern.FindStringSubmatch(call)
		path := m[1] + m[2]
		doc, err := r.Load(path)
		if err != nil {
			firstErr = err
			return call
		}
		name := fmt.Sprintf("__doc_%d", r.next)
		r.next++
		bound[name] = doc
		return "$" + name
	})
	if firstErr != nil {
		return "", nil, firstErr
	}
	return out, bound, nil
}

// Candidates lists the paths tried for path, in order.
func (r *Resolver) Candidates(path string) []string {
	if filepath.IsAbs(path) {
		return []string{filepath.Clean(path)}
	}
	var out []string
	for _, base := range []string{r.workingDir, r.projectRoot} {
		if base == "" {
			continue
		}
		candidate := filepath.Join(base, path)
		if !slices.Contains(out, candidate) {
			out = append(out, candidate)
		}
	}
	if len(out) == 0 {
		out = append(out, filepath.Clean(path))
	}
	return out
}

// Load parses the first candidate for path that opens and parses.
func (r *Resolver) Load(path string) (*Node, error) {
	candidates := r.Candidates(path)
	var lastErr error
	for _, candidate := range candidates {
		doc, err := r.parseFile(candidate)
		if err == nil {
			metrics.DocumentResolutions.WithLabelValues("found").Inc()
			return doc, nil
		}
		lastErr = err
	}
	metrics.DocumentResolutions.WithLabelValues("not_found").Inc()
	return nil, &DocumentNotFoundError{Path: path, Candidates: candidates, Err: lastErr}
}

func (r *Resolver) parseFile(name string) (*Node, error) {
	f, err := r.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return ParseXMLBytes(data)
}
