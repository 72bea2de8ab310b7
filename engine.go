package xquery

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"xquery-go/internal/metrics"
)

// Result is the outcome of one Execute call. Results is empty whenever
// Success is false.
type Result struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Results []string `json:"results"`
}

// Engine executes queries. It holds configuration only, so one Engine may
// serve concurrent Execute calls.
type Engine struct {
	fs          billy.Filesystem
	projectRoot string
	logger      *slog.Logger
}

type Option func(*Engine)

// WithFilesystem sets the filesystem doc() paths are read from.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(e *Engine) { e.fs = fs }
}

// WithProjectRoot sets the fallback base directory for relative doc() paths.
func WithProjectRoot(dir string) Option {
	return func(e *Engine) { e.projectRoot = dir }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.fs == nil {
		e.fs = osfs.New("/")
	}
	if e.projectRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			e.projectRoot = wd
		}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Execute runs query against the XML document in xmlContent. Relative
// doc() paths are tried under workingDir first, then under the project
// root. No error or panic escapes: failures are reported in the Result.
func (e *Engine) Execute(xmlContent, query, workingDir string) (res Result) {
	start := time.Now()
	log := e.logger.With("exec_id", uuid.NewString())
	mode := ModeBare
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = &EvaluationError{Err: recoveredError(r)}
		}
		if err != nil {
			log.Warn("query failed", "mode", mode, "kind", ErrorKind(err), "err", err)
			res = Result{Success: false, Message: err.Error(), Results: []string{}}
		} else {
			log.Debug("query executed", "mode", mode, "results", len(res.Results), "elapsed", time.Since(start))
		}
		metrics.ObserveExecution(mode, ErrorKind(err), time.Since(start))
	}()

	doc, err := ParseXML(xmlContent)
	if err != nil {
		return res
	}
	q := prepare(query)
	log.Debug("preprocessed query", "body", q.Body, "namespaces", len(q.Prolog.Namespaces))

	r := newRenderer(doc, q.Prolog, NewResolver(e.fs, workingDir, e.projectRoot), log)
	var results []string
	mode, results, err = r.render(q.Body)
	if err != nil {
		return res
	}
	if results == nil {
		results = []string{}
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Query executed successfully: %d result(s)", len(results)),
		Results: results,
	}
}

// Execute runs query with a default Engine rooted at the process working
// directory.
func Execute(xmlContent, query, workingDir string) Result {
	return New().Execute(xmlContent, query, workingDir)
}
