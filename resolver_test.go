package xquery

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

func newTestFS(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for name, content := range files {
		if err := util.WriteFile(fs, name, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return fs
}

func TestResolverCandidates(t *testing.T) {
	tests := []struct {
		name       string
		workingDir string
		root       string
		path       string
		want       []string
	}{
		{"working dir then root", "/work", "/proj", "f.xml", []string{"/work/f.xml", "/proj/f.xml"}},
		{"same dir once", "/proj", "/proj", "f.xml", []string{"/proj/f.xml"}},
		{"no working dir", "", "/proj", "sub/f.xml", []string{"/proj/sub/f.xml"}},
		{"absolute", "/work", "/proj", "/data/../abs.xml", []string{"/abs.xml"}},
		{"no bases", "", "", "f.xml", []string{"f.xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(memfs.New(), tt.workingDir, tt.root)
			if got := r.Candidates(tt.path); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Candidates(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestResolverRelativeBases(t *testing.T) {
	chdirForTest(t, t.TempDir())
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(memfs.New(), "work", "./proj/../root")
	want := []string{filepath.Join(wd, "work", "f.xml"), filepath.Join(wd, "root", "f.xml")}
	if got := r.Candidates("f.xml"); !reflect.DeepEqual(got, want) {
		t.Errorf("Candidates = %v, want %v", got, want)
	}
}

func TestResolverRewrite(t *testing.T) {
	fs := newTestFS(t, map[string]string{
		"/work/a.xml": "<a><x>1</x></a>",
		"/proj/b.xml": "<b/>",
	})
	r := NewResolver(fs, "/work", "/proj")

	out, bound, err := r.Rewrite(`count(doc("a.xml")//x) + count(fn:doc('b.xml')/b)`)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if out != "count($__doc_0//x) + count($__doc_1/b)" {
		t.Errorf("Rewrite = %q", out)
	}
	if len(bound) != 2 || bound["__doc_0"].Children[0].Name != "a" || bound["__doc_1"].Children[0].Name != "b" {
		t.Errorf("unexpected bindings: %v", bound)
	}

	out, bound, err = r.Rewrite(`doc("a.xml")`)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if out != "$__doc_2" || len(bound) != 1 {
		t.Errorf("second Rewrite = %q, %v", out, bound)
	}
}

func TestResolverLoadFallsThrough(t *testing.T) {
	fs := newTestFS(t, map[string]string{
		"/work/f.xml": "<broken>",
		"/proj/f.xml": "<ok/>",
	})
	doc, err := NewResolver(fs, "/work", "/proj").Load("f.xml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Children[0].Name != "ok" {
		t.Errorf("loaded %q, want ok", doc.Children[0].Name)
	}
}

func TestResolverNotFound(t *testing.T) {
	r := NewResolver(memfs.New(), "/work", "/proj")
	_, _, err := r.Rewrite(`doc("nonexistent.xml")/a`)
	var docErr *DocumentNotFoundError
	if !errors.As(err, &docErr) {
		t.Fatalf("error = %v, want DocumentNotFoundError", err)
	}
	if docErr.Path != "nonexistent.xml" {
		t.Errorf("Path = %q", docErr.Path)
	}
	for _, c := range []string{"/work/nonexistent.xml", "/proj/nonexistent.xml"} {
		if !strings.Contains(err.Error(), c) {
			t.Errorf("message %q does not list %s", err.Error(), c)
		}
	}
	if ErrorKind(err) != "DocumentNotFound" {
		t.Errorf("ErrorKind = %q", ErrorKind(err))
	}
}
