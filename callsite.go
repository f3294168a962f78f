package hypertracez

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/mod/modfile"
)

// maxCaptureFrames bounds the program counters captured per resolution.
const maxCaptureFrames = 8

// Resolver turns stack frames into CallSites with paths relative to a base directory.
// A Resolver is immutable and safe for concurrent use.
type Resolver struct {
	baseDir string
}

// NewResolver creates a resolver that reports paths relative to baseDir.
// An empty baseDir falls back to the process working directory.
func NewResolver(baseDir string) *Resolver {
	if baseDir == "" {
		if wd, err := os.Getwd(); err == nil {
			baseDir = wd
		}
	}
	if baseDir != "" {
		if abs, err := filepath.Abs(baseDir); err == nil {
			baseDir = abs
		}
	}
	return &Resolver{baseDir: filepath.ToSlash(baseDir)}
}

// BaseDir returns the directory paths are made relative to.
func (r *Resolver) BaseDir() string {
	return r.baseDir
}

// Capture resolves the frame depth levels above its caller.
// Depth 0 is the function calling Capture, 1 is that function's caller, and so on.
// Wrapping the call in another function shifts the result by one frame, so callers
// must invoke Capture at a fixed depth.
func (r *Resolver) Capture(depth int, className string) (CallSite, error) {
	if depth < 0 || depth >= maxCaptureFrames-1 {
		return CallSite{}, &FrameError{Depth: depth}
	}

	// Skip runtime.Callers itself; frame 0 below is Capture.
	var pcs [maxCaptureFrames]uintptr
	n := runtime.Callers(1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	target := depth + 1
	for i := 0; ; i++ {
		frame, more := frames.Next()
		if i == target {
			site, err := r.ResolveFrame(frame, className)
			var fe *FrameError
			if errors.As(err, &fe) {
				fe.Depth = depth
			}
			return site, err
		}
		if !more {
			break
		}
	}
	return CallSite{}, &FrameError{Depth: depth}
}

// ResolveFrame converts a single frame into a CallSite.
// className is the owning type's name; a method on that type is reported by its bare name.
func (r *Resolver) ResolveFrame(frame runtime.Frame, className string) (CallSite, error) {
	if frame.Function == "" || frame.File == "" || frame.Line <= 0 {
		return CallSite{}, &FrameError{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		}
	}
	return CallSite{
		Function: normalizeFunction(frame.Function, className),
		File:     r.relativePath(frame.File),
		Line:     frame.Line,
	}, nil
}

// relativePath strips the longest common directory prefix shared with the base
// directory and returns the remainder rooted at "/".
func (r *Resolver) relativePath(file string) string {
	file = filepath.ToSlash(file)
	if r.baseDir == "" {
		return file
	}

	fileParts := strings.Split(strings.TrimPrefix(file, "/"), "/")
	baseParts := strings.Split(strings.TrimPrefix(r.baseDir, "/"), "/")

	common := 0
	// The last file segment is the file name and never part of the prefix.
	for common < len(baseParts) && common < len(fileParts)-1 && fileParts[common] == baseParts[common] {
		common++
	}
	if common == 0 {
		return file
	}
	return "/" + strings.Join(fileParts[common:], "/")
}

// normalizeFunction reduces a runtime function name such as
// "github.com/acme/store.(*Store).Get" to "Store.Get", or to "Get" when the
// receiver type is className.
func normalizeFunction(fn, className string) string {
	// Import path ends at the last slash outside of generic brackets.
	if i := lastSlashOutsideBrackets(fn); i >= 0 {
		fn = fn[i+1:]
	}
	// Package qualifier.
	if i := strings.IndexByte(fn, '.'); i >= 0 {
		fn = fn[i+1:]
	}
	// Pointer receivers appear as "(*T).m".
	if strings.HasPrefix(fn, "(*") {
		if end := strings.Index(fn, ")"); end > 0 {
			fn = fn[2:end] + fn[end+1:]
		}
	}
	if className != "" {
		if i := dotOutsideBrackets(fn); i > 0 && stripTypeArgs(fn[:i]) == stripTypeArgs(className) {
			return fn[i+1:]
		}
	}
	return fn
}

func lastSlashOutsideBrackets(s string) int {
	depth := 0
	last := -1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '/':
			if depth == 0 {
				last = i
			}
		}
	}
	return last
}

// dotOutsideBrackets returns the index of the first '.' not inside type arguments.
func dotOutsideBrackets(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '.':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func stripTypeArgs(name string) string {
	if i := strings.IndexByte(name, '['); i >= 0 {
		return name[:i]
	}
	return name
}

// ModuleRoot walks up from dir to the nearest directory holding a go.mod and
// returns that directory together with the declared module path.
func ModuleRoot(dir string) (root, modulePath string, err error) {
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return "", "", fmt.Errorf("module root: %w", err)
		}
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return "", "", fmt.Errorf("module root: %w", err)
	}

	for {
		data, readErr := os.ReadFile(filepath.Join(dir, "go.mod"))
		if readErr == nil {
			modulePath = modfile.ModulePath(data)
			if modulePath == "" {
				return "", "", fmt.Errorf("module root: %s has no module directive", filepath.Join(dir, "go.mod"))
			}
			return dir, modulePath, nil
		}
		if !os.IsNotExist(readErr) {
			return "", "", fmt.Errorf("module root: %w", readErr)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", fmt.Errorf("module root: no go.mod found above %s: %w", dir, os.ErrNotExist)
		}
		dir = parent
	}
}
