// Package transpile converts model-authored component source into plain
// JavaScript the sandbox can execute directly.
//
// The transform is deterministic, makes no network calls, and never
// panics: any failure from the underlying tool is converted into a
// structured Error carrying line/column information where available.
package transpile

import (
	"fmt"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
)

// Result holds successfully transformed code
type Result struct {
	Code    string
	Elapsed time.Duration
}

// Error is a structured transform failure. ToolFailure marks the transform
// tool itself as unavailable, which is more severe than a source defect and
// prompts a full reload rather than a model fix.
type Error struct {
	Message     string
	Detail      string
	Line        int // 1-based, 0 when unknown
	Column      int // 0-based, 0 when unknown
	ToolFailure bool
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("transpile: %s (%d:%d)", e.Message, e.Line, e.Column)
	}
	return "transpile: " + e.Message
}

// Transpile transforms source (JSX/TSX syntax allowed) into executable
// JavaScript. Same source and filename always yield the same output.
func Transpile(source, filename string) (res *Result, terr *Error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			terr = &Error{
				Message:     fmt.Sprintf("transform tool unavailable: %v", r),
				ToolFailure: true,
			}
		}
	}()

	start := time.Now()
	out := api.Transform(source, api.TransformOptions{
		Loader:      loaderFor(filename),
		JSX:         api.JSXTransform,
		JSXFactory:  "React.createElement",
		JSXFragment: "React.Fragment",
		Format:      api.FormatDefault,
		Target:      api.ES2020,
		Sourcefile:  filename,
	})

	if len(out.Errors) > 0 {
		first := out.Errors[0]
		e := &Error{
			Message: first.Text,
			Detail:  joinMessages(out.Errors),
		}
		if first.Location != nil {
			e.Line = first.Location.Line
			e.Column = first.Location.Column
		}
		return nil, e
	}

	return &Result{
		Code:    string(out.Code),
		Elapsed: time.Since(start),
	}, nil
}

func loaderFor(filename string) api.Loader {
	switch {
	case strings.HasSuffix(filename, ".tsx"):
		return api.LoaderTSX
	case strings.HasSuffix(filename, ".ts"):
		return api.LoaderTS
	default:
		return api.LoaderJSX
	}
}

func joinMessages(msgs []api.Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n")
		}
		if m.Location != nil {
			fmt.Fprintf(&sb, "%s:%d:%d: ", m.Location.File, m.Location.Line, m.Location.Column)
		}
		sb.WriteString(m.Text)
	}
	return sb.String()
}
