package toolexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"
)

const (
	// InputPlaceholder is replaced with the image being cleaned.
	InputPlaceholder = "%fin"
	// OutputPlaceholder is replaced with the file recognition will read.
	OutputPlaceholder = "%fout"
)

// ErrBadPipeline marks a cleaning template that cannot be used.
var ErrBadPipeline = errors.New("toolexec: invalid command pipeline")

// Pipeline is a parsed, ordered list of command templates.
type Pipeline struct {
	source string
	cmds   [][]string
}

// ParsePipeline parses a ';'-separated list of shell-style command
// templates. Each token has '~' and environment variables expanded here,
// once; placeholders are substituted later by Commands.
func ParsePipeline(tmpl string) (Pipeline, error) {
	p := Pipeline{source: tmpl}
	for i, part := range strings.Split(tmpl, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		words, err := shellwords.Parse(part)
		if err != nil {
			return Pipeline{}, fmt.Errorf("%w: command %d: %v", ErrBadPipeline, i+1, err)
		}
		if len(words) == 0 {
			continue
		}
		refs := false
		for j, w := range words {
			w = os.ExpandEnv(expandHome(w))
			words[j] = w
			if strings.Contains(w, InputPlaceholder) || strings.Contains(w, OutputPlaceholder) {
				refs = true
			}
		}
		if !refs {
			return Pipeline{}, fmt.Errorf("%w: command %d (%s) uses neither %s nor %s",
				ErrBadPipeline, i+1, words[0], InputPlaceholder, OutputPlaceholder)
		}
		p.cmds = append(p.cmds, words)
	}
	return p, nil
}

func expandHome(w string) string {
	if w != "~" && !strings.HasPrefix(w, "~/") {
		return w
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return w
	}
	return filepath.Join(home, strings.TrimPrefix(w, "~"))
}

// Len returns the number of commands.
func (p Pipeline) Len() int { return len(p.cmds) }

// String returns the template the pipeline was parsed from.
func (p Pipeline) String() string { return p.source }

// Commands returns the argument vectors with placeholders substituted.
func (p Pipeline) Commands(fin, fout string) [][]string {
	out := make([][]string, len(p.cmds))
	for i, c := range p.cmds {
		argv := make([]string, len(c))
		for j, w := range c {
			w = strings.ReplaceAll(w, InputPlaceholder, fin)
			argv[j] = strings.ReplaceAll(w, OutputPlaceholder, fout)
		}
		out[i] = argv
	}
	return out
}

// Run executes every command in order, stopping at the first failure.
func (p Pipeline) Run(ctx context.Context, r Runner, fin, fout string) error {
	for _, argv := range p.Commands(fin, fout) {
		if err := r.Run(ctx, argv[0], argv[1:]...); err != nil {
			return err
		}
	}
	return nil
}
