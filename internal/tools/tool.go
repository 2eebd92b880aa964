package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
)

// Command is one external program a tool runs. Every string is a
// text/template evaluated against the invocation.
type Command struct {
	Args   []string
	Stdin  string
	Stdout string
	Env    map[string]string
}

// Languages are the codes exposed to templates as src and tgt.
type Languages struct {
	Source string
	Target string
}

// Tool is a stage procedure backed by a sequence of external commands.
type Tool struct {
	name      string
	langs     Languages
	commands  []compiledCommand
	transient []*regexp.Regexp
}

type compiledCommand struct {
	args   []*template.Template
	stdin  *template.Template
	stdout *template.Template
	env    map[string]*template.Template
}

var _ stage.Procedure = (*Tool)(nil)

// NewTool parses every template and transient pattern up front so that a
// broken definition is a configuration problem rather than a stage failure.
func NewTool(name string, commands []Command, transient []string, langs Languages) (*Tool, error) {
	if len(commands) == 0 {
		return nil, fmt.Errorf("tool %s: no commands", name)
	}

	t := &Tool{name: name, langs: langs}
	for i, c := range commands {
		if len(c.Args) == 0 {
			return nil, fmt.Errorf("tool %s: command %d has no arguments", name, i+1)
		}
		cc := compiledCommand{env: make(map[string]*template.Template, len(c.Env))}
		for j, arg := range c.Args {
			tmpl, err := parse(fmt.Sprintf("%s.%d.arg%d", name, i+1, j), arg)
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", name, err)
			}
			cc.args = append(cc.args, tmpl)
		}
		var err error
		if cc.stdin, err = parseOptional(fmt.Sprintf("%s.%d.stdin", name, i+1), c.Stdin); err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		if cc.stdout, err = parseOptional(fmt.Sprintf("%s.%d.stdout", name, i+1), c.Stdout); err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		for k, v := range c.Env {
			if cc.env[k], err = parse(fmt.Sprintf("%s.%d.env.%s", name, i+1, k), v); err != nil {
				return nil, fmt.Errorf("tool %s: %w", name, err)
			}
		}
		t.commands = append(t.commands, cc)
	}

	for _, pattern := range transient {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("tool %s: transient pattern %q: %w", name, pattern, err)
		}
		t.transient = append(t.transient, re)
	}
	return t, nil
}

// Run executes the commands in order inside the invocation's temp dir. Output
// is appended to the stage log. A failing command whose output matches one
// of the transient patterns is reported as retryable; anything else is fatal.
func (t *Tool) Run(ctx context.Context, inv *stage.Invocation) error {
	log := inv.LogWriter()
	funcs := t.funcs(inv)

	for i, cc := range t.commands {
		args := make([]string, 0, len(cc.args))
		for _, tmpl := range cc.args {
			arg, err := render(tmpl, funcs)
			if err != nil {
				return err
			}
			args = append(args, arg)
		}

		cmd := exec.CommandContext(ctx, args[0], args[1:]...)
		cmd.Dir = inv.TempDir
		env, err := t.env(cc, funcs, inv)
		if err != nil {
			return err
		}
		cmd.Env = env

		var files []*os.File
		closeAll := func() {
			for _, f := range files {
				_ = f.Close()
			}
		}
		if cc.stdin != nil {
			path, err := render(cc.stdin, funcs)
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("%s: stdin: %w", t.name, err)
			}
			files = append(files, f)
			cmd.Stdin = f
		}
		if cc.stdout != nil {
			path, err := render(cc.stdout, funcs)
			if err != nil {
				closeAll()
				return err
			}
			f, err := os.Create(path)
			if err != nil {
				closeAll()
				return fmt.Errorf("%s: stdout: %w", t.name, err)
			}
			files = append(files, f)
			cmd.Stdout = f
		}

		fmt.Fprintf(log, "$ %s\n", strings.Join(args, " "))
		res, err := RunStreaming(cmd, log)
		closeAll()
		if err != nil {
			return t.classify(ctx, i, args[0], res, err)
		}
	}
	return nil
}

func (t *Tool) classify(ctx context.Context, index int, program string, res Result, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: command %d (%s) interrupted: %w", t.name, index+1, program, ctxErr)
	}

	failure := fmt.Errorf("%s: command %d (%s) failed: %w", t.name, index+1, program, err)
	if out := PrimaryOutput(res); out != "" {
		failure = fmt.Errorf("%w: %s", failure, lastLine(out))
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return failure
	}
	for _, re := range t.transient {
		for _, stream := range []string{res.Stderr, res.Stdout} {
			if match := re.FindString(stream); match != "" {
				return stage.Retryable(failure, match)
			}
		}
	}
	return failure
}

func (t *Tool) env(cc compiledCommand, funcs template.FuncMap, inv *stage.Invocation) ([]string, error) {
	env := append(os.Environ(),
		"UNMT_THREADS="+strconv.Itoa(inv.Threads),
		"UNMT_TMPDIR="+inv.TempDir,
		"UNMT_ATTEMPT="+strconv.Itoa(inv.Attempt),
	)
	for k, tmpl := range cc.env {
		v, err := render(tmpl, funcs)
		if err != nil {
			return nil, err
		}
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env, nil
}

func (t *Tool) funcs(inv *stage.Invocation) template.FuncMap {
	return template.FuncMap{
		"input":  inv.Input,
		"output": inv.Output,
		"param":  inv.Param,
		"threads": func() int {
			return inv.Threads
		},
		"tmp": func(name ...string) string {
			return filepath.Join(append([]string{inv.TempDir}, name...)...)
		},
		"src":       func() string { return t.langs.Source },
		"tgt":       func() string { return t.langs.Target },
		"round":     func() int { return inv.Round },
		"direction": func() string { return string(inv.Direction) },
	}
}

// placeholderFuncs lets templates parse before an invocation exists.
var placeholderFuncs = template.FuncMap{
	"input":     func(string) (string, error) { return "", nil },
	"output":    func(string) (string, error) { return "", nil },
	"param":     func(string) string { return "" },
	"threads":   func() int { return 0 },
	"tmp":       func(...string) string { return "" },
	"src":       func() string { return "" },
	"tgt":       func() string { return "" },
	"round":     func() int { return 0 },
	"direction": func() string { return "" },
}

func parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(placeholderFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", text, err)
	}
	return tmpl, nil
}

func parseOptional(name, text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return parse(name, text)
}

// render executes a clone of tmpl so concurrent rounds never share a
// function map.
func render(tmpl *template.Template, funcs template.FuncMap) (string, error) {
	clone, err := tmpl.Clone()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := clone.Funcs(funcs).Execute(&b, nil); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
