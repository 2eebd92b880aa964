package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/njdelapaz/Translation-Without-Supervision/internal/stage"
)

// Passthrough is a placeholder procedure that copies inputs to outputs
// instead of running the real tool. Its outputs are always reported as
// degraded.
type Passthrough struct {
	// Copies maps output keys to the input key they are copied from.
	Copies map[string]string
	Reason string
}

var _ stage.Procedure = (*Passthrough)(nil)

// Run copies every mapped input and marks the invocation degraded.
func (p *Passthrough) Run(ctx context.Context, inv *stage.Invocation) error {
	if len(p.Copies) == 0 {
		return fmt.Errorf("pass-through shim for %s copies nothing", inv.UnitID)
	}

	outputs := make([]string, 0, len(p.Copies))
	for out := range p.Copies {
		outputs = append(outputs, out)
	}
	sort.Strings(outputs)

	for _, out := range outputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := inv.Input(p.Copies[out])
		if err != nil {
			return err
		}
		dst, err := inv.Output(out)
		if err != nil {
			return err
		}
		if err := CopyFile(src, dst); err != nil {
			return fmt.Errorf("pass-through %s -> %s: %w", p.Copies[out], out, err)
		}
		fmt.Fprintf(inv.LogWriter(), "pass-through: copied %s to %s\n", p.Copies[out], out)
	}

	reason := p.Reason
	if reason == "" {
		reason = "pass-through shim copied inputs instead of running the tool"
	}
	inv.MarkDegraded(reason)
	return nil
}

// CopyFile copies the regular file src to dst, truncating dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
