package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell assumptions do not hold on Windows")
	}
}

func executeCommand(cmd *cobra.Command, args ...string) (string, error) {
	cmd.SetArgs(args)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	err := cmd.Execute()
	return buf.String(), err
}

var stageLayout = []struct {
	name    string
	inputs  []string
	outputs []string
}{
	{"preprocess", []string{"corpus.src", "corpus.tgt"}, []string{"mono.src", "mono.tgt"}},
	{"train-lm", []string{"mono.src", "mono.tgt"}, []string{"lm.src", "lm.tgt"}},
	{"train-embeddings", []string{"mono.src", "mono.tgt"}, []string{"emb.src", "emb.tgt"}},
	{"map-embeddings", []string{"emb.src", "emb.tgt"}, []string{"mapped.src", "mapped.tgt"}},
	{"induce-phrase-table", []string{"mapped.src", "mapped.tgt"}, []string{"phrase-table.src2tgt", "phrase-table.tgt2src"}},
	{"build-initial-model", []string{"phrase-table.src2tgt", "lm.src"}, []string{"model.src2tgt", "model.tgt2src"}},
	{"tune", []string{"model.src2tgt", "model.tgt2src"}, []string{"tuned.src2tgt", "tuned.tgt2src"}},
	{"generate-bitext", []string{"bt.src2tgt", "bt.tgt2src"}, []string{"bitext.src", "bitext.tgt"}},
	{"train-nmt", []string{"bitext.src", "bitext.tgt"}, []string{"nmt.src2tgt", "nmt.tgt2src"}},
}

// writeTrainingConfig writes corpora and a configuration whose tools are
// small shell commands. The stage named failing exits with an error.
func writeTrainingConfig(t *testing.T, failing string) string {
	t.Helper()
	skipOnWindows(t)

	dir := t.TempDir()
	var src, tgt strings.Builder
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&src, "the cat %d\n", i)
		fmt.Fprintf(&tgt, "le chat %d\n", i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "news.en"), []byte(src.String()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "news.fr"), []byte(tgt.String()), 0o644))

	var b strings.Builder
	b.WriteString(`workdir: work
threads: 2
source:
  lang: en
  corpus: news.en
target:
  lang: fr
  corpus: news.fr
retry:
  max_retries: 0
backtranslation:
  rounds: 1
  sample_size: 3
  seed: 5
  translate:
    commands:
      - args: [sed, 's/^/bt: /', '{{input "input"}}']
        stdout: '{{output "output"}}'
  retrain:
    commands:
      - args: [sh, -c, 'echo "$0"; cat "$@"', retrain, '{{input "model"}}', '{{input "synthetic.src"}}']
        stdout: '{{output "model"}}'
stages:
`)
	for _, st := range stageLayout {
		fmt.Fprintf(&b, "  %s:\n    commands:\n", st.name)
		if st.name == failing {
			b.WriteString("      - args: [sh, -c, 'echo boom >&2; exit 3']\n")
			continue
		}
		for _, out := range st.outputs {
			fmt.Fprintf(&b, "      - args: [sh, -c, 'echo \"$0\"; cat \"$@\"', %s", st.name)
			for _, in := range st.inputs {
				fmt.Fprintf(&b, `, '{{input "%s"}}'`, in)
			}
			fmt.Fprintf(&b, "]\n        stdout: '{{output \"%s\"}}'\n", out)
		}
	}

	path := filepath.Join(dir, "unmt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}
