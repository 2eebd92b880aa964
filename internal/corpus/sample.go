package corpus

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
)

// maxLineBytes bounds a single corpus line.
const maxLineBytes = 1 << 20

// Sample draws up to size non-blank lines from the corpus at path using
// reservoir sampling and writes them to w in their original order. The same
// seed always selects the same lines, so a resumed round reproduces its
// sample exactly. It returns the number of lines written.
func Sample(path string, w io.Writer, size int, seed uint64) (int, error) {
	if size <= 0 {
		return 0, fmt.Errorf("sample size must be positive, got %d", size)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	type line struct {
		index int
		text  string
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	reservoir := make([]line, 0, size)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	seen := 0
	for scanner.Scan() {
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if len(reservoir) < size {
			reservoir = append(reservoir, line{index: seen, text: text})
		} else if j := rng.IntN(seen + 1); j < size {
			reservoir[j] = line{index: seen, text: text}
		}
		seen++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read corpus %s: %w", path, err)
	}

	sort.Slice(reservoir, func(i, j int) bool { return reservoir[i].index < reservoir[j].index })

	bw := bufio.NewWriter(w)
	for _, l := range reservoir {
		if _, err := bw.WriteString(l.text + "\n"); err != nil {
			return 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return len(reservoir), nil
}

// SampleFile is Sample writing into a new file at dst.
func SampleFile(path, dst string, size int, seed uint64) (int, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create sample: %w", err)
	}
	n, err := Sample(path, out, size, seed)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return n, err
}

// RoundSeed derives the sampling seed of one direction of one round.
func RoundSeed(base int64, round int, direction string) uint64 {
	h := uint64(base)
	h ^= uint64(round) * 0x100000001b3
	for _, c := range []byte(direction) {
		h = (h ^ uint64(c)) * 0x100000001b3
	}
	return h
}
