package chunked

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// errNoChunks is returned when a manifest has nothing to merge.
var errNoChunks = errors.New("no chunks")

// Merge concatenates the result files of chunks, in ascending ordinal order,
// into output and returns the number of bytes written.
//
// The merged data goes to a temporary file next to output that is renamed
// into place only after every chunk has been copied, so a failed merge never
// leaves a partial output and never disturbs an existing one.
func Merge(ctx context.Context, chunks []Chunk, output string, overwrite bool) (int64, error) {
	if len(chunks) == 0 {
		return 0, mergeError("merge", output, errNoChunks)
	}
	if !overwrite {
		if _, err := os.Lstat(output); err == nil {
			return 0, validationError("check output", output, fmt.Errorf("%w and overwrite is disabled", fs.ErrExist))
		}
	}

	ordered := slices.Clone(chunks)
	slices.SortFunc(ordered, func(a, b Chunk) int { return cmp.Compare(a.Index, b.Index) })

	check, err := VerifyResults(ordered)
	if err != nil {
		return 0, mergeError("check results", "", err)
	}
	if !check.Valid {
		if check.MissingFirst != "" {
			return 0, mergeError("missing result", check.MissingFirst, fs.ErrNotExist)
		}
		return 0, mergeError("check results", "", errors.New(strings.Join(check.Errors, "; ")))
	}

	dir, name := filepath.Split(output)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+name+".merge-*")
	if err != nil {
		return 0, mergeError("create output", output, err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriterSize(tmp, 1024*1024)
	var written int64
	for _, c := range ordered {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := appendFile(w, c.ResultPath())
		written += n
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return written, mergeError("missing result", c.ResultPath(), err)
			}
			return written, mergeError("copy result", c.ResultPath(), err)
		}
	}

	if err := w.Flush(); err != nil {
		return written, mergeError("write output", output, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return written, mergeError("write output", output, err)
	}
	if err := tmp.Close(); err != nil {
		return written, mergeError("write output", output, err)
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		os.Remove(tmp.Name())
		committed = true
		return written, mergeError("replace output", output, err)
	}
	committed = true
	return written, nil
}

func appendFile(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}
