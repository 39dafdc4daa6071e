package chunked

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/ligustah/chunkline/pkg/pool"
)

// maxChunks keeps chunk names fixed-width so that lexicographic order of the
// file names equals ordinal order.
const maxChunks = 100_000_000

// Chunk is one contiguous slice of the input stored as its own file.
type Chunk struct {
	Index int
	Path  string
	Lines int
	Bytes int64
}

// ResultPath returns the file a worker writes this chunk's output to.
func (c Chunk) ResultPath() string {
	return c.Path + ResultSuffix
}

// chunkName returns the file name of chunk idx.
func chunkName(idx int) string {
	return fmt.Sprintf("part-%08d", idx)
}

// Manifest describes the chunks produced from one input file.
type Manifest struct {
	Input      string
	Dir        string
	ChunkLines int
	TotalLines int64
	TotalBytes int64
	Chunks     []Chunk
}

// Tasks returns one pool task per chunk, in ordinal order.
func (m *Manifest) Tasks() []pool.Task {
	tasks := make([]pool.Task, len(m.Chunks))
	for i, c := range m.Chunks {
		tasks[i] = pool.Task{Index: c.Index, Input: c.Path, Output: c.ResultPath()}
	}
	return tasks
}

// Splitter divides an input file into chunk files of at most ChunkLines
// lines. Lines are copied byte for byte, terminators included.
type Splitter struct {
	ChunkLines int

	// CheckEncoding rejects input that is not valid UTF-8. The check runs
	// during the single pass over the input, before any worker starts.
	CheckEncoding bool
}

// Split creates the workspace and fills it with chunk files. The last chunk
// may be partially filled; an empty input yields a single empty chunk.
func (s Splitter) Split(ctx context.Context, input string, ws *Workspace) (*Manifest, error) {
	if s.ChunkLines <= 0 {
		return nil, wrapf(ErrValidation, "chunk size must be positive, got %d", s.ChunkLines)
	}
	if err := ws.Create(); err != nil {
		return nil, err
	}

	in, err := os.Open(input)
	if err != nil {
		return nil, splitError("open input", input, err)
	}
	defer in.Close()

	m := &Manifest{
		Input:      input,
		Dir:        ws.Path(),
		ChunkLines: s.ChunkLines,
	}
	w := &chunkWriter{dir: ws.Path()}
	defer w.abort()

	if err := w.open(0); err != nil {
		return nil, err
	}

	r := bufio.NewReaderSize(in, 64*1024)
	var lineNo int64
	for {
		line, readErr := r.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			if lineNo%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if s.CheckEncoding && !utf8.Valid(line) {
				return nil, validationError("decode input", input, fmt.Errorf("line %d is not valid UTF-8", lineNo))
			}

			// Rotate lazily so an exact multiple of ChunkLines does not
			// leave a trailing empty chunk.
			if w.cur.Lines == s.ChunkLines {
				if err := w.close(m); err != nil {
					return nil, err
				}
				if err := w.open(len(m.Chunks)); err != nil {
					return nil, err
				}
			}
			if err := w.write(line); err != nil {
				return nil, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, splitError("read input", input, readErr)
		}
	}

	if err := w.close(m); err != nil {
		return nil, err
	}
	return m, nil
}

// chunkWriter writes the chunk currently being filled.
type chunkWriter struct {
	dir string
	f   *os.File
	bw  *bufio.Writer
	cur Chunk
}

func (w *chunkWriter) open(idx int) error {
	if idx >= maxChunks {
		return splitError("create chunk", w.dir, fmt.Errorf("more than %d chunks, increase the chunk size", maxChunks))
	}
	path := filepath.Join(w.dir, chunkName(idx))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return splitError("create chunk", path, err)
	}
	w.f = f
	w.bw = bufio.NewWriterSize(f, 64*1024)
	w.cur = Chunk{Index: idx, Path: path}
	return nil
}

func (w *chunkWriter) write(line []byte) error {
	n, err := w.bw.Write(line)
	if err != nil {
		return splitError("write chunk", w.cur.Path, err)
	}
	w.cur.Lines++
	w.cur.Bytes += int64(n)
	return nil
}

// close flushes the current chunk and appends it to the manifest.
func (w *chunkWriter) close(m *Manifest) error {
	err := w.bw.Flush()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	if err != nil {
		return splitError("close chunk", w.cur.Path, err)
	}
	m.Chunks = append(m.Chunks, w.cur)
	m.TotalLines += int64(w.cur.Lines)
	m.TotalBytes += w.cur.Bytes
	return nil
}

// abort closes a chunk left open by an error. The workspace owner removes
// the file.
func (w *chunkWriter) abort() {
	if w.f != nil {
		w.f.Close()
		w.f = nil
	}
}
