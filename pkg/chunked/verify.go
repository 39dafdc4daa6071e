package chunked

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// VerifyResult reports whether every chunk has a result file.
type VerifyResult struct {
	Valid        bool     // true if all result files exist
	ChunkCount   int      // number of chunks checked
	Missing      int      // number of result files that don't exist
	MissingFirst string   // first missing result file in ordinal order
	Errors       []string // detailed messages
}

// VerifyResults checks that the result file of every chunk exists and is a
// regular file. It only stats files and reads no data.
//
// Missing results are reported in the VerifyResult with Valid=false. An
// error is returned only when a file cannot be inspected for another
// reason, such as a permission problem.
func VerifyResults(chunks []Chunk) (*VerifyResult, error) {
	result := &VerifyResult{
		Valid:      true,
		ChunkCount: len(chunks),
		Errors:     make([]string, 0),
	}

	for _, c := range chunks {
		path := c.ResultPath()
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				result.Valid = false
				result.Missing++
				if result.MissingFirst == "" {
					result.MissingFirst = path
				}
				result.Errors = append(result.Errors,
					fmt.Sprintf("chunk %d result missing: %s", c.Index, path))
				continue
			}
			return nil, fmt.Errorf("chunked: check result %d: %w", c.Index, err)
		}
		if !info.Mode().IsRegular() {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("chunk %d result is not a regular file: %s", c.Index, path))
		}
	}

	return result, nil
}
