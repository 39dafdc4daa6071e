// Package config defines configuration structures for the chunkline CLI.
//
// Configuration can be provided via, in increasing precedence:
//   - YAML configuration file, checked against an embedded JSON schema
//   - Environment variables (CHUNKLINE_ prefix)
//   - Command-line flags
//
// # Structure
//
//	type Config struct {
//	    Input        string
//	    Output       string
//	    Transform    string // registry name, e.g. "upper" or "repeat:10"
//	    ChunkSize    int    // lines per chunk
//	    Workers      int
//	    WorkspaceDir string
//	    Overwrite    bool
//	    Isolate      bool   // run chunks in worker subprocesses
//	    Publish      PublishConfig
//	    ...
//	}
//
//	type PublishConfig struct {
//	    Bucket string
//	    Object string
//	    Retry  RetryConfig
//	}
package config
