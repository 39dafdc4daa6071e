// Package progress provides progress reporting for chunkline jobs.
//
// A [Reporter] implements pool.Sink and outputs human-readable progress
// information, including completion percentage, line throughput, and ETA.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalChunks: len(manifest.Chunks),
//	    TotalLines:  manifest.TotalLines,
//	    Output:      os.Stderr,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
// # Output Format
//
//	[chunkline] Transforming: /data/in.txt
//	[chunkline] Input: 1,000,000 lines, 6.7 MiB | Chunks: 100 x 10,000 lines | Workers: 8
//	[chunkline] Progress: 45.0% | 450,000 / 1,000,000 lines | Speed: 210,000 lines/s | ETA: 3s
//	[chunkline] Chunks: 45 completed | 8 in-progress | 47 pending
package progress
