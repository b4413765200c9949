// Package progress reports the progress of bulk shard loads.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Subdir:  "linux-64",
//	    Total:   len(keys),
//	    Workers: workers,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	shards, err := shard.LoadSubdir(ctx, bucket, "linux-64", shard.LoadOptions{
//	    Workers:  workers,
//	    OnLoaded: reporter.Loaded,
//	})
//
// # Output Format
//
//	[shardpub] Loading shards: linux-64 | Expected: 81234 | Workers: 8
//	[shardpub] Progress: 45.2% | 36718 / 81234 | Rate: 2104/s | ETA: 21s
//	[shardpub] Loaded: 81234 shards | Total time: 38s | Average rate: 2137/s
package progress
