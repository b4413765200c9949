// Package pipeline runs one publishing job end to end.
//
// The steps are strictly ordered: check whether the shard is stored
// (stop if so), build it, find or create the release, upload the artifact,
// point the shard at the uploaded artifact, upload the shard, and finally
// store the shard. A shard is therefore never stored before its artifact
// is attached to the release, and a run interrupted at any step can be
// repeated safely.
package pipeline
