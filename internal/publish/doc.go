// Package publish uploads finished output files to object storage.
//
// Buckets are addressed with gocloud.dev/blob URLs; the s3, gcs, file and
// mem drivers are linked in:
//
//	s3://bucket?region=eu-west-1
//	gs://bucket
//	file:///var/lib/results
//	mem://
//
// Uploads are retried with exponential backoff and jitter. Argument,
// permission and missing-file errors fail immediately.
package publish
