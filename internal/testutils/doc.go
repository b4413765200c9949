// Package testutils provides shared test infrastructure: an in-memory fake
// of the GitHub API and, behind the integration build tag, a Minio
// container for exercising S3 bucket stores.
package testutils
