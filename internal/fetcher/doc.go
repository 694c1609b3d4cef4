// Package fetcher issues authenticated GET requests against the Acuite API.
// A Client bounds the number of requests in flight with a weighted semaphore,
// retries failed attempts with jittered exponential backoff, and reports each
// completed request to a progress emitter.
package fetcher
