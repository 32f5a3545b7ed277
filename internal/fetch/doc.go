// Package fetch downloads remote configuration text, JSON documents and
// archives over HTTP.
//
// Every request is retried with exponential backoff (internal/retry). Client
// errors other than 408 and 429 are permanent and fail on the first attempt.
// Small documents fetched with Bytes, Text or JSON are held in a TTL cache so
// both dump modes share one download per process; Download streams to disk
// through a temporary file and is never cached. Failures surface as
// services.KindFetch errors.
package fetch
