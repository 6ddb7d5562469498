// Package pipeline is the single orchestration path from a citizen's report
// to a stored record: normalize, validate, queue while offline, pause on a
// nearby duplicate, upload attachments and write the record, cleaning up
// uploads when a later step fails.
package pipeline
