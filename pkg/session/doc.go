// Package session persists conversation transcripts as JSONL files, one
// file per session, and prunes old transcripts on a schedule.
//
// Each line is a self-contained Entry so a transcript can be tailed or
// partially recovered after a crash. Writes are append-only and synced;
// corrupted lines are skipped on load and can be dropped for good with
// Repair.
package session
