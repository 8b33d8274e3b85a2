// ABOUTME: Package listing filters agent records and renders them as tables or JSON.
// ABOUTME: It holds no state; callers pass records and the instant to render against.

// Package listing is the read-only reporting layer over agent records.
//
// Filters are parsed from the same string flags the CLI and the HTTP API
// accept, so both surfaces reject bad input identically. Rendering has two
// forms: a fixed-width table for humans and JSON that preserves every field.
package listing
