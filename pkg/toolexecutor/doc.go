// Package toolexecutor routes tool calls issued by the model to their
// implementations and exposes the catalog of callable tools.
//
// Tool names follow the <source>__<tool> convention. First-party sources
// (file, search, web, todo, report) register Go handlers directly with the
// Registry; every other source is treated as an external tool server
// reached over stdio JSON-RPC. Third-party tools pass through a static
// allowlist fixed when the server is registered, so the callable surface
// never grows mid-session.
//
// Invariants:
//   - Dispatch never returns a Go error for a tool failure. Handler errors,
//     panics, validation failures, and unknown names all come back as
//     error-flagged results whose content starts with "Error: ".
//   - First-party inputs are validated against the tool's JSON schema
//     before the handler runs.
//   - The catalog is assembled at registration time; Catalog is a pure read.
package toolexecutor
