// Package core executes single transform steps against concrete artifacts.
//
// # Workspaces
//
// Every execution happens in a workspace keyed by an Identity. Three modes
// exist:
//
//  1. Mutable: project artifacts whose transform wants incremental input
//     changes. The workspace persists across builds and its execution
//     history lives in a history.Store.
//  2. Immutable: project artifacts without incremental needs. Identity covers
//     the normalized input path and the full content hash. Workspaces are
//     write-once and reused indefinitely.
//  3. ImmutableRaw: artifacts outside any project. Identity uses a cheap
//     metadata hash and lives in its own bucket.
//
// # Results
//
// A successful execution is summarized by an ExecutionResult, an ordered
// list of outputs classified as the entire input artifact, a part of it, or a
// file produced under the workspace output directory. The result is persisted
// as a results file of "i/" and "o/" lines and replayed on later hits without
// invoking the action.
//
// Failures are never persisted. At most one execution per identity runs at a
// time; concurrent callers share its outcome.
package core
