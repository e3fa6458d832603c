// Package scanstreams is a distributed, resumable content-matching
// pipeline.
//
// # Architecture
//
// A scan walks three conceptual steps, each carried on a durable broker
// queue so any step can be retried or resumed on another process:
//
//   - Exploration: a Source (filesystem tree, SMB share, IMAP account, or
//     a derived source such as an mbox file or zip archive found inside
//     another source) is enumerated into Handles, each naming one item.
//   - Conversion: a Handle is followed to a Resource and exactly the
//     representation the next rule leaf needs is extracted from it.
//   - Matching: a boolean rule tree (regex, CPR, last-modified leaves
//     under and/or/not) is evaluated incrementally; when it needs a
//     representation that has not been computed yet, the evaluation
//     suspends and travels back to the converter as plain data.
//
// Matched items additionally pass a metadata tagger, and everything that
// leaves the system goes through the exporter, which censors credentials
// from every Source and Handle before results are published.
//
// # Packages
//
//   - model: Sources, Handles, Resources, and the SourceManager session
//     cache.
//   - rule: the rule tree, Split/Evaluate, and the CPR calculator.
//   - pipeline: wire messages, the Stage runtime, and the five stages.
//   - natsclient: the JetStream transport wrapper.
//   - engine, config, cmd/scanstreams: process assembly and CLI.
//
// Delivery is at-least-once end to end: a stage acknowledges its input
// only after every output it produced has been confirmed by the broker.
package scanstreams
