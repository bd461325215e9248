/*
Package sandbox builds the content an isolated execution context runs and
defines the message protocol used to observe it.

# Execution model

Each artifact gets its own Instance: a goja VM evaluating the document's
scripts under a wall-clock interrupt, reachable from the host only through
an unordered message channel. There is no shared memory between host and
guest; a guest that hangs is cut off by the timeout and a guest that
throws surfaces as an error message, never as a host panic.

# Message protocol

Three message shapes cross the boundary: ready, error{message} and
render-complete{success, error?}. Delivery is unordered, duplicates are
possible, and error text is truncated to MaxErrorLength on receipt.
Messages whose origin is neither the sandbox's null-origin report nor the
host's own origin are discarded before any state change.
*/
package sandbox
