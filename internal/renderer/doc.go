/*
Package renderer is the top of the artifact pipeline: per artifact it
picks one execution strategy, wires the shim, transpiler, sandbox, and
recovery orchestrator together, and owns the watchdog.

# Control flow

Construction flows top-down (dispatcher, strategy builder, sandbox) and
failure flows bottom-up (sandbox message, classifier, orchestrator,
dispatcher, host callbacks). Every sandbox message funnels through one
dispatch function per session, which keeps duplicate and out-of-order
delivery easy to reason about.

# Lifecycle

All mutable state is held in an explicit per-artifact Session. An artifact
identity change tears the session state down completely: recovery resets,
the watchdog restarts, transient references are released, and the old
sandbox instance is closed. Async results from before the change carry a
stale generation number and are dropped before any state mutation.
*/
package renderer
