/*
Package shim makes a fetched bundle document safe and self-consistent
before it reaches the sandbox.

# Passes

Applied in order, each idempotent:

 1. Normalize malformed import syntax the generation model is known to emit
 2. Rewrite the import map so every copy of a shared runtime library
    resolves to one pinned instance
 3. Inject support libraries that are referenced but never loaded, in
    dependency order
 4. Relax the document security policy only as far as the pinned sources
    require
 5. Reverse server-side template escaping inside script regions

A malformed import map aborts the pipeline: executing a bundle with an
inconsistent resolution map produces duplicate stateful runtimes and
null-reference failures that are near-impossible to diagnose downstream.
*/
package shim
