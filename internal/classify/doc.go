// Package classify maps raw failure text from any pipeline stage onto a
// bounded error taxonomy.
//
// Classification is an ordered rule table, not a type hierarchy: each rule
// is a (predicate, template) pair evaluated top to bottom with the most
// specific pattern first. Every failure in the system passes through
// Classify before it reaches the recovery orchestrator or the user.
package classify
