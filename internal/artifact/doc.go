// Package artifact defines the program unit emitted by the generative model
// and the rules for choosing how to execute it.
//
// A Program is immutable; edits replace it wholesale with a new identity so
// that downstream sandbox state is always rebuilt. Strategy selection is a
// pure function of the program's attributes and is re-run whenever a bundle
// reference arrives after the program was first displayed.
package artifact
