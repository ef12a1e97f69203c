// Package main hosts the fmribatch CLI.
//
// The Cobra command tree covers the two halves of an fmriprep study on a
// cluster: rendering and submitting the per-subject job array (script,
// pending) and post-processing the derivatives it produces (scan, run,
// history). Configuration, logging and the ledger are resolved here once so
// the internal packages only ever see explicit values.
package main
