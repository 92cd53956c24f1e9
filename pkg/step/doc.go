// Package step implements the render-and-route step: it selects a template,
// builds a rendering context from a record, renders it, writes the result to
// a fresh file and routes the record to exactly one relationship.
//
// Processing runs through a fixed sequence of phases. The first phase that
// fails decides the relationship: content that is not a JSON object goes to
// json_failure, every other failure goes to failure, and a record that makes
// it through every phase goes to success with the output path attached.
package step
