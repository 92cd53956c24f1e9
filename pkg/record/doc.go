// Package record models the unit of work handed to the render step by its
// host pipeline: a set of string attributes plus an optional content stream.
package record
