// Package render fills mail template records with values from a kintone
// notification. Templates are mustache: variables, sections, inverted sections
// and comments, rendered without HTML escaping. Single-string Sprig functions
// are available as helper sections.
package render
