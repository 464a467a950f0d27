// Package validation provides the checks shared by poolserve constructors
// and the configuration loader.
//
// Every function returns nil or a *errors.ValidationError carrying the
// module, field, offending value and a hint, so callers can surface
// consistent messages without repeating boilerplate.
package validation
