// Package mainboilerplate contains shared boilerplate for this project's
// programs: logging setup, INI/flag configuration parsing, diagnostics
// serving and sub-command registration.
package mainboilerplate
