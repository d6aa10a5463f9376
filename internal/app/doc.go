// Package app provides the application service layer.
//
// Runs the change-detection pollers, the price alert evaluator and the
// request-log retention job, and decides which delivery scope each event
// goes to. Depends on domain interfaces, not concrete adapters.
package app
