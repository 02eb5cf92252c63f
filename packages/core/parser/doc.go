// Package parser reads .http suite files for the runner.
//
// A file holds "@name = value" variables and requests separated by "###"
// lines. Each request may carry annotations (@name, @tags, @skip,
// @timeout, @repeat, @retry, @retryDelay, @auth, @stream, @adapter),
// query lines, headers and a body, followed by ">>> ... <<<" assertion
// blocks and ">>> capture ... <<<" blocks.
package parser
