// Package sse parses Server-Sent Events delivered through the nativehttp
// client, either streamed from the adapter or from a buffered body.
package sse
