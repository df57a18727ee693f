/*
Package types holds the data shapes shared across the kernel: agents,
routing records, deployment records, and the request context handed
back to web-facing callers. Other packages (atlas, frame, kernel, node,
placement) depend on this package; it depends on nothing else in the
module.
*/
package types
