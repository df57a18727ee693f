/*
Package collections provides the generic utility containers of spec
§4.10 (C10): a composite-keyed map, a counter, an identity-deduplicating
object set, a stack with arbitrary-element removal, a bounded LRU, and
an asynchronous sorted-stream merge.

No teacher analogue exists (warren reaches for plain maps inline);
built directly from spec §4.10 using Go generics, stdlib only.
*/
package collections
