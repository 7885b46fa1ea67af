// Package transfer implements the confirmable request/response message
// layer used by the commissioning exchanges.
//
// Messages carry a type (confirmable, acknowledgment, ...), a code
// (POST, Changed, ...), a 16-bit message id for response matching, an
// optional URI path, and a TLV payload. The same message model rides
// over both the secured channel (joiner finalize) and the plain UDP
// endpoint provided by UDPServer (joiner entrust and its
// acknowledgment).
package transfer
