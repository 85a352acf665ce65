// Package limits provides centralized size constants and validation
// functions for chat payloads. Every transport carries one chat message in
// a single datagram, so the limits here keep the router, the datagram link
// and the simulated radio in agreement.
//
// # Size Hierarchy
//
//   - MaxChatMessage (1372 bytes): the largest chat message a user may send.
//     It fits, together with the one byte packet header, in one datagram on
//     a standard 1500 byte MTU with headroom for IP and UDP headers.
//
//   - MaxDatagram (2048 bytes): the read buffer used by the datagram link.
//     Anything larger is truncated by the kernel and rejected.
//
// # Validation Functions
//
//	if err := limits.ValidateChatMessage(content); err != nil {
//	    return err // limits.ErrMessageEmpty or limits.ErrMessageTooLarge
//	}
//
// Errors wrap ErrMessageEmpty or ErrMessageTooLarge so callers can use
// errors.Is.
package limits
