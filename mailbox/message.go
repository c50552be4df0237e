/*
 * MIT License
 *
 * Copyright (c) 2024-2026 Pulsar Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package mailbox implements the framed, ordered, bidirectional message
// channel between an actor and its supervisor. Frames are length-prefixed and
// never masked; this is a trusted intra-host channel. Delivery is FIFO per
// connection.
package mailbox

// Opcode identifies the message kind carried by a frame.
type Opcode byte

const (
	// OpCommand is a request expecting a response with the same ack id.
	OpCommand Opcode = 0x1
	// OpResponse is the reply to a command, correlated by ack id.
	OpResponse Opcode = 0x2
	// OpEvent is a one-way notification expecting no reply.
	OpEvent Opcode = 0x3
)

// String returns the string representation of the opcode
func (o Opcode) String() string {
	switch o {
	case OpCommand:
		return "COMMAND"
	case OpResponse:
		return "RESPONSE"
	case OpEvent:
		return "EVENT"
	default:
		return ""
	}
}

func (o Opcode) valid() bool {
	return o == OpCommand || o == OpResponse || o == OpEvent
}

// NoAck is the ack id sentinel for messages that carry no correlation id.
const NoAck uint64 = 0

// Message is a single unit exchanged over a mailbox connection. Immutable
// once constructed.
type Message struct {
	// Opcode is the message kind.
	Opcode Opcode
	// Command is the command name.
	Command string
	// AckID correlates a COMMAND with its RESPONSE; NoAck when absent.
	AckID uint64
	// Args is the ordered argument sequence.
	Args []any
}

// NewCommand creates a COMMAND message with the given ack id.
func NewCommand(ackID uint64, command string, args ...any) *Message {
	return &Message{Opcode: OpCommand, Command: command, AckID: ackID, Args: args}
}

// NewResponse creates a RESPONSE message correlated to the given ack id.
func NewResponse(ackID uint64, command string, args ...any) *Message {
	return &Message{Opcode: OpResponse, Command: command, AckID: ackID, Args: args}
}

// NewEvent creates an EVENT message.
func NewEvent(command string, args ...any) *Message {
	return &Message{Opcode: OpEvent, Command: command, Args: args}
}
