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

package mailbox

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/webpet/pulsar/errors"
)

// Wire frame layout, all integers big-endian:
//
//	[length:  uint32] byte count of everything after this field
//	[opcode:  1 byte]
//	[ack id:  uint64] 0 when the message carries no correlation id
//	[cmd len: uint16]
//	[command: cmd len bytes]
//	[args:    msgpack-encoded sequence, remainder of the frame]
const (
	frameHeaderSize = 4
	framePrefixSize = 1 + 8 + 2

	// maxFrameSize bounds a single frame; anything larger is a protocol error
	// rather than an allocation request.
	maxFrameSize = 64 << 20
)

// Encode serializes a Message into a single wire frame.
func Encode(msg *Message) ([]byte, error) {
	if !msg.Opcode.valid() {
		return nil, errors.NewErrProtocol(fmt.Errorf("unknown opcode 0x%x", byte(msg.Opcode)))
	}
	if len(msg.Command) > 0xFFFF {
		return nil, errors.NewErrProtocol(fmt.Errorf("command name too long: %d bytes", len(msg.Command)))
	}

	args, err := msgpack.Marshal(msg.Args)
	if err != nil {
		return nil, errors.NewErrProtocol(err)
	}

	payload := framePrefixSize + len(msg.Command) + len(args)
	if payload > maxFrameSize {
		return nil, errors.NewErrProtocol(fmt.Errorf("frame too large: %d bytes", payload))
	}

	frame := make([]byte, frameHeaderSize+payload)
	binary.BigEndian.PutUint32(frame[0:4], uint32(payload))
	frame[4] = byte(msg.Opcode)
	binary.BigEndian.PutUint64(frame[5:13], msg.AckID)
	binary.BigEndian.PutUint16(frame[13:15], uint16(len(msg.Command)))
	copy(frame[15:], msg.Command)
	copy(frame[15+len(msg.Command):], args)
	return frame, nil
}

// Decoder incrementally decodes frames: partial reads accumulate in the read
// buffer, a Message is produced only once a full frame is available, and
// decoding resumes correctly when a frame spans multiple reads.
type Decoder struct {
	buf bytes.Buffer
}

// NewDecoder creates an instance of Decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Buffered returns the number of bytes awaiting a complete frame.
func (d *Decoder) Buffered() int {
	return d.buf.Len()
}

// Feed appends raw bytes from the connection and returns every complete
// Message now available, in wire order. A malformed frame or unknown opcode
// returns an ErrProtocol; the connection must then be closed.
func (d *Decoder) Feed(data []byte) ([]*Message, error) {
	d.buf.Write(data)

	var messages []*Message
	for {
		msg, err := d.next()
		if err != nil {
			return messages, err
		}
		if msg == nil {
			return messages, nil
		}
		messages = append(messages, msg)
	}
}

func (d *Decoder) next() (*Message, error) {
	pending := d.buf.Bytes()
	if len(pending) < frameHeaderSize {
		return nil, nil
	}

	payload := int(binary.BigEndian.Uint32(pending[0:4]))
	if payload > maxFrameSize {
		return nil, errors.NewErrProtocol(fmt.Errorf("frame too large: %d bytes", payload))
	}
	if payload < framePrefixSize {
		return nil, errors.NewErrProtocol(fmt.Errorf("frame too short: %d bytes", payload))
	}
	if len(pending) < frameHeaderSize+payload {
		return nil, nil
	}

	frame := pending[frameHeaderSize : frameHeaderSize+payload]
	opcode := Opcode(frame[0])
	if !opcode.valid() {
		return nil, errors.NewErrProtocol(fmt.Errorf("unknown opcode 0x%x", frame[0]))
	}

	ackID := binary.BigEndian.Uint64(frame[1:9])
	cmdLen := int(binary.BigEndian.Uint16(frame[9:11]))
	if framePrefixSize+cmdLen > payload {
		return nil, errors.NewErrProtocol(fmt.Errorf("command length %d exceeds frame", cmdLen))
	}
	command := string(frame[framePrefixSize : framePrefixSize+cmdLen])

	args, err := decodeArgs(frame[framePrefixSize+cmdLen:])
	if err != nil {
		return nil, errors.NewErrProtocol(err)
	}

	d.buf.Next(frameHeaderSize + payload)
	return &Message{Opcode: opcode, Command: command, AckID: ackID, Args: args}, nil
}

// decodeArgs uses loose interface decoding so integer arguments always come
// back as int64 regardless of the compact wire representation chosen by the
// encoder.
func decodeArgs(data []byte) ([]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	var args []any
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}
