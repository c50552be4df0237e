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
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpet/pulsar/errors"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := NewCommand(7, "run_job", "payload", int64(42), true)
	frame, err := Encode(msg)
	require.NoError(t, err)

	d := NewDecoder()
	messages, err := d.Feed(frame)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	got := messages[0]
	assert.Equal(t, OpCommand, got.Opcode)
	assert.Equal(t, "run_job", got.Command)
	assert.EqualValues(t, 7, got.AckID)
	require.Len(t, got.Args, 3)
	assert.Equal(t, "payload", got.Args[0])
	assert.Equal(t, int64(42), got.Args[1])
	assert.Equal(t, true, got.Args[2])
	assert.Zero(t, d.Buffered())
}

func TestDecodeFragmentedFrame(t *testing.T) {
	msg := NewEvent("heartbeat", "alive")
	frame, err := Encode(msg)
	require.NoError(t, err)

	d := NewDecoder()
	// feed one byte at a time; the frame completes only on the last byte
	for i := 0; i < len(frame)-1; i++ {
		messages, ferr := d.Feed(frame[i : i+1])
		require.NoError(t, ferr)
		require.Empty(t, messages)
	}
	messages, err := d.Feed(frame[len(frame)-1:])
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, OpEvent, messages[0].Opcode)
	assert.Equal(t, "heartbeat", messages[0].Command)
}

func TestDecodeMultipleFramesInOneFeed(t *testing.T) {
	var stream []byte
	for i := 1; i <= 3; i++ {
		frame, err := Encode(NewCommand(uint64(i), "step", int64(i)))
		require.NoError(t, err)
		stream = append(stream, frame...)
	}

	d := NewDecoder()
	messages, err := d.Feed(stream)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, msg := range messages {
		assert.EqualValues(t, i+1, msg.AckID)
		assert.Equal(t, int64(i+1), msg.Args[0])
	}
}

func TestDecodeFrameSpanningFeeds(t *testing.T) {
	first, err := Encode(NewResponse(1, "ok", "a", ""))
	require.NoError(t, err)
	second, err := Encode(NewResponse(2, "ok", "b", ""))
	require.NoError(t, err)

	stream := append(append([]byte{}, first...), second...)
	cut := len(first) + 3

	d := NewDecoder()
	messages, err := d.Feed(stream[:cut])
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.EqualValues(t, 1, messages[0].AckID)

	messages, err = d.Feed(stream[cut:])
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.EqualValues(t, 2, messages[0].AckID)
}

func TestDecodeUnknownOpcode(t *testing.T) {
	frame, err := Encode(NewEvent("ping"))
	require.NoError(t, err)
	frame[4] = 0x9

	d := NewDecoder()
	_, err = d.Feed(frame)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrProtocol)
}

func TestDecodeOversizedFrame(t *testing.T) {
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(maxFrameSize+1))

	d := NewDecoder()
	_, err := d.Feed(header)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrProtocol)
}

func TestDecodeTruncatedPrefix(t *testing.T) {
	frame := make([]byte, frameHeaderSize+2)
	binary.BigEndian.PutUint32(frame, 2)

	d := NewDecoder()
	_, err := d.Feed(frame)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrProtocol)
}

func TestDecodeCommandLengthOverrun(t *testing.T) {
	frame, err := Encode(NewCommand(1, "x"))
	require.NoError(t, err)
	// claim a command longer than the frame payload
	binary.BigEndian.PutUint16(frame[13:15], 0xFFFF)

	d := NewDecoder()
	_, err = d.Feed(frame)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrProtocol)
}

func TestEncodeValidation(t *testing.T) {
	t.Run("With an invalid opcode", func(t *testing.T) {
		_, err := Encode(&Message{Opcode: Opcode(0x9), Command: "x"})
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrProtocol)
	})
	t.Run("With no args", func(t *testing.T) {
		frame, err := Encode(NewEvent("bare"))
		require.NoError(t, err)

		d := NewDecoder()
		messages, err := d.Feed(frame)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Empty(t, messages[0].Args)
	})
}
