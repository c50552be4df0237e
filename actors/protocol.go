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

package actors

import (
	"fmt"

	"github.com/webpet/pulsar/mailbox"
)

// Supervision protocol command and event names exchanged over the mailbox.
//
// Handshake: the actor sends a "ready" COMMAND carrying its id; the
// supervisor acknowledges with the matching RESPONSE and only then exposes
// the actor in its registry. "stop" asks the actor to shut down gracefully;
// the RESPONSE arrives after OnStop ran. "exit" is a one-way EVENT the actor
// emits just before closing its mailbox, carrying the failure message or an
// empty string for a clean exit. "ping" is answered with "pong" without
// touching user handlers.
const (
	cmdReady = "ready"
	cmdStop  = "stop"
	cmdPing  = "ping"
	evtExit  = "exit"

	pongValue = "pong"
)

// RemoteError is a failure reported by an actor in a command response. Only
// the message crosses the wire; the original error value stays with the actor.
type RemoteError struct {
	Command string
	Message string
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// replyArgs builds the RESPONSE argument pair [value, error message].
func replyArgs(value any, err error) []any {
	if err != nil {
		return []any{nil, err.Error()}
	}
	return []any{value, ""}
}

// parseReply unpacks a RESPONSE into the handler's value or failure.
func parseReply(msg *mailbox.Message) (any, error) {
	if len(msg.Args) < 2 {
		return nil, &RemoteError{Command: msg.Command, Message: "malformed response"}
	}
	if errMsg, ok := msg.Args[1].(string); ok && errMsg != "" {
		return nil, &RemoteError{Command: msg.Command, Message: errMsg}
	}
	return msg.Args[0], nil
}
