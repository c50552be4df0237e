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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travisjeffery/go-dynaport"

	"github.com/webpet/pulsar/log"
)

func TestListenAndDial(t *testing.T) {
	serverLoop := startLoop(t)
	clientLoop := startLoop(t)

	ports := dynaport.Get(1)
	address := fmt.Sprintf("127.0.0.1:%d", ports[0])

	accepted := make(chan *Mailbox, 1)
	ln, err := Listen(serverLoop, address, func(fd int, remote string) {
		var server *Mailbox
		var aerr error
		server, aerr = New(serverLoop, fd,
			mailboxEcho(func() *Mailbox { return server }),
			WithMailboxLogger(log.DiscardLogger))
		assert.NoError(t, aerr)
		accepted <- server
	})
	require.NoError(t, err)
	defer ln.Close()
	assert.Equal(t, address, ln.Addr())

	fd, err := Dial(address)
	require.NoError(t, err)

	client, err := New(clientLoop, fd, WithMailboxLogger(log.DiscardLogger))
	require.NoError(t, err)
	defer client.Close()

	value, err := await(t, client.SendCommand("echo", "over tcp"))
	require.NoError(t, err)
	assert.Equal(t, "over tcp", value.(*Message).Args[0])

	select {
	case server := <-accepted:
		server.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}
}

func TestListenEphemeralPort(t *testing.T) {
	loop := startLoop(t)

	ln, err := Listen(loop, "127.0.0.1:0", func(fd int, remote string) {})
	require.NoError(t, err)
	defer ln.Close()

	assert.NotEqual(t, "127.0.0.1:0", ln.Addr())
	assert.Contains(t, ln.Addr(), "127.0.0.1:")
}
