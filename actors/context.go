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
	"github.com/webpet/pulsar/eventloop"
	"github.com/webpet/pulsar/log"
)

// Context is the actor-side view handed to handlers and hooks. It is only
// valid on the actor's event loop goroutine.
type Context struct {
	actor *actor
}

func newContext(a *actor) *Context {
	return &Context{actor: a}
}

// ID returns the actor id.
func (c *Context) ID() string {
	return c.actor.id
}

// Name returns the actor kind name.
func (c *Context) Name() string {
	return c.actor.definition.Name
}

// Loop returns the actor's event loop, for scheduling timers and chained work.
func (c *Context) Loop() *eventloop.Loop {
	return c.actor.loop
}

// Logger returns the actor logger.
func (c *Context) Logger() log.Logger {
	return c.actor.logger
}

// State returns the actor lifecycle state.
func (c *Context) State() State {
	return c.actor.currentState()
}

// Notify sends a one-way EVENT to the supervisor.
func (c *Context) Notify(command string, args ...any) {
	c.actor.mbox.SendEvent(command, args...)
}

// Shutdown requests a graceful stop of this actor, as if the supervisor had
// asked for it.
func (c *Context) Shutdown() {
	c.actor.stop(0)
}
