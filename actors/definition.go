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
	"strings"
)

// Handler processes one named command or event delivered to an actor. It runs
// on the actor's own event loop. For a command, the returned value is sent
// back to the caller; returning an *async.Result defers the reply until that
// result settles. For an event the return values are ignored.
type Handler func(ctx *Context, args []any) (any, error)

// Hook runs at an actor lifecycle boundary, on the actor's event loop.
type Hook func(ctx *Context) error

// Definition describes an actor kind: its name, its message handlers, and its
// lifecycle hooks. A single Definition may be spawned many times; each spawn
// gets a fresh id, loop, and mailbox.
type Definition struct {
	// Name identifies the actor kind. Required.
	Name string
	// Handlers maps command and event names to their handlers.
	Handlers map[string]Handler
	// OnStart runs before the handshake. A non-nil error faults the actor and
	// fails the spawn.
	OnStart Hook
	// OnStop runs during graceful shutdown, before the stop is acknowledged.
	OnStop Hook
}

// Validate checks the definition is spawnable.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("actor definition is nil")
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("actor definition requires a name")
	}
	for command := range d.Handlers {
		if strings.TrimSpace(command) == "" {
			return fmt.Errorf("actor %s has a handler with an empty command name", d.Name)
		}
	}
	return nil
}
