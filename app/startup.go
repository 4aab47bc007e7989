/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package app

import (
	"context"
	"net"
)

// Startup is the readiness signal of an App. It resolves once, either with
// the bound address or with the error that aborted startup.
type Startup struct {
	done chan struct{}
	addr net.Addr
	err  error
}

func newStartup() *Startup {
	return &Startup{done: make(chan struct{})}
}

func (s *Startup) resolve(addr net.Addr, err error) {
	s.addr, s.err = addr, err
	close(s.done)
}

// Done is closed when startup has finished, successfully or not.
func (s *Startup) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until startup finishes or ctx is done.
func (s *Startup) Wait(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.done:
		return s.addr, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the startup error, or nil while startup is still running.
func (s *Startup) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}
