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

package database

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotConnected = errors.New("database not connected")

// Open resolves cfg against the environment, connects, and returns the
// manager owning the process-wide connection. A nil cfg means
// DefaultConnectionConfig. The caller is responsible for Disconnect.
func Open(ctx context.Context, cfg *ConnectionConfig, logger Logger) (AbstractDatabaseManager, error) {
	if cfg == nil {
		cfg = DefaultConnectionConfig()
	}
	factory := NewDatabaseFactory(logger)
	if _, err := factory.CreateFromConfig(cfg); err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}
	if err := factory.InitializeDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return factory.GetManager(), nil
}
