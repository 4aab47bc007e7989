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
	"fmt"
	"reflect"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
)

// SchemaSynchronizer creates, and optionally drops first, the tables of a
// set of models.
type SchemaSynchronizer struct {
	db     *bun.DB
	logger Logger
}

func NewSchemaSynchronizer(db *bun.DB, logger Logger) *SchemaSynchronizer {
	return &SchemaSynchronizer{db: db, logger: logger}
}

// Sync runs in a single transaction. With opts.Force every table is dropped
// in reverse model order and then recreated in model order; without it only
// missing tables are created. Models must already be ordered, see
// ModelRegistry.Models.
func (s *SchemaSynchronizer) Sync(ctx context.Context, models []SQLModel, opts SyncOptions) error {
	if s.db == nil {
		return ErrNotConnected
	}
	if len(models) == 0 {
		if s.logger != nil {
			s.logger.Warn("Schema sync skipped, no models registered")
		}
		return nil
	}

	start := time.Now()
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if opts.Force {
			for i := len(models) - 1; i >= 0; i-- {
				if err := s.dropTable(ctx, tx, models[i].Instance()); err != nil {
					return err
				}
			}
		}
		for _, model := range models {
			if err := s.createTable(ctx, tx, model.Instance()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync schema failed: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("Database schema synchronized",
			"tables", len(models),
			"force", opts.Force,
			"duration", time.Since(start).Round(time.Microsecond),
		)
	}
	return nil
}

func (s *SchemaSynchronizer) dropTable(ctx context.Context, tx bun.Tx, model interface{}) error {
	q := tx.NewDropTable().Model(model).IfExists()
	if s.db.HasFeature(feature.TableCascade) {
		q = q.Cascade()
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", getModelName(model), err)
	}
	return nil
}

func (s *SchemaSynchronizer) createTable(ctx context.Context, tx bun.Tx, model interface{}) error {
	_, err := tx.NewCreateTable().
		Model(model).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", getModelName(model), err)
	}
	return nil
}

func getModelName(model interface{}) string {
	t := reflect.TypeOf(model)
	if t == nil {
		return "<nil>"
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
