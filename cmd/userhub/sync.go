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

package main

import (
	"github.com/spf13/cobra"

	"github.com/tomoncle/userhub/database"
	"github.com/tomoncle/userhub/users"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drop and recreate the database tables, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		dm, err := database.Open(cmd.Context(), &cfg.Database, nil)
		if err != nil {
			return err
		}
		defer func() { _ = dm.Disconnect() }()

		registry := database.NewModelRegistry(users.Models()...)
		return dm.SyncSchema(cmd.Context(), registry, database.SyncOptions{Force: true})
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
