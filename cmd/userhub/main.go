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

// Command userhub runs the users HTTP service.
//
//	userhub serve --port 8000
//	DATABASE_NAME=users.sqlite userhub sync
//
// Storage defaults to an in-memory SQLite database. Every start drops and
// recreates the tables.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomoncle/userhub/config"
)

var rootCmd = &cobra.Command{
	Use:           "userhub",
	Short:         "Users HTTP service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
}

// loadConfig reads the configuration and applies the persistent flags,
// which take precedence over the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	cfg.Log.Apply()
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
