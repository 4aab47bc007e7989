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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomoncle/userhub/app"
	"github.com/tomoncle/userhub/database"
	"github.com/tomoncle/userhub/users"
	"github.com/tomoncle/userhub/utils"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the HTTP server.

The database schema is dropped and recreated before the port is bound.
Set DATABASE_NAME to a file path to use an on-disk SQLite database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger := utils.NewLogger("APP")
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dm, err := database.Open(ctx, &cfg.Database, nil)
		if err != nil {
			return err
		}

		a := app.New(cfg.Server, dm, logger, users.NewResource(dm.GetDB()))
		if _, err := a.Start(ctx).Wait(ctx); err != nil {
			_ = dm.Disconnect()
			return fmt.Errorf("startup failed: %w", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("shutting down")
		case err := <-a.Errors():
			if err != nil {
				logger.WithError(err).Error("server failed")
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8000, "server listen port")
	serveCmd.Flags().StringP("host", "b", "0.0.0.0", "server bind address")
}
