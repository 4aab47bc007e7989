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

// Package users implements the /api/users resource: the User table and its
// CRUD router.
package users

import (
	"github.com/gorilla/mux"
	"github.com/uptrace/bun"

	"github.com/tomoncle/userhub/database"
)

// Resource bundles the users router with the models it needs synced.
type Resource struct {
	handler *Handler
}

// NewResource returns the users resource backed by db.
func NewResource(db bun.IDB) *Resource {
	return &Resource{handler: NewHandler(db)}
}

func (r *Resource) Prefix() string { return Prefix }

func (r *Resource) Models() []database.SQLModel { return Models() }

// Mount installs the users routes on a subrouter rooted at Prefix.
func (r *Resource) Mount(router *mux.Router) {
	r.handler.Register(router.PathPrefix(Prefix).Subrouter())
}
