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

package users

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"github.com/tomoncle/userhub"
	"github.com/tomoncle/userhub/database"
	"github.com/tomoncle/userhub/repository"
	"github.com/tomoncle/userhub/types"
	"github.com/tomoncle/userhub/utils"
)

// Prefix is the path the users router is mounted under.
const Prefix = "/api/users"

// userInput is the accepted body of POST and PUT requests.
type userInput struct {
	Name  string `json:"name" validate:"required,max=255"`
	Email string `json:"email" validate:"required,email,max=255"`
}

func (in *userInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
}

// Handler serves the users resource.
type Handler struct {
	service  userhub.Service[User]
	validate *validator.Validate
	logger   *logrus.Logger
}

// NewHandler returns a handler storing users through db.
func NewHandler(db bun.IDB) *Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		service:  userhub.NewService[User](db),
		validate: validate,
		logger:   utils.NewLogger("USERS"),
	}
}

// Register installs the routes on r, which is expected to be rooted at
// Prefix.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("", h.list).Methods(http.MethodGet)
	r.HandleFunc("/", h.list).Methods(http.MethodGet)
	r.HandleFunc("", h.create).Methods(http.MethodPost)
	r.HandleFunc("/", h.create).Methods(http.MethodPost)
	r.HandleFunc("/{id:[0-9]+}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/{id:[0-9]+}", h.update).Methods(http.MethodPut)
	r.HandleFunc("/{id:[0-9]+}", h.delete).Methods(http.MethodDelete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var filter *types.QueryFilter
	if email := strings.TrimSpace(r.URL.Query().Get("email")); email != "" {
		filter = types.NewQueryFilter("email = ?", strings.ToLower(email))
	}
	page, err := h.service.Page(r.Context(), types.PageRequestFromQuery(r.URL.Query(), filter, "id ASC"))
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, page)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	in, ok := h.readInput(w, r)
	if !ok {
		return
	}

	user := &User{Name: in.Name, Email: in.Email}
	if err := h.service.Save(r.Context(), user); err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	h.entry(r).WithField("user_id", user.ID).Info("user created")
	w.Header().Set("Location", fmt.Sprintf("%s/%d", Prefix, user.ID))
	utils.RespondWithJSON(w, http.StatusCreated, user)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, user)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	in, ok := h.readInput(w, r)
	if !ok {
		return
	}

	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	user.Name = in.Name
	user.Email = in.Email
	if err := h.service.Update(r.Context(), user); err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	h.entry(r).WithField("user_id", user.ID).Info("user updated")
	utils.RespondWithJSON(w, http.StatusOK, user)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondStoreError(w, r, err)
		return
	}

	h.entry(r).WithField("user_id", id).Info("user deleted")
	w.WriteHeader(http.StatusNoContent)
}

// readInput decodes and validates a userInput. On failure the response has
// already been written.
func (h *Handler) readInput(w http.ResponseWriter, r *http.Request) (*userInput, bool) {
	if !utils.IsJSONContentType(r) {
		utils.RespondWithError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return nil, false
	}

	var in userInput
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		utils.RespondWithError(w, http.StatusBadRequest, "request body must contain a single JSON object")
		return nil, false
	}

	in.normalize()
	if err := h.validate.Struct(&in); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, validationMessage(err))
		return nil, false
	}
	return &in, true
}

func (h *Handler) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		utils.RespondWithError(w, http.StatusNotFound, "user not found")
		return
	}
	if _, class := database.IsSqlError(err); class == database.DuplicateKeyErr {
		utils.RespondWithError(w, http.StatusConflict, "email is already registered")
		return
	}
	h.entry(r).WithError(err).Error("user store failure")
	utils.RespondWithError(w, http.StatusInternalServerError, "internal server error")
}

func (h *Handler) entry(r *http.Request) *logrus.Entry {
	return h.logger.WithField("request_id", utils.RequestIDFromContext(r.Context()))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		utils.RespondWithError(w, http.StatusNotFound, "user not found")
		return 0, false
	}
	return id, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "email":
			msgs = append(msgs, fe.Field()+" must be a valid email address")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}
