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
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"

	"github.com/tomoncle/userhub/utils"
)

// MaxJSONBodySize is the largest JSON request body accepted, 100 KiB.
const MaxJSONBodySize int64 = 100 << 10

type middleware func(http.Handler) http.Handler

// chain wraps h so that the first middleware is the outermost.
func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// requestID propagates the caller's X-Request-ID or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(utils.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(utils.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(utils.WithRequestID(r.Context(), id)))
	})
}

// accessLog writes one entry per request to logger.
func accessLog(logger *logrus.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return handlers.CustomLoggingHandler(logger.Out, next, func(_ io.Writer, p handlers.LogFormatterParams) {
			host, _, err := net.SplitHostPort(p.Request.RemoteAddr)
			if err != nil {
				host = p.Request.RemoteAddr
			}
			entry := logger.WithFields(logrus.Fields{
				"request_id":   utils.RequestIDFromContext(p.Request.Context()),
				"client_ip":    host,
				"req_method":   p.Request.Method,
				"req_uri":      p.URL.RequestURI(),
				"latency_time": time.Since(p.TimeStamp).String(),
				"status_code":  p.StatusCode,
			})
			if p.StatusCode >= http.StatusInternalServerError {
				entry.Warn("request completed")
			} else {
				entry.Info("request completed")
			}
		})
	}
}

// jsonBody buffers JSON request bodies up to limit bytes and rejects
// malformed ones before they reach a handler. The top-level value must be
// an object or an array. Other content types pass through untouched.
func jsonBody(limit int64) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody || !utils.IsJSONContentType(r) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					utils.RespondWithError(w, http.StatusRequestEntityTooLarge, "request entity too large")
				} else {
					utils.RespondWithError(w, http.StatusBadRequest, "failed to read request body")
				}
				return
			}

			trimmed := bytes.TrimSpace(body)
			if len(trimmed) > 0 && (!json.Valid(trimmed) || (trimmed[0] != '{' && trimmed[0] != '[')) {
				utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}
}
