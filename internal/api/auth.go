package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/vk"
)

// VKParamsHeader carries the mini-app launch parameters as a JSON object.
const VKParamsHeader = "X-VK-Params"

type ctxKey int

const userIDKey ctxKey = iota

// requireBearer guards h with "Authorization: Bearer <secret>". An empty
// secret disables the endpoint.
func (s *Server) requireBearer(secret string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			slog.Warn("Server.requireBearer: endpoint not configured", "path", r.URL.Path)
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Endpoint is not configured"))
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			slog.Warn("Server.requireBearer: unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
			return
		}
		h(w, r)
	}
}

// launchParams reads the launch parameters from VKParamsHeader or, when the
// header is absent, from the query string.
func launchParams(r *http.Request) (url.Values, error) {
	raw := r.Header.Get(VKParamsHeader)
	if raw == "" {
		return r.URL.Query(), nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("invalid %s header: %w", VKParamsHeader, err)
	}
	values := make(url.Values, len(obj))
	for k, v := range obj {
		switch v := v.(type) {
		case string:
			values.Set(k, v)
		case float64:
			values.Set(k, strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			if v {
				values.Set(k, "1")
			} else {
				values.Set(k, "0")
			}
		case nil:
			values.Set(k, "")
		default:
			return nil, fmt.Errorf("invalid %s header: %s is not a scalar", VKParamsHeader, k)
		}
	}
	return values, nil
}

// withLaunchParams verifies the mini-app signature and passes the signed
// vk_user_id to h through the request context.
func (s *Server) withLaunchParams(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		params, err := launchParams(r)
		if err != nil {
			slog.Warn("Server.withLaunchParams: bad launch parameters", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid launch parameters"))
			return
		}
		userID, err := vk.VerifyLaunchParams(params, s.opts.VKSecretKey)
		if err != nil {
			if errors.Is(err, vk.ErrMissingSecret) {
				slog.Error("Server.withLaunchParams: VK secret key not configured")
				writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Mini app is not configured"))
				return
			}
			slog.Warn("Server.withLaunchParams: signature rejected", "error", err, "path", r.URL.Path)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid signature"))
			return
		}
		h(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

// userFrom returns the verified customer of a mini-app request.
func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func preflightHandler(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+VKParamsHeader)
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusOK)
}
