package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/store"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/util"
)

// DefaultPreorderListLimit caps GET /admin/preorders unless ?limit= is given.
const DefaultPreorderListLimit = 200

// preorderFilterFromQuery parses ?status=a,b&event_id=&buyer_id=&include_archived=&limit=.
func preorderFilterFromQuery(r *http.Request) (store.PreorderFilter, error) {
	q := r.URL.Query()
	filter := store.PreorderFilter{
		EventID: q.Get("event_id"),
		BuyerID: q.Get("buyer_id"),
		Limit:   DefaultPreorderListLimit,
	}
	for _, raw := range util.SplitList(q.Get("status")) {
		status := models.PreorderStatus(raw)
		if !status.IsValid() {
			return filter, models.ErrInvalidPreorderStatus
		}
		filter.StatusIn = append(filter.StatusIn, status)
	}
	if v := q.Get("include_archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("include_archived must be a boolean")
		}
		filter.IncludeArchived = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = n
	}
	return filter, nil
}

// listPreordersHandler handles GET /admin/preorders.
func (s *Server) listPreordersHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := preorderFilterFromQuery(r)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	preorders, err := s.st.ListPreorders(r.Context(), filter)
	if err != nil {
		slog.Error("Server.listPreordersHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load preorders"))
		return
	}
	if preorders == nil {
		preorders = []models.Preorder{}
	}
	slog.Debug("Server.listPreordersHandler: preorders listed", "count", len(preorders))
	writeJSONResponse(w, http.StatusOK, models.Success(preorders))
}

type preorderStatusRequest struct {
	Status models.PreorderStatus `json:"status"`
}

// updatePreorderHandler handles PATCH /admin/preorders/{id}.
func (s *Server) updatePreorderHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req preorderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if !req.Status.IsValid() {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid status"))
		return
	}

	err := s.st.UpdatePreorderStatus(r.Context(), id, req.Status)
	switch {
	case errors.Is(err, models.ErrPreorderNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Preorder not found"))
		return
	case errors.Is(err, models.ErrInvalidStatusTransition):
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		return
	case err != nil:
		slog.Error("Server.updatePreorderHandler: update failed", "error", err, "preorderID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update preorder"))
		return
	}

	p, err := s.st.GetPreorder(r.Context(), store.PreorderFilter{ID: id, IncludeArchived: true})
	if err != nil || p == nil {
		slog.Error("Server.updatePreorderHandler: reload failed", "error", err, "preorderID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load preorder"))
		return
	}
	slog.Info("Server.updatePreorderHandler: status changed", "preorderID", id, "status", p.Status)
	writeJSONResponse(w, http.StatusOK, models.Success(p))
}

type settingsResponse struct {
	Bouquets models.TierConfig   `json:"bouquets"`
	Shop     models.ShopSettings `json:"shop"`
}

func (s *Server) loadSettings(r *http.Request) (settingsResponse, error) {
	tiers, err := s.st.GetBouquetTierConfig(r.Context())
	if err != nil {
		return settingsResponse{}, err
	}
	shop, err := s.st.GetShopSettings(r.Context())
	if err != nil {
		return settingsResponse{}, err
	}
	return settingsResponse{Bouquets: tiers, Shop: shop}, nil
}

// getSettingsHandler handles GET /admin/settings.
func (s *Server) getSettingsHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := s.loadSettings(r)
	if err != nil {
		slog.Error("Server.getSettingsHandler: load failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load settings"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(settings))
}

// updateSettingsHandler handles PUT /admin/settings with a flat key/value
// object. Every pair is validated before anything is written.
func (s *Server) updateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := decodeJSON(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No settings given"))
		return
	}
	for key, value := range req {
		if err := models.ValidateSetting(key, value); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
	}
	for key, value := range req {
		if err := s.st.SetSetting(r.Context(), key, strings.TrimSpace(value)); err != nil {
			slog.Error("Server.updateSettingsHandler: write failed", "error", err, "key", key)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save settings"))
			return
		}
	}
	slog.Info("Server.updateSettingsHandler: settings updated", "keys", len(req))

	settings, err := s.loadSettings(r)
	if err != nil {
		slog.Error("Server.updateSettingsHandler: reload failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load settings"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(settings))
}
