package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/models"
	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/store"
)

// eventRequest is the mini-app form for a new event.
type eventRequest struct {
	EventType            string `json:"event_type"`
	CustomEventName      string `json:"custom_event_name"`
	EventDay             int    `json:"event_day"`
	EventMonth           int    `json:"event_month"`
	RecipientName        string `json:"recipient_name"`
	Comment              string `json:"comment"`
	NotificationsEnabled *bool  `json:"notifications_enabled"`
}

func (req eventRequest) toEvent(ownerID string) (*models.Event, error) {
	t, err := models.ParseEventType(req.EventType)
	if err != nil {
		return nil, err
	}
	e := &models.Event{
		OwnerID:              ownerID,
		Type:                 t,
		CustomName:           strings.TrimSpace(req.CustomEventName),
		Day:                  req.EventDay,
		Month:                req.EventMonth,
		RecipientName:        strings.TrimSpace(req.RecipientName),
		Comment:              strings.TrimSpace(req.Comment),
		NotificationsEnabled: true,
		Status:               models.EventStatusActive,
	}
	if req.NotificationsEnabled != nil {
		e.NotificationsEnabled = *req.NotificationsEnabled
	}
	if t != models.EventTypeOther {
		e.CustomName = ""
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// listEventsHandler handles GET /miniapp/events.
func (s *Server) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	events, err := s.st.GetEvents(r.Context(), store.EventFilter{OwnerID: userID})
	if err != nil {
		slog.Error("Server.listEventsHandler: load failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load events"))
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(events))
}

// createEventHandler handles POST /miniapp/events.
func (s *Server) createEventHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(ctx)

	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	event, err := req.toEvent(userID)
	if err != nil {
		slog.Debug("Server.createEventHandler: validation failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	existing, err := s.st.GetEvents(ctx, store.EventFilter{OwnerID: userID})
	if err != nil {
		slog.Error("Server.createEventHandler: count failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create event"))
		return
	}
	if len(existing) >= MaxEventsPerUser {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(fmt.Sprintf("Достигнут лимит в %d событий", MaxEventsPerUser)))
		return
	}

	if err := s.ensureUser(r, userID); err != nil {
		slog.Error("Server.createEventHandler: user upsert failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create event"))
		return
	}
	if err := s.st.CreateEvent(ctx, event); err != nil {
		slog.Error("Server.createEventHandler: create failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create event"))
		return
	}
	slog.Info("Server.createEventHandler: event created", "eventID", event.ID, "userID", userID, "type", event.Type)
	writeJSONResponse(w, http.StatusCreated, models.Success(event))
}

// ensureUser creates the user on first contact without touching an existing profile.
func (s *Server) ensureUser(r *http.Request, userID string) error {
	u, err := s.st.GetUser(r.Context(), userID)
	if err != nil {
		return err
	}
	if u != nil {
		return nil
	}
	return s.st.UpsertUser(r.Context(), models.User{ID: userID})
}

// deleteEventHandler handles DELETE /miniapp/events/{id}. Open preorders of
// the event are cancelled with it.
func (s *Server) deleteEventHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(ctx)
	id := r.PathValue("id")

	event, err := s.st.GetEvent(ctx, id)
	if err != nil {
		slog.Error("Server.deleteEventHandler: load failed", "error", err, "eventID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete event"))
		return
	}
	// someone else's event is reported as missing
	if event == nil || event.OwnerID != userID {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Event not found"))
		return
	}
	if err := s.st.DeleteEvent(ctx, id); err != nil {
		if errors.Is(err, models.ErrEventNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Event not found"))
			return
		}
		slog.Error("Server.deleteEventHandler: delete failed", "error", err, "eventID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete event"))
		return
	}
	slog.Info("Server.deleteEventHandler: event deleted", "eventID", id, "userID", userID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Event deleted", nil))
}

// getUserHandler handles GET /miniapp/user.
func (s *Server) getUserHandler(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	u, err := s.st.GetUser(r.Context(), userID)
	if err != nil {
		slog.Error("Server.getUserHandler: load failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load user"))
		return
	}
	if u == nil {
		u = &models.User{ID: userID}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(u))
}

type userRequest struct {
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	MessagesAllowed *bool   `json:"messages_allowed"`
	Phone           *string `json:"phone"`
}

// upsertUserHandler handles POST /miniapp/user. Consent changes only when
// messages_allowed is present, the WhatsApp phone only when phone is present;
// an empty phone unbinds it.
func (s *Server) upsertUserHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userFrom(ctx)

	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	var phone string
	if req.Phone != nil && strings.TrimSpace(*req.Phone) != "" {
		p, err := models.NormalizePhone(*req.Phone)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number"))
			return
		}
		phone = p
	}

	user := models.User{ID: userID, FirstName: strings.TrimSpace(req.FirstName), LastName: strings.TrimSpace(req.LastName)}
	if err := s.st.UpsertUser(ctx, user); err != nil {
		slog.Error("Server.upsertUserHandler: upsert failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save user"))
		return
	}
	if req.Phone != nil {
		if err := s.st.SetUserPhone(ctx, userID, phone); err != nil {
			if errors.Is(err, models.ErrPhoneTaken) {
				writeJSONResponse(w, http.StatusConflict, models.Error("Phone number is already in use"))
				return
			}
			slog.Error("Server.upsertUserHandler: phone failed", "error", err, "userID", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save user"))
			return
		}
	}
	if req.MessagesAllowed != nil {
		if err := s.st.SetUserConsent(ctx, userID, *req.MessagesAllowed); err != nil {
			slog.Error("Server.upsertUserHandler: consent failed", "error", err, "userID", userID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save user"))
			return
		}
	}
	s.getUserHandler(w, r)
}
