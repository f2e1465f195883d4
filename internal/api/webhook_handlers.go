package api

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/IliyaPopelushko/flowers-miniapp-v2.0/internal/vk"
)

// vkCallbackHandler handles POST /vk/callback. Once the envelope is accepted
// it always answers "ok" so VK does not redeliver the event.
func (s *Server) vkCallbackHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Warn("Server.vkCallbackHandler: failed to read body", "error", err)
		writeText(w, http.StatusBadRequest, "bad request")
		return
	}
	cb, err := vk.ParseCallback(body)
	if err != nil {
		slog.Warn("Server.vkCallbackHandler: invalid callback", "error", err)
		writeText(w, http.StatusBadRequest, "bad request")
		return
	}
	if s.opts.VKGroupID != 0 && int64(cb.GroupID) != s.opts.VKGroupID {
		slog.Warn("Server.vkCallbackHandler: wrong group", "groupID", cb.GroupID, "expected", s.opts.VKGroupID)
		writeText(w, http.StatusBadRequest, "Wrong group")
		return
	}
	if s.opts.VKCallbackSecret != "" &&
		subtle.ConstantTimeCompare([]byte(cb.Secret), []byte(s.opts.VKCallbackSecret)) != 1 {
		slog.Warn("Server.vkCallbackHandler: secret mismatch", "type", cb.Type)
		writeText(w, http.StatusForbidden, "forbidden")
		return
	}

	slog.Debug("Server.vkCallbackHandler: callback received", "type", cb.Type, "eventID", cb.EventID)
	switch cb.Type {
	case vk.EventConfirmation:
		if s.opts.VKConfirmationCode == "" {
			slog.Error("Server.vkCallbackHandler: confirmation requested but no code configured")
		}
		writeText(w, http.StatusOK, s.opts.VKConfirmationCode)
		return

	case vk.EventMessageNew:
		m, err := vk.MessageNew(*cb)
		if err != nil {
			slog.Warn("Server.vkCallbackHandler: bad message_new", "error", err)
			break
		}
		msg := vk.Inbound(*m, cb.EventID)
		if !s.opts.VKInbox.Emit(msg) {
			slog.Error("Server.vkCallbackHandler: message dropped", "userID", msg.UserID, "messageID", msg.MessageID)
		}

	case vk.EventMessageAllow, vk.EventMessageDeny:
		userID, err := vk.ConsentUserID(*cb)
		if err != nil {
			slog.Warn("Server.vkCallbackHandler: bad consent event", "error", err)
			break
		}
		allowed := cb.Type == vk.EventMessageAllow
		if err := s.st.SetUserConsent(r.Context(), userID, allowed); err != nil {
			slog.Error("Server.vkCallbackHandler: failed to store consent", "error", err, "userID", userID)
			break
		}
		slog.Info("Server.vkCallbackHandler: consent updated", "userID", userID, "allowed", allowed)

	default:
		slog.Debug("Server.vkCallbackHandler: ignoring event", "type", cb.Type)
	}
	writeText(w, http.StatusOK, "ok")
}
