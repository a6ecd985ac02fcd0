// Package api exposes the daemon's control surface as HTTP/JSON under /v1,
// plus a websocket event stream. It is a thin layer: every operation
// delegates to the session manager and maps its sentinel errors to status
// codes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"wesim/internal/bus"
	"wesim/internal/chat"
	"wesim/internal/model"
	"wesim/internal/registry"
	"wesim/internal/session"
	"wesim/internal/status"
	"wesim/internal/tts"
)

// Handler serves the daemon API.
type Handler struct {
	sessions *session.Manager
	machine  *status.Machine
	synth    tts.Synthesizer // nil when speech is not configured
	voice    string
	bus      *bus.Bus
	logger   *zap.Logger
}

// New wires the API handler. synth may be nil.
func New(sessions *session.Manager, machine *status.Machine, synth tts.Synthesizer, voice string, b *bus.Bus, logger *zap.Logger) *Handler {
	return &Handler{sessions: sessions, machine: machine, synth: synth, voice: voice, bus: b, logger: logger}
}

// Router builds the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)
		r.Post("/auth/resume", h.resume)
		r.Post("/auth/logout", h.logout)
		r.Get("/auth/remembered", h.remembered)

		r.Get("/me", h.me)
		r.Put("/me/avatar", h.setAvatar)
		r.Put("/me/status", h.setStatus)
		r.Get("/balance", h.balance)

		r.Get("/chats", h.listChats)
		r.Route("/chats/{chatID}", func(r chi.Router) {
			r.Post("/open", h.openChat)
			r.Post("/close", h.closeChat)
			r.Post("/read", h.markRead)
			r.Get("/messages", h.listMessages)
			r.Post("/messages", h.sendMessage)
			r.Post("/messages/{msgID}/recall", h.recallMessage)
			r.Delete("/messages/{msgID}", h.deleteMessage)
			r.Post("/messages/{msgID}/open-red-packet", h.openRedPacket)
			r.Post("/messages/{msgID}/accept-transfer", h.acceptTransfer)
		})

		r.Get("/contacts", h.listContacts)
		r.Post("/contacts", h.addContact)
		r.Delete("/contacts/{contactID}", h.deleteContact)
		r.Post("/contacts/{contactID}/chat", h.startChat)

		r.Post("/tts", h.synthesize)
		r.Get("/events", h.events)
	})
	return r
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	user, _ := h.sessions.ActiveUser()
	h.write(w, http.StatusOK, map[string]string{
		"status": string(h.machine.Current()),
		"user":   user,
	})
}

type credentials struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if !h.decode(w, r, &creds) {
		return
	}
	if err := registry.ValidateID(creds.ID); err != nil {
		h.error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.sessions.Register(r.Context(), creds.ID, creds.Password); err != nil {
		h.fail(w, err)
		return
	}
	me, err := h.sessions.Me()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusCreated, me)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if !h.decode(w, r, &creds) {
		return
	}
	if err := h.sessions.Login(r.Context(), creds.ID, creds.Password); err != nil {
		h.fail(w, err)
		return
	}
	me, err := h.sessions.Me()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, me)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Resume(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	me, err := h.sessions.Me()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, me)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) remembered(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, map[string]string{
		"id": h.sessions.RememberedUser(r.Context()),
	})
}

func (h *Handler) me(w http.ResponseWriter, _ *http.Request) {
	me, err := h.sessions.Me()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, me)
}

func (h *Handler) setAvatar(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AvatarURL string `json:"avatarUrl"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.sessions.SetAvatar(r.Context(), body.AvatarURL); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.sessions.SetStatus(r.Context(), body.Status); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) balance(w http.ResponseWriter, _ *http.Request) {
	me, err := h.sessions.Me()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, map[string]float64{"balance": me.Balance})
}

func (h *Handler) listChats(w http.ResponseWriter, _ *http.Request) {
	chats, err := h.sessions.Chats()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, chats)
}

func (h *Handler) openChat(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.OpenChat(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) closeChat(w http.ResponseWriter, _ *http.Request) {
	h.sessions.CloseChat()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.MarkRead(r.Context(), chi.URLParam(r, "chatID")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.sessions.Messages(chi.URLParam(r, "chatID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, msgs)
}

type sendRequest struct {
	Type            model.MessageType `json:"type"`
	Text            string            `json:"text,omitempty"`
	Amount          string            `json:"amount,omitempty"`
	DurationSeconds int               `json:"duration,omitempty"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = model.MessageText
	}
	msg, err := h.sessions.Send(r.Context(), chi.URLParam(r, "chatID"), req.Type, chat.Payload{
		Text:            req.Text,
		Amount:          req.Amount,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusCreated, msg)
}

func (h *Handler) recallMessage(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.Recall(r.Context(), chi.URLParam(r, "chatID"), chi.URLParam(r, "msgID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.Delete(r.Context(), chi.URLParam(r, "chatID"), chi.URLParam(r, "msgID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) openRedPacket(w http.ResponseWriter, r *http.Request) {
	credited, err := h.sessions.OpenRedPacket(r.Context(), chi.URLParam(r, "chatID"), chi.URLParam(r, "msgID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, map[string]float64{"credited": credited})
}

func (h *Handler) acceptTransfer(w http.ResponseWriter, r *http.Request) {
	credited, err := h.sessions.AcceptTransfer(r.Context(), chi.URLParam(r, "chatID"), chi.URLParam(r, "msgID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, map[string]float64{"credited": credited})
}

func (h *Handler) listContacts(w http.ResponseWriter, _ *http.Request) {
	contacts, err := h.sessions.Contacts()
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, contacts)
}

func (h *Handler) addContact(w http.ResponseWriter, r *http.Request) {
	var c model.Contact
	if !h.decode(w, r, &c) {
		return
	}
	if c.ID == "" {
		h.error(w, http.StatusBadRequest, "contact id required")
		return
	}
	if err := h.sessions.AddContact(r.Context(), c); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) deleteContact(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.DeleteContact(r.Context(), chi.URLParam(r, "contactID")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startChat(w http.ResponseWriter, r *http.Request) {
	c, err := h.sessions.StartChat(r.Context(), chi.URLParam(r, "contactID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusCreated, c)
}

func (h *Handler) synthesize(w http.ResponseWriter, r *http.Request) {
	if h.synth == nil {
		h.error(w, http.StatusServiceUnavailable, "speech synthesis not configured")
		return
	}
	var body struct {
		Text  string `json:"text"`
		Voice string `json:"voice,omitempty"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.Text == "" {
		h.error(w, http.StatusBadRequest, "text required")
		return
	}
	voice := h.voice
	if body.Voice != "" {
		voice = body.Voice
	}
	audio, err := h.synth.Synthesize(r.Context(), body.Text, voice)
	if err != nil {
		h.logger.Warn("speech synthesis failed", zap.Error(err))
		h.error(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}
	h.write(w, http.StatusOK, audio)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.error(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (h *Handler) write(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (h *Handler) error(w http.ResponseWriter, status int, msg string) {
	h.write(w, status, errorResponse{Error: msg})
}

// fail maps domain sentinel errors onto HTTP status codes.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoSession):
		h.error(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, registry.ErrBadCredential):
		h.error(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, registry.ErrConflict):
		h.error(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, chat.ErrChatNotFound),
		errors.Is(err, chat.ErrContactNotFound),
		errors.Is(err, chat.ErrMessageNotFound):
		h.error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrRecallWindow),
		errors.Is(err, chat.ErrBadAmount):
		h.error(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.error(w, http.StatusInternalServerError, "internal error")
	}
}
