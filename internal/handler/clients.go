package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/invoicing-system/internal/service"
	"github.com/mmeshcher/invoicing-system/internal/validation"
)

type clientRequest struct {
	Name      string  `json:"name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Address   *string `json:"address"`
	City      *string `json:"city"`
	State     *string `json:"state"`
	ZipCode   *string `json:"zipCode"`
	Country   *string `json:"country"`
	TaxNumber *string `json:"taxNumber"`
	Notes     *string `json:"notes"`
}

// CreateClient создаёт нового клиента текущего пользователя.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req clientRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	client, err := h.service.CreateClient(r.Context(), user.ID, validation.ClientInput{
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Address:   req.Address,
		City:      req.City,
		State:     req.State,
		ZipCode:   req.ZipCode,
		Country:   req.Country,
		TaxNumber: req.TaxNumber,
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeError(w, err, zap.Int64("userID", user.ID))
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "client created successfully",
		"client":  toClientResponse(client),
	})
}

// ListClients возвращает список клиентов текущего пользователя.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	clients, err := h.service.ListClients(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, err, zap.Int64("userID", user.ID))
		return
	}

	resp := make([]clientResponse, 0, len(clients))
	for i := range clients {
		resp = append(resp, toClientResponse(&clients[i]))
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "clients fetched successfully",
		"clients": resp,
		"total":   len(resp),
	})
}

// GetClient возвращает клиента по идентификатору.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	client, err := h.service.GetClient(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, zap.Int64("userID", user.ID))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "client fetched successfully",
		"client":  toClientResponse(client),
	})
}

// UpdateClient применяет частичное обновление клиента.
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var upd service.ClientUpdate
	if !h.decodeBody(w, r, &upd) {
		return
	}

	client, err := h.service.UpdateClient(r.Context(), user.ID, chi.URLParam(r, "id"), upd)
	if err != nil {
		h.writeError(w, err, zap.Int64("userID", user.ID))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "client updated successfully",
		"client":  toClientResponse(client),
	})
}

// DeleteClient удаляет клиента текущего пользователя.
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteClient(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err, zap.Int64("userID", user.ID))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "client deleted successfully"})
}
