package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/invoicing-system/internal/service"
)

// CreateInvoice создаёт счёт в статусе DRAFT вместе со строками.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var in service.InvoiceInput
	if !h.decodeBody(w, r, &in) {
		return
	}

	inv, err := h.service.CreateInvoice(r.Context(), user.ID, in)
	if err != nil {
		h.writeError(w, err, zap.Int64("userID", user.ID))
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "invoice created successfully",
		"invoice": toInvoiceResponse(inv),
	})
}

// ListInvoices возвращает счета текущего пользователя.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	invoices, err := h.service.ListInvoices(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, err, zap.Int64("userID", user.ID))
		return
	}

	resp := make([]invoiceResponse, 0, len(invoices))
	for i := range invoices {
		resp = append(resp, toInvoiceResponse(&invoices[i]))
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message":  "invoices fetched successfully",
		"invoices": resp,
		"total":    len(resp),
	})
}

// GetInvoice возвращает счёт по идентификатору.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	inv, err := h.service.GetInvoice(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, zap.Int64("userID", user.ID))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "invoice fetched successfully",
		"invoice": toInvoiceResponse(inv),
	})
}

// UpdateInvoice применяет частичное обновление счёта в статусе DRAFT.
func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var upd service.InvoiceUpdate
	if !h.decodeBody(w, r, &upd) {
		return
	}

	inv, err := h.service.UpdateInvoice(r.Context(), user.ID, chi.URLParam(r, "id"), upd)
	if err != nil {
		h.writeError(w, err, zap.Int64("userID", user.ID))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "invoice updated successfully",
		"invoice": toInvoiceResponse(inv),
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateInvoiceStatus переводит счёт в новый статус.
func (h *Handler) UpdateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	inv, err := h.service.UpdateInvoiceStatus(r.Context(), user.ID, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeError(w, err, zap.Int64("userID", user.ID), zap.String("status", req.Status))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "invoice status updated to " + string(inv.Status),
		"invoice": toInvoiceResponse(inv),
	})
}

// DeleteInvoice удаляет счёт. Оплаченные счета удалять запрещено.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteInvoice(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err, zap.Int64("userID", user.ID))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "invoice deleted successfully"})
}
