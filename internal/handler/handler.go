// Package handler содержит HTTP-обработчики API сервиса выставления счетов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/invoicing-system/internal/billing"
	"github.com/mmeshcher/invoicing-system/internal/middleware"
	"github.com/mmeshcher/invoicing-system/internal/model"
	"github.com/mmeshcher/invoicing-system/internal/repository"
	"github.com/mmeshcher/invoicing-system/internal/service"
	"github.com/mmeshcher/invoicing-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, in validation.SignupInput) (*model.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID int64, upd service.ProfileUpdate) (*model.User, error)
	ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) error
	DeleteAccount(ctx context.Context, userID int64) error

	CreateClient(ctx context.Context, userID int64, in validation.ClientInput) (*model.Client, error)
	ListClients(ctx context.Context, userID int64) ([]model.Client, error)
	GetClient(ctx context.Context, userID int64, clientID string) (*model.Client, error)
	UpdateClient(ctx context.Context, userID int64, clientID string, upd service.ClientUpdate) (*model.Client, error)
	DeleteClient(ctx context.Context, userID int64, clientID string) error

	CreateInvoice(ctx context.Context, userID int64, in service.InvoiceInput) (*model.Invoice, error)
	ListInvoices(ctx context.Context, userID int64) ([]model.Invoice, error)
	GetInvoice(ctx context.Context, userID int64, invoiceID string) (*model.Invoice, error)
	UpdateInvoice(ctx context.Context, userID int64, invoiceID string, upd service.InvoiceUpdate) (*model.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, userID int64, invoiceID string, status string) (*model.Invoice, error)
	DeleteInvoice(ctx context.Context, userID int64, invoiceID string) error
}

// Handler реализует HTTP-обработчики API сервиса выставления счетов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) writeErrorMessage(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeError классифицирует ошибку бизнес-логики и отвечает соответствующим
// статусом с JSON-телом. Инфраструктурные ошибки логируются и возвращаются
// клиенту обезличенно.
func (h *Handler) writeError(w http.ResponseWriter, err error, fields ...zap.Field) {
	var vErr *validation.Error
	if errors.As(err, &vErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string][]string{"errors": vErr.Messages})
		return
	}

	switch {
	case errors.Is(err, repository.ErrUserExists):
		h.writeErrorMessage(w, http.StatusConflict, "email already exists")
	case errors.Is(err, service.ErrInvalidCredentials):
		h.writeErrorMessage(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, repository.ErrClientNotFound),
		errors.Is(err, repository.ErrInvoiceNotFound):
		h.writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrEmailImmutable):
		h.writeErrorMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, billing.ErrInvalidTransition),
		errors.Is(err, billing.ErrInvalidStateForEdit),
		errors.Is(err, service.ErrNoOpUpdate),
		errors.Is(err, service.ErrDeletePaidInvoice):
		h.writeErrorMessage(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("internal error", append(fields, zap.Error(err))...)
		h.writeErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

// currentUser извлекает аутентифицированного пользователя из контекста запроса.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		h.writeErrorMessage(w, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}
	return user, true
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
