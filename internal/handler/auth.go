package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/invoicing-system/internal/service"
	"github.com/mmeshcher/invoicing-system/internal/validation"
)

type signupRequest struct {
	Email          string  `json:"email"`
	Password       string  `json:"password"`
	Name           *string `json:"name"`
	CompanyName    *string `json:"companyName"`
	CompanyAddress *string `json:"companyAddress"`
	CompanyPhone   *string `json:"companyPhone"`
	LogoURL        *string `json:"logoUrl"`
}

// Signup обрабатывает регистрацию нового пользователя.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	user, err := h.service.RegisterUser(r.Context(), validation.SignupInput{
		Email:          req.Email,
		Password:       req.Password,
		Name:           req.Name,
		CompanyName:    req.CompanyName,
		CompanyAddress: req.CompanyAddress,
		CompanyPhone:   req.CompanyPhone,
		LogoURL:        req.LogoURL,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "user created successfully",
		"user":    toUserResponse(user),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, user.ID)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "login successful",
		"user":    toUserResponse(user),
	})
}

// Logout сбрасывает cookie авторизации.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}

// GetProfile возвращает профиль текущего пользователя.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "user profile retrieved successfully",
		"user":    toUserResponse(user),
	})
}

// UpdateProfile применяет частичное обновление профиля текущего пользователя.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var upd service.ProfileUpdate
	if !h.decodeBody(w, r, &upd) {
		return
	}

	updated, err := h.service.UpdateProfile(r.Context(), user.ID, upd)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message": "profile updated successfully",
		"user":    toUserResponse(updated),
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword меняет пароль текущего пользователя.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "password changed successfully"})
}

// DeleteAccount удаляет аккаунт текущего пользователя со всеми данными.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAccount(r.Context(), user.ID); err != nil {
		h.writeError(w, err, zap.Int64("userID", user.ID))
		return
	}

	h.authMiddleware.ClearAuthCookie(w)
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "account deleted successfully"})
}
