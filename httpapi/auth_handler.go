package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	adminauth "github.com/oakmont/adminauth"
	"github.com/oakmont/adminauth/middleware"
)

// AuthHandler carries the engine and request plumbing for the auth routes.
type AuthHandler struct {
	engine   *adminauth.Engine
	logger   *zap.Logger
	validate *validator.Validate
}

func NewAuthHandler(engine *adminauth.Engine, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		engine:   engine,
		logger:   logger,
		validate: validator.New(),
	}
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=1024"`
	TOTPCode   string `json:"totpCode" validate:"omitempty,len=6,numeric"`
	BackupCode string `json:"backupCode" validate:"omitempty,len=8,alphanum"`
}

type loginResponse struct {
	Token             string                   `json:"token,omitempty"`
	Account           *adminauth.AccountSummary `json:"account,omitempty"`
	TwoFactorRequired bool                     `json:"twoFactorRequired,omitempty"`
	AccountID         string                   `json:"accountId,omitempty"`
	BackupCodeWarning string                   `json:"backupCodeWarning,omitempty"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.TOTPCode != "" && req.BackupCode != "" {
		writeJSON(w, http.StatusBadRequest, errorBody("supply either a code or a backup code, not both"))
		return
	}

	result, err := h.engine.Login(r.Context(), adminauth.LoginRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		TOTPCode:   req.TOTPCode,
		BackupCode: req.BackupCode,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	if result.TwoFactorRequired {
		writeJSON(w, http.StatusAccepted, loginResponse{
			TwoFactorRequired: true,
			AccountID:         result.AccountID,
		})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:             result.Token,
		Account:           result.Account,
		BackupCodeWarning: result.BackupCodeWarning,
	})
}

func (h *AuthHandler) TwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}

	status, err := h.engine.TwoFactorStatus(r.Context(), claims.UID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":              status.Enabled,
		"backupCodesRemaining": status.BackupCodesRemaining,
		"recommendEnable":      status.RecommendEnable,
	})
}

func (h *AuthHandler) BeginTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}

	setup, err := h.engine.BeginTwoFactorSetup(r.Context(), claims.UID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":          setup.SecretBase32,
		"provisioningUri": setup.ProvisioningURI,
		"backupCodes":     setup.BackupCodes,
	})
}

type confirmSetupRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

func (h *AuthHandler) ConfirmTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}

	var req confirmSetupRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.engine.ConfirmTwoFactorSetup(r.Context(), claims.UID, req.Code); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "two-factor authentication enabled"})
}

type disableRequest struct {
	Password string `json:"password" validate:"required"`
	Code     string `json:"code" validate:"required"`
}

func (h *AuthHandler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}

	var req disableRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.engine.DisableTwoFactor(r.Context(), claims.UID, req.Password, req.Code); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "two-factor authentication disabled"})
}

func (h *AuthHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}

	var req disableRequest
	if !h.decode(w, r, &req) {
		return
	}

	codes, err := h.engine.RegenerateBackupCodes(r.Context(), claims.UID, req.Password, req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backupCodes": codes})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=12,max=1024"`
	Code            string `json:"code" validate:"omitempty"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}

	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.engine.ChangePassword(r.Context(), claims.UID, req.CurrentPassword, req.NewPassword, req.Code); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer func() { _ = r.Body.Close() }()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed request body"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request"))
		return false
	}
	return true
}

// writeError maps the engine sentinels onto HTTP status codes. Anything
// unrecognized is a 500 with a generic body so internals never leak.
func (h *AuthHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, adminauth.ErrInvalidCredentials),
		errors.Is(err, adminauth.ErrTwoFactorCodeInvalid),
		errors.Is(err, adminauth.ErrTwoFactorCodeReplayed),
		errors.Is(err, adminauth.ErrBackupCodeInvalid):
		writeJSON(w, http.StatusUnauthorized, errorBody(err.Error()))
	case errors.Is(err, adminauth.ErrAccountDeactivated):
		writeJSON(w, http.StatusForbidden, errorBody(err.Error()))
	case errors.Is(err, adminauth.ErrAccountLocked):
		body := lockedBody{Error: adminauth.ErrAccountLocked.Error()}
		var locked *adminauth.LockedError
		if errors.As(err, &locked) {
			if s := int64(time.Until(locked.Lockout.UnlockAt).Seconds()); s > 0 {
				body.UnlockInSeconds = s
			}
		}
		writeJSON(w, http.StatusLocked, body)
	case errors.Is(err, adminauth.ErrRateLimited):
		retryAfter := int64(time.Minute.Seconds())
		var limited *adminauth.RateLimitedError
		if errors.As(err, &limited) && limited.RetryAfter > 0 {
			retryAfter = int64((limited.RetryAfter + time.Second - 1) / time.Second)
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		writeJSON(w, http.StatusTooManyRequests, rateLimitedBody{
			Error:      adminauth.ErrRateLimited.Error(),
			RetryAfter: retryAfter,
		})
	case errors.Is(err, adminauth.ErrTwoFactorAlreadyEnabled),
		errors.Is(err, adminauth.ErrTwoFactorNotEnabled),
		errors.Is(err, adminauth.ErrNoPendingSetup):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, adminauth.ErrPasswordMismatch),
		errors.Is(err, adminauth.ErrPasswordReuse):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, adminauth.ErrTwoFactorSetupRequired),
		errors.Is(err, adminauth.ErrTwoFactorProofRequired),
		errors.Is(err, adminauth.ErrTwoFactorProofInvalid),
		errors.Is(err, adminauth.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, errorBody(err.Error()))
	case errors.Is(err, adminauth.ErrAccountNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, adminauth.ErrCredentialCorrupt):
		h.logger.Error("stored credential unreadable", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	case errors.Is(err, adminauth.ErrStoreUnavailable),
		errors.Is(err, adminauth.ErrTrackerUnavailable),
		errors.Is(err, adminauth.ErrSetupStoreUnavailable):
		h.logger.Error("backend unavailable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody("service temporarily unavailable"))
	default:
		h.logger.Error("unhandled auth error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

type apiError struct {
	Error string `json:"error"`
}

type lockedBody struct {
	Error           string `json:"error"`
	UnlockInSeconds int64  `json:"unlockInSeconds,omitempty"`
}

type rateLimitedBody struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"`
}

func errorBody(msg string) apiError {
	return apiError{Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
