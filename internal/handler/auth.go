package handler

import (
	"net/http"
	"net/mail"
	"time"

	"github.com/go-faster/errors"

	"github.com/solemart/checkout-api/internal/domain/otp"
)

// minPasswordLen matches the commerce backend's credential policy.
const minPasswordLen = 8

type otpRequestBody struct {
	Email string `json:"email"`
}

type otpVerifyBody struct {
	Email     string `json:"email"`
	OTP       string `json:"otp"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// otpRequest handles POST /api/auth/otp/request.
func (h *Handler) otpRequest(w http.ResponseWriter, r *http.Request) {
	var req otpRequestBody
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "valid email required")
		return
	}

	expiresAt, err := h.otp.Request(r.Context(), req.Email)
	if err != nil {
		var cooldown *otp.CooldownError
		if errors.As(err, &cooldown) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"code":       http.StatusTooManyRequests,
				"message":    cooldown.Error(),
				"retryAfter": int(cooldown.RetryAfter.Seconds()),
			})
			return
		}
		logInternal(r, "otpRequest", err)
		writeError(w, http.StatusInternalServerError, "could not send verification code")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
}

// otpReset handles POST /api/auth/otp/reset.
func (h *Handler) otpReset(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyBody
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateVerify(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.otp.VerifyReset(r.Context(), req.Email, req.OTP, req.Password); err != nil {
		h.writeOTPError(w, r, "otpReset", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// otpRegister handles POST /api/auth/otp/register.
func (h *Handler) otpRegister(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyBody
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateVerify(&req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	customer, err := h.otp.VerifyRegister(r.Context(), req.Email, req.OTP, req.Password, req.FirstName, req.LastName)
	if err != nil {
		if errors.Is(err, otp.ErrAlreadyRegistered) {
			writeError(w, http.StatusConflict, "an account with this email already exists")
			return
		}
		h.writeOTPError(w, r, "otpRegister", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"customer": customer,
	})
}

// writeOTPError maps the shared verification failures.
func (h *Handler) writeOTPError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, otp.ErrCodeMismatch):
		writeError(w, http.StatusUnauthorized, "incorrect verification code")
	case errors.Is(err, otp.ErrCodeExpired):
		writeError(w, http.StatusUnauthorized, "verification code has expired, request a new one")
	default:
		logInternal(r, op, err)
		writeError(w, http.StatusInternalServerError, "unexpected error")
	}
}

func validateVerify(req *otpVerifyBody) string {
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return "valid email required"
	}
	if len(req.OTP) != 6 {
		return "6-digit code required"
	}
	if len(req.Password) < minPasswordLen {
		return "password must be at least 8 characters"
	}
	return ""
}
