package httpapi

import (
	"context"
	"net/http"

	"projectdesk.io/internal/auth"
)

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.opts.Timeout)
	defer cancel()

	resp, err := a.backend.Login(ctx, req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Login successful", resp)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.opts.Timeout)
	defer cancel()

	resp, err := a.backend.Register(ctx, req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "Registration successful", resp)
}

// handleLogout needs the header but not a valid token; unknown tokens still succeed.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		unauthorized(w, r, msgHeaderRequired)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.opts.Timeout)
	defer cancel()

	res, err := a.backend.Logout(ctx, token)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Logout successful", res)
}

func (a *API) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		unauthorized(w, r, msgHeaderRequired)
		return
	}
	payload, err := a.validator.ValidateToken(r.Context(), token)
	if err != nil {
		unauthorized(w, r, msgInvalidToken)
		return
	}
	writeSuccess(w, http.StatusOK, "Token is valid", payload)
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	payload, ok := auth.PayloadFromContext(r.Context())
	if !ok {
		unauthorized(w, r, msgHeaderRequired)
		return
	}
	writeSuccess(w, http.StatusOK, "Profile retrieved", auth.Principal{
		ID:       payload.Sub,
		Username: payload.Username,
		Email:    payload.Email,
		Roles:    payload.Roles,
	})
}
