/*
Package handler provides HTTP handler functions for user authentication and management.
*/
package handler

import (
	"errors"
	"net/http"

	"relaychat/internal/app/db"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/pow"
	"relaychat/internal/pkg/req"
	"relaychat/internal/pkg/resp"
)

type VerifyChallengeInput struct {
	Nonce   string `json:"nonce"`
	Counter string `json:"counter"`
}

type CredentialsInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleChallenge issues a proof-of-work challenge that must be solved before signup.
func HandleChallenge(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, deps.Pow.NewChallenge())
	}
}

// HandleVerifyChallenge trades a solved challenge for a single-use proof token.
func HandleVerifyChallenge(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input VerifyChallengeInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.Nonce == "" || input.Counter == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		token, err := deps.Pow.Redeem(input.Nonce, input.Counter)
		if err != nil {
			logx.Debug("pow: redeem rejected", "error", err.Error())
			resp.RespondError(w, r, errs.NewError(errs.ErrPowChallengeInvalid))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"pow_token": token,
		})
	}
}

// HandleSignup creates a registered account. A valid proof token is required.
func HandleSignup(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Pow.ConsumeToken(r); err != nil {
			if errors.Is(err, pow.ErrProofTokenRequired) {
				resp.RespondError(w, r, errs.NewError(errs.ErrPowChallengeRequired))
				return
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrPowChallengeInvalid))
			return
		}

		var input CredentialsInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if !user.ValidUsername(input.Username) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidUsername))
			return
		}

		if !user.ValidPassword(input.Password) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidPassword))
			return
		}

		hash, err := user.HashPassword(input.Password)
		if err != nil {
			logx.Error(err, "signup: password hashing failed")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		record, err := deps.Store.CreateUser(r.Context(), input.Username, hash, false)
		if err != nil {
			if errors.Is(err, db.ErrUserExists) {
				logx.Warn("signup conflict: username already exists", "username", input.Username)
				resp.RespondError(w, r, errs.NewError(errs.ErrUserAlreadyExists))
				return
			}

			logx.Error(err, "signup: failed to create user")
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageFailed))
			return
		}

		respondWithToken(w, r, deps, record)
	}
}

// HandleLogin verifies user credentials and issues a JWT token.
func HandleLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CredentialsInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		record, err := deps.Store.FindUserByUsername(r.Context(), input.Username)
		if err != nil {
			if !errors.Is(err, db.ErrUserNotFound) {
				logx.Error(err, "login: user fetch failed", "username", input.Username)
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		if !user.CheckPassword(record.PasswordHash, input.Password) {
			logx.Warn("login: password mismatch", "username", input.Username)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidCredentials))
			return
		}

		respondWithToken(w, r, deps, record)
	}
}

func respondWithToken(w http.ResponseWriter, r *http.Request, deps *AppDeps, record db.UserRecord) {
	token, err := jwt.GenerateToken(record.ID, record.Username, deps.Config.JWTSecret, jwt.UserIdentityExpiration)
	if err != nil {
		logx.Error(err, "jwt generation failed", "user_id", record.ID)
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
		return
	}

	resp.RespondSuccess(w, r, map[string]any{
		"token": token,
		"user":  userView(deps, record),
	})
}

func userView(deps *AppDeps, record db.UserRecord) map[string]any {
	return map[string]any{
		"id":         record.ID,
		"username":   record.Username,
		"admin":      record.IsSuperuser || deps.Config.IsAdmin(record.Username),
		"created_at": record.CreatedAt,
	}
}
