package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"Linkup/server/internal/models"
	"Linkup/server/internal/utils"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

const (
	maxFailedAttempts = 5
	lockoutDuration   = 5 * time.Minute
	tokenLifetime     = 24 * time.Hour
)

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var loginData struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	err := json.NewDecoder(r.Body).Decode(&loginData)
	if err != nil || loginData.Email == "" || loginData.Password == "" {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	ctx := r.Context()

	user, err := h.Users.GetUserByEmail(ctx, loginData.Email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			log.Printf("User with email %s not found", loginData.Email)
			writeError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		log.Printf("Error fetching user by email: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if user.LockedUntil != nil && time.Now().Before(*user.LockedUntil) {
		log.Printf("Account is locked until %v for user %d", user.LockedUntil, user.ID)
		writeError(w, http.StatusUnauthorized, "Account is temporarily locked due to multiple failed login attempts")
		return
	}

	if err := utils.CheckPasswordHash(loginData.Password, user.PasswordHash); err != nil {
		log.Printf("Password verification failed for user %d", user.ID)

		updatedUser, err := h.Users.IncrementFailedLoginAttempts(ctx, user.ID)
		if err != nil {
			log.Printf("Error incrementing failed login attempts for user %d: %v", user.ID, err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		if updatedUser.FailedAttempts >= maxFailedAttempts {
			if err := h.Users.LockAccount(ctx, user.ID, lockoutDuration); err != nil {
				log.Printf("Error locking account for user %d: %v", user.ID, err)
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			writeError(w, http.StatusUnauthorized, "Account is temporarily locked due to multiple failed login attempts")
			return
		}

		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	if err := h.Users.ResetFailedLoginAttempts(ctx, user.ID); err != nil {
		log.Printf("Error resetting failed login attempts for user %d: %v", user.ID, err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      time.Now().Add(tokenLifetime).Unix(),
	})

	tokenString, err := token.SignedString(h.JWTSecret)
	if err != nil {
		log.Printf("Error creating token for user %d: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "Token creation error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": tokenString})
}
