package ws

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"miniurl/internal/auth"
	"miniurl/internal/models"
	"miniurl/pkg/response"
)

// tokenVerifier resolves an access token to an identity and role.
// Implemented by auth.TokenService.
type tokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHandler returns the websocket admission endpoint. The client passes
// its access token as a query parameter; an unresolvable token rejects
// the connection before it ever reaches the registry.
func NewHandler(manager *Manager, tokens tokenVerifier, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.UnauthorizedResponse)
			return
		}

		claims, err := tokens.Verify(token)
		if err != nil {
			logger.Info("rejected websocket connection with invalid token", slog.Any("err", err))
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.UnauthorizedResponse)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the handshake error
			logger.Error("websocket upgrade failed", slog.Any("err", err))
			return
		}

		if claims.Role == models.RoleAdmin {
			err = manager.AddAdmin(claims.UserID, conn)
		} else {
			err = manager.AddUser(claims.UserID, conn)
		}
		if err != nil {
			logger.Info("websocket connection not admitted",
				slog.String("user_id", claims.UserID.String()),
				slog.Any("err", err))
		}
	}
}
