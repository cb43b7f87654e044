package http

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	httpSwagger "github.com/swaggo/http-swagger"

	"miniurl/internal/auth"
	"miniurl/internal/models"
)

// LinkService is the link workflow surface exposed over HTTP.
type LinkService interface {
	Shorten(ctx context.Context, originalURL, description string, creatorID uuid.UUID) (*models.Link, error)
	Approve(ctx context.Context, id, adminID uuid.UUID) (*models.Link, error)
	Reject(ctx context.Context, id, adminID uuid.UUID) (*models.Link, error)
	Resolve(ctx context.Context, shortCode string) (string, error)
	GetLink(ctx context.Context, id uuid.UUID) (*models.Link, error)
	ListLinks(ctx context.Context, limit, offset int, status *models.LinkStatus, creatorID *uuid.UUID) ([]*models.Link, int64, error)
}

// AuthService is the account surface exposed over HTTP.
type AuthService interface {
	Register(ctx context.Context, username, password string, role models.Role) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, error)
}

func getValidate() *validator.Validate {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}

func NewRouter(
	logger *httplog.Logger,
	linkSvc LinkService,
	authSvc AuthService,
	tokens *auth.TokenService,
	wsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"POST", "GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept", "Authorization"},
		AllowCredentials: false,
		MaxAge:           84600,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))

		validate := getValidate()

		r.Get("/ping", handlePing)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(authSvc, validate))
			r.Post("/login", handleLogin(authSvc, validate))
		})

		r.Route("/links", func(r chi.Router) {
			r.Use(auth.Middleware(tokens))

			r.Post("/", handleCreateLink(linkSvc, validate))
			r.Get("/", handleListLinks(linkSvc))
			r.Get("/{linkID}", handleGetLink(linkSvc))

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin))

				r.Post("/{linkID}/approve", handleApproveLink(linkSvc))
				r.Post("/{linkID}/reject", handleRejectLink(linkSvc))
			})
		})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/swagger.yml"),
	))

	r.Get("/docs/swagger.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./docs/swagger.yml")
	})

	r.Get("/ws", wsHandler.ServeHTTP)

	r.Get("/{shortCode}", handleRedirect(linkSvc))

	return r
}
