//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/go-chi/httplog/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	api "miniurl/internal/api/http"
	"miniurl/internal/auth"
	"miniurl/internal/cache"
	"miniurl/internal/config"
	dbpostgres "miniurl/internal/database/postgres"
	"miniurl/internal/models"
	"miniurl/internal/pubsub"
	"miniurl/internal/service"
	"miniurl/internal/shortcode"
	"miniurl/internal/ws"
	"miniurl/pkg/postgres"
	"miniurl/tests"
)

type APITestSuite struct {
	suite.Suite
	db         *sqlx.DB
	rdb        *goredis.Client
	tokens     *auth.TokenService
	adminID    uuid.UUID
	userID     uuid.UUID
	adminToken string
	userToken  string
	server     *httptest.Server
	e          *httpexpect.Expect
	cancel     context.CancelFunc
}

func (suite *APITestSuite) SetupSuite() {
	ctx := context.Background()

	pgUser := "test"
	pgPassword := "test"
	pgDB := "miniurl"

	pgCont, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "postgres:16-alpine",
			Env: map[string]string{
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgPassword,
				"POSTGRES_DB":       pgDB,
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	if err != nil {
		suite.T().Fatalf("Failed to start postgres container: %v", err)
	}
	suite.T().Cleanup(func() {
		if err := pgCont.Terminate(ctx); err != nil {
			suite.T().Fatalf("Failed to terminate postgres container: %v", err)
		}
	})

	redisCont, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		suite.T().Fatalf("Failed to start redis container: %v", err)
	}
	suite.T().Cleanup(func() {
		if err := redisCont.Terminate(ctx); err != nil {
			suite.T().Fatalf("Failed to terminate redis container: %v", err)
		}
	})

	pgHost, err := pgCont.Host(ctx)
	if err != nil {
		suite.T().Fatalf("Failed to get postgres container host: %v", err)
	}
	pgPort, err := pgCont.MappedPort(ctx, "5432")
	if err != nil {
		suite.T().Fatalf("Failed to get postgres container port: %v", err)
	}

	pgCfg := config.Postgres{
		User:     pgUser,
		Password: pgPassword,
		Host:     pgHost,
		Port:     pgPort.Int(),
		DB:       pgDB,
		SSLMode:  "disable",
	}

	root, err := tests.FindProjectRoot()
	if err != nil {
		suite.T().Fatalf("Failed to get project root: %v", err)
	}

	suite.db, err = postgres.Connect(ctx, postgres.Config{
		DSN:            pgCfg.DSN(),
		MigrationsPath: "file://" + filepath.Join(root, "migrations"),
	})
	if err != nil {
		suite.T().Fatalf("Failed to set up database: %v", err)
	}
	suite.T().Cleanup(func() {
		suite.db.Close()
	})

	redisHost, err := redisCont.Host(ctx)
	if err != nil {
		suite.T().Fatalf("Failed to get redis container host: %v", err)
	}
	redisPort, err := redisCont.MappedPort(ctx, "6379")
	if err != nil {
		suite.T().Fatalf("Failed to get redis container port: %v", err)
	}

	suite.rdb = goredis.NewClient(&goredis.Options{
		Addr: redisHost + ":" + redisPort.Port(),
	})
	suite.T().Cleanup(func() {
		suite.rdb.Close()
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	linkRepo := dbpostgres.NewLinkRepository(suite.db, 30*time.Second)
	userRepo := dbpostgres.NewUserRepository(suite.db)
	counter := shortcode.NewCounter(suite.rdb)
	redirectCache := cache.NewRedirectCache(suite.rdb, time.Minute)
	publisher := pubsub.NewPublisher(suite.rdb, "http://miniurl.test", logger)

	linkSvc := service.NewLinkService(linkRepo, counter, redirectCache, publisher, logger, 1000, time.Hour)

	suite.tokens = auth.NewTokenService("integration-secret", time.Hour)
	authSvc := auth.NewService(userRepo, suite.tokens)

	manager := ws.NewManager(logger, 30*time.Second, 10*time.Second)
	prober := ws.NewProber(manager, 30*time.Second, logger)
	receiver := pubsub.NewReceiver(suite.rdb, manager, logger)
	wsHandler := ws.NewHandler(manager, suite.tokens, logger)

	runCtx, cancel := context.WithCancel(ctx)
	suite.cancel = cancel
	go receiver.Run(runCtx)
	go prober.Run(runCtx)
	suite.T().Cleanup(cancel)

	admin, err := authSvc.Register(ctx, "admin", "password123", models.RoleAdmin)
	if err != nil {
		suite.T().Fatalf("Failed to register admin: %v", err)
	}
	user, err := authSvc.Register(ctx, "creator", "password123", models.RoleUser)
	if err != nil {
		suite.T().Fatalf("Failed to register user: %v", err)
	}

	suite.adminID = admin.ID
	suite.userID = user.ID
	suite.adminToken, err = suite.tokens.Issue(admin.ID, models.RoleAdmin)
	if err != nil {
		suite.T().Fatalf("Failed to issue admin token: %v", err)
	}
	suite.userToken, err = suite.tokens.Issue(user.ID, models.RoleUser)
	if err != nil {
		suite.T().Fatalf("Failed to issue user token: %v", err)
	}

	httpLogger := httplog.NewLogger("", httplog.Options{Writer: io.Discard})
	router := api.NewRouter(httpLogger, linkSvc, authSvc, suite.tokens, wsHandler)
	suite.server = httptest.NewServer(router)
	suite.T().Cleanup(suite.server.Close)

	suite.e = httpexpect.Default(suite.T(), suite.server.URL)
}

func (suite *APITestSuite) TearDownTest() {
	_, err := suite.db.ExecContext(context.Background(), `TRUNCATE TABLE links CASCADE`)
	if err != nil {
		suite.T().Fatalf("Failed to clean links table: %v", err)
	}
}

func (suite *APITestSuite) submitLink(url string) *httpexpect.Object {
	return suite.e.POST("/api/v1/links").
		WithHeader("Authorization", "Bearer "+suite.userToken).
		WithJSON(map[string]string{"url": url}).
		Expect().
		Status(http.StatusCreated).
		JSON().Object().
		Value("data").Object()
}

func (suite *APITestSuite) TestAuthFlow() {
	suite.e.POST("/api/v1/auth/register").
		WithJSON(map[string]string{
			"username": "newcomer",
			"password": "password123",
		}).
		Expect().
		Status(http.StatusCreated).
		JSON().Object().
		Value("data").Object().
		HasValue("username", "newcomer").
		HasValue("role", "user")

	suite.e.POST("/api/v1/auth/login").
		WithJSON(map[string]string{
			"username": "newcomer",
			"password": "password123",
		}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("data").Object().
		Value("access_token").String().NotEmpty()

	suite.e.POST("/api/v1/auth/login").
		WithJSON(map[string]string{
			"username": "newcomer",
			"password": "wrong-password",
		}).
		Expect().
		Status(http.StatusUnauthorized)
}

func (suite *APITestSuite) TestLinkLifecycle() {
	data := suite.submitLink("https://example.com/lifecycle")
	data.HasValue("status", "Pending")
	linkID := data.Value("id").String().Raw()
	shortCode := data.Value("short_code").String().Raw()
	suite.NotEmpty(shortCode)

	// pending links must not redirect
	suite.e.GET("/" + shortCode).
		Expect().
		Status(http.StatusNotFound)

	suite.e.POST("/api/v1/links/"+linkID+"/approve").
		WithHeader("Authorization", "Bearer "+suite.adminToken).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("data").Object().
		HasValue("status", "Approved")

	suite.e.GET("/"+shortCode).
		WithRedirectPolicy(httpexpect.DontFollowRedirects).
		Expect().
		Status(http.StatusFound).
		Header("Location").IsEqual("https://example.com/lifecycle")

	// approving twice reports the current state
	suite.e.POST("/api/v1/links/"+linkID+"/approve").
		WithHeader("Authorization", "Bearer "+suite.adminToken).
		Expect().
		Status(http.StatusBadRequest)

	suite.e.POST("/api/v1/links/"+linkID+"/reject").
		WithHeader("Authorization", "Bearer "+suite.adminToken).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("data").Object().
		HasValue("status", "Rejected")

	// the cached redirect is evicted asynchronously
	suite.Eventually(func() bool {
		resp := suite.e.GET("/" + shortCode).
			WithRedirectPolicy(httpexpect.DontFollowRedirects).
			Expect().Raw()
		return resp.StatusCode == http.StatusNotFound
	}, 5*time.Second, 100*time.Millisecond)
}

func (suite *APITestSuite) TestModerationRequiresAdmin() {
	data := suite.submitLink("https://example.com/forbidden")
	linkID := data.Value("id").String().Raw()

	suite.e.POST("/api/v1/links/"+linkID+"/approve").
		WithHeader("Authorization", "Bearer "+suite.userToken).
		Expect().
		Status(http.StatusForbidden)

	suite.e.POST("/api/v1/links/" + linkID + "/approve").
		Expect().
		Status(http.StatusUnauthorized)
}

func (suite *APITestSuite) TestListLinks() {
	suite.submitLink("https://example.com/one")
	suite.submitLink("https://example.com/two")

	suite.e.GET("/api/v1/links").
		WithHeader("Authorization", "Bearer "+suite.userToken).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("data").Object().
		HasValue("total", 2)

	suite.e.GET("/api/v1/links").
		WithHeader("Authorization", "Bearer "+suite.userToken).
		WithQuery("status", "Approved").
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("data").Object().
		HasValue("total", 0)

	// admins see everyone's links
	suite.e.GET("/api/v1/links").
		WithHeader("Authorization", "Bearer "+suite.adminToken).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("data").Object().
		HasValue("total", 2)

	// another user's listing does not leak them
	suite.e.POST("/api/v1/auth/register").
		WithJSON(map[string]string{
			"username": "bystander",
			"password": "password123",
		}).
		Expect().
		Status(http.StatusCreated)

	bystanderToken := suite.e.POST("/api/v1/auth/login").
		WithJSON(map[string]string{
			"username": "bystander",
			"password": "password123",
		}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("data").Object().
		Value("access_token").String().Raw()

	suite.e.GET("/api/v1/links").
		WithHeader("Authorization", "Bearer "+bystanderToken).
		Expect().
		Status(http.StatusOK).
		JSON().Object().
		Value("data").Object().
		HasValue("total", 0)
}

func (suite *APITestSuite) dialWS(token string) *websocket.Conn {
	wsURL := "ws" + strings.TrimPrefix(suite.server.URL, "http") + "/ws?token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		suite.T().Fatalf("Failed to dial websocket: %v", err)
	}
	suite.T().Cleanup(func() {
		conn.Close()
	})

	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) pubsub.StatusChangeEvent {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read websocket message: %v", err)
	}

	var event pubsub.StatusChangeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}

	return event
}

func (suite *APITestSuite) TestWebSocketNotifications() {
	adminConn := suite.dialWS(suite.adminToken)
	userConn := suite.dialWS(suite.userToken)

	data := suite.submitLink("https://example.com/notify")
	linkID := data.Value("id").String().Raw()
	shortCode := data.Value("short_code").String().Raw()

	created := readEvent(suite.T(), adminConn)
	suite.Equal(linkID, created.ID.String())
	suite.Equal(suite.userID, created.CreatorID)
	suite.Equal("https://example.com/notify", created.URL)
	suite.Equal("http://miniurl.test/"+shortCode, created.ShortenedURL)

	suite.e.POST("/api/v1/links/"+linkID+"/approve").
		WithHeader("Authorization", "Bearer "+suite.adminToken).
		Expect().
		Status(http.StatusOK)

	approved := readEvent(suite.T(), userConn)
	suite.Equal(linkID, approved.ID.String())
	suite.Equal(models.StatusApproved, approved.Status)
}

func (suite *APITestSuite) TestWebSocketRejectsBadToken() {
	wsURL := "ws" + strings.TrimPrefix(suite.server.URL, "http") + "/ws?token=garbage"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	suite.Error(err)
	if resp != nil {
		suite.Equal(http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestAPITestSuite(t *testing.T) {
	suite.Run(t, new(APITestSuite))
}
