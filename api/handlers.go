package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"prism-board/domain"
	"prism-board/telemetry"
)

const (
	maxBodySize = 64 << 10
	bcryptCost  = 10

	snapshotEventDomain = "http"
)

var errIncorrectCredentials = loginFailure{EmailOrPassword: "Incorrect email or password"}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth AuthService, logger *log.Logger) {
	if logger == nil {
		panic("Logger is not initialized")
	}
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "API is UP") })
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	g := e.Group("/api")
	g.POST("/users", register(store, auth))
	g.POST("/users/login", login(store, auth))

	requireUser := RequireUser(store, auth, logger)
	g.GET("/user", currentUser(auth), requireUser)
	g.GET("/boards", listBoards(store), requireUser)
	g.POST("/boards", createBoard(store), requireUser)
	g.GET("/boards/:boardId", getBoard(store), requireUser)
	g.GET("/boards/:boardId/columns", getColumns(store, logger), requireUser)
	g.GET("/boards/:boardId/tasks", getTasks(store, logger), requireUser)
}

func decodeBody(c echo.Context, dst any) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
	if err != nil || len(body) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := sonic.Unmarshal(body, dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	return nil
}

func userResponse(auth TokenIssuer, u domain.User) (domain.UserResponse, error) {
	token, err := auth.Issue(u)
	if err != nil {
		return domain.UserResponse{}, err
	}
	return domain.UserResponse{Email: u.Email, Username: u.Username, ID: u.ID, Token: token}, nil
}

func register(store Storage, auth TokenIssuer) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.RegisterInput
		if err := decodeBody(c, &in); err != nil {
			return err
		}
		if err := in.Validate(); err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				return c.JSON(http.StatusUnprocessableEntity, verr.Messages)
			}
			return err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
		if err != nil {
			return err
		}
		user, err := store.CreateUser(c.Request().Context(), domain.User{
			ID:           uuid.NewString(),
			Email:        strings.TrimSpace(in.Email),
			Username:     strings.TrimSpace(in.Username),
			PasswordHash: string(hash),
		})
		if errors.Is(err, domain.ErrEmailTaken) {
			return c.JSON(http.StatusUnprocessableEntity, []string{"Email is already taken"})
		}
		if err != nil {
			return err
		}
		resp, err := userResponse(auth, user)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func login(store Storage, auth TokenIssuer) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.LoginInput
		if err := decodeBody(c, &in); err != nil {
			return err
		}
		user, err := store.UserByEmail(c.Request().Context(), in.Email)
		if err != nil {
			return err
		}
		if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)) != nil {
			return c.JSON(http.StatusUnprocessableEntity, errIncorrectCredentials)
		}
		resp, err := userResponse(auth, *user)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func currentUser(auth TokenIssuer) echo.HandlerFunc {
	return func(c echo.Context) error {
		user := currentUserFrom(c)
		if user == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
		}
		resp, err := userResponse(auth, *user)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func listBoards(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		boards, err := store.BoardsByUser(c.Request().Context(), currentUserFrom(c).ID)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, boards)
	}
}

func createBoard(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in titleRequest
		if err := decodeBody(c, &in); err != nil {
			return err
		}
		title := strings.TrimSpace(in.Title)
		if title == "" {
			return c.JSON(http.StatusUnprocessableEntity, []string{"Title is required"})
		}
		board, err := store.CreateBoard(c.Request().Context(), domain.Board{
			ID:     uuid.NewString(),
			Title:  title,
			UserID: currentUserFrom(c).ID,
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, board)
	}
}

func getBoard(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		board, err := store.Board(c.Request().Context(), c.Param("boardId"))
		if err != nil {
			return err
		}
		if board == nil {
			return echo.NewHTTPError(http.StatusNotFound, "board not found")
		}
		return c.JSON(http.StatusOK, board)
	}
}

func getColumns(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		boardID := c.Param("boardId")
		op, ctx := telemetry.Start(c.Request().Context(), logger, "http.columns", "columns_snapshot", snapshotEventDomain,
			attribute.String("http.route", "/api/boards/:boardId/columns"),
			attribute.String("prism.board_id", boardID))
		defer func() { op.End(statusOf(c, err), err) }()

		cols, err := store.Columns(ctx, boardID)
		if err != nil {
			op.SetErrorStage("storage")
			return err
		}
		op.Set(attribute.Int("prism.columns_returned", len(cols)))
		return c.JSON(http.StatusOK, cols)
	}
}

func getTasks(store Storage, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		boardID := c.Param("boardId")
		op, ctx := telemetry.Start(c.Request().Context(), logger, "http.tasks", "tasks_snapshot", snapshotEventDomain,
			attribute.String("http.route", "/api/boards/:boardId/tasks"),
			attribute.String("prism.board_id", boardID))
		defer func() { op.End(statusOf(c, err), err) }()

		tasks, err := store.Tasks(ctx, boardID)
		if err != nil {
			op.SetErrorStage("storage")
			return err
		}
		op.Set(attribute.Int("prism.tasks_returned", len(tasks)))
		return c.JSON(http.StatusOK, tasks)
	}
}

// statusOf reports the status the error handler will write for err.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
