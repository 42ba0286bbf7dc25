package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

// APIError is a non-2xx answer from the HTTP API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, strings.TrimSpace(e.Body))
}

// API wraps http.Client with the board server's JSON endpoints.
type API struct {
	BaseURL string
	// Token is sent as the Authorization header, "Bearer " included.
	Token string
	HTTP  *http.Client
}

func NewAPI(baseURL, token string) *API {
	return &API{BaseURL: strings.TrimRight(baseURL, "/"), Token: token, HTTP: &http.Client{}}
}

func (a *API) Register(ctx context.Context, in domain.RegisterInput) (domain.UserResponse, error) {
	var out domain.UserResponse
	err := a.do(ctx, http.MethodPost, "/api/users", in, &out)
	return out, err
}

func (a *API) Login(ctx context.Context, in domain.LoginInput) (domain.UserResponse, error) {
	var out domain.UserResponse
	err := a.do(ctx, http.MethodPost, "/api/users/login", in, &out)
	return out, err
}

func (a *API) CurrentUser(ctx context.Context) (domain.UserResponse, error) {
	var out domain.UserResponse
	err := a.do(ctx, http.MethodGet, "/api/user", nil, &out)
	return out, err
}

func (a *API) Boards(ctx context.Context) ([]domain.Board, error) {
	var out []domain.Board
	err := a.do(ctx, http.MethodGet, "/api/boards", nil, &out)
	return out, err
}

func (a *API) CreateBoard(ctx context.Context, title string) (domain.Board, error) {
	var out domain.Board
	err := a.do(ctx, http.MethodPost, "/api/boards", map[string]string{"title": title}, &out)
	return out, err
}

func (a *API) Board(ctx context.Context, id string) (domain.Board, error) {
	var out domain.Board
	err := a.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (a *API) Columns(ctx context.Context, boardID string) ([]domain.Column, error) {
	var out []domain.Column
	err := a.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID)+"/columns", nil, &out)
	return out, err
}

func (a *API) Tasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	var out []domain.Task
	err := a.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID)+"/tasks", nil, &out)
	return out, err
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.Token != "" {
		req.Header.Set("Authorization", a.Token)
	}
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	return sonic.Unmarshal(data, out)
}
