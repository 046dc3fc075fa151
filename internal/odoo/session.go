// Package odoo is the gateway to the Odoo web API: cookie-authenticated
// JSON-RPC calls against /web/dataset endpoints.
package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionExpired marks a rejected call whose session cookie is no longer
// valid. The session recovers by logging in again; callers normally never see
// this error because call retries once transparently.
var ErrSessionExpired = errors.New("odoo: session expired")

// Error is a remote-side failure reported by Odoo (validation errors and the
// like). It is returned as a value so batch callers can log-and-continue.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("odoo: %s: %s", e.Op, e.Message)
}

var (
	csrfPattern   = regexp.MustCompile(`csrf_token"\s+value="([^"]+)"`)
	userIDPattern = regexp.MustCompile(`"user_id":\s*\[(\d+)\]`)
)

// Session owns the authenticated Odoo web session: the cookie, the resolved
// user and employee ids, and the login credentials needed to refresh them.
// It is safe for concurrent use.
type Session struct {
	baseURL    string
	login      string
	password   string
	httpClient *http.Client

	mu         sync.Mutex
	sessionID  string
	userID     int
	employeeID int
}

// NewSession constructs a session. No network traffic happens until Login.
func NewSession(baseURL, login, password string, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Session{
		baseURL:  baseURL,
		login:    login,
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
			// The login form replies with a redirect carrying the fresh
			// session cookie; following it would lose the Set-Cookie.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Login performs the web login handshake: fetch the login page for a csrf
// token and an anonymous session cookie, post the credentials, then resolve
// the employee id for the authenticated user.
func (s *Session) Login(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/web/login", nil)
	if err != nil {
		return fmt.Errorf("odoo: build login page request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("odoo: fetch login page: %w", err)
	}
	page, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("odoo: read login page: %w", err)
	}
	anonymous := sessionCookie(resp)
	csrfMatch := csrfPattern.FindSubmatch(page)
	if csrfMatch == nil {
		return errors.New("odoo: csrf token not found on login page")
	}

	form := url.Values{}
	form.Set("csrf_token", string(csrfMatch[1]))
	form.Set("login", s.login)
	form.Set("password", s.password)

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/web/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("odoo: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", "session_id="+anonymous)

	resp, err = s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("odoo: login: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("odoo: read login response: %w", err)
	}

	authenticated := sessionCookie(resp)
	if authenticated == "" || authenticated == anonymous {
		return errors.New("odoo: login did not yield an authenticated session")
	}
	userMatch := userIDPattern.FindSubmatch(body)
	if userMatch == nil {
		return errors.New("odoo: user id not found in login response")
	}
	userID, err := strconv.Atoi(string(userMatch[1]))
	if err != nil {
		return fmt.Errorf("odoo: parse user id: %w", err)
	}

	s.mu.Lock()
	s.sessionID = authenticated
	s.userID = userID
	s.mu.Unlock()

	return s.resolveEmployee(ctx, userID)
}

func (s *Session) resolveEmployee(ctx context.Context, userID int) error {
	var employees []struct {
		ID int `json:"id"`
	}
	err := s.searchRead(ctx, searchReadParams{
		Model:  "hr.employee.public",
		Fields: []string{"id"},
		Domain: []any{condition("user_id", "=", userID)},
		Limit:  1,
	}, &employees)
	if err != nil {
		return err
	}
	if len(employees) == 0 {
		return fmt.Errorf("odoo: no employee record for user %d", userID)
	}
	s.mu.Lock()
	s.employeeID = employees[0].ID
	s.mu.Unlock()
	return nil
}

// UserID returns the authenticated Odoo user id.
func (s *Session) UserID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// EmployeeID returns the employee record id of the authenticated user.
func (s *Session) EmployeeID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.employeeID
}

func (s *Session) cookie() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      string `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name string `json:"name"`
	} `json:"data"`
}

func (e *rpcError) sessionExpired() bool {
	return e.Code == 100 || strings.Contains(e.Data.Name, "SessionExpired")
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// searchReadParams is the params object of a /web/dataset/search_read call.
type searchReadParams struct {
	Model  string   `json:"model"`
	Domain []any    `json:"domain"`
	Fields []string `json:"fields"`
	Limit  int      `json:"limit"`
	Sort   string   `json:"sort,omitempty"`
}

type searchReadResult struct {
	Records json.RawMessage `json:"records"`
}

// condition builds one Odoo domain triplet.
func condition(field, op string, value any) []any {
	return []any{field, op, value}
}

// searchRead runs a /web/dataset/search_read query and decodes the records
// array into out, which must be a pointer to a slice.
func (s *Session) searchRead(ctx context.Context, params searchReadParams, out any) error {
	var res searchReadResult
	if err := s.call(ctx, "/web/dataset/search_read", params, &res); err != nil {
		return err
	}
	if len(res.Records) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Records, out); err != nil {
		return fmt.Errorf("odoo: decode %s records: %w", params.Model, err)
	}
	return nil
}

// call posts a JSON-RPC request, recovering once from an expired session by
// logging in again. A failed re-login surfaces as a gateway error.
func (s *Session) call(ctx context.Context, path string, params, result any) error {
	err := s.post(ctx, path, params, result)
	if !errors.Is(err, ErrSessionExpired) {
		return err
	}
	if loginErr := s.Login(ctx); loginErr != nil {
		return fmt.Errorf("odoo: re-login after expiry: %w", loginErr)
	}
	return s.post(ctx, path, params, result)
}

func (s *Session) post(ctx context.Context, path string, params, result any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  params,
		ID:      uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("odoo: marshal %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("odoo: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", "session_id="+s.cookie())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("odoo: %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return &Error{Op: path, Message: resp.Status}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("odoo: decode %s: %w", path, err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.sessionExpired() {
			return ErrSessionExpired
		}
		return &Error{Op: path, Message: rpcResp.Error.Message}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("odoo: decode result of %s: %w", path, err)
	}
	return nil
}

func sessionCookie(resp *http.Response) string {
	for _, c := range resp.Cookies() {
		if c.Name == "session_id" {
			return c.Value
		}
	}
	return ""
}
