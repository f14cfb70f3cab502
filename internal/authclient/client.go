package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/codedojo/internal/model"
)

const (
	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 1 << 20

	csrfHeaderName = "X-CSRF-Token"

	homePath  = "/"
	loginPath = "/login"
)

// Navigator は画面遷移を抽象化するインターフェース。
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc は関数をNavigatorとして使うためのアダプタ。
type NavigatorFunc func(path string)

// Navigate はNavigatorを実装する。
func (f NavigatorFunc) Navigate(path string) { f(path) }

type noopNavigator struct{}

func (noopNavigator) Navigate(string) {}

// Config はClientの設定。
type Config struct {
	BaseURL string        // 認証APIのベースURL（例: http://localhost:5000）
	Timeout time.Duration // リクエストタイムアウト。0なら10秒
	CSRF    bool          // 状態変更リクエストにCSRFトークンを付与するか
}

// Client は認証APIを呼び出し、結果をStateに反映する。
type Client struct {
	baseURL    string
	httpClient *http.Client
	state      *State
	nav        Navigator
	logger     *slog.Logger
	csrf       bool

	inFlight atomic.Bool

	csrfMu    sync.Mutex
	csrfToken string
}

// NewClient はClientを生成する。
// Cookieはpublicsuffixに従うcookiejarで保持する。navとloggerはnilでもよい。
func NewClient(cfg Config, state *State, nav Navigator, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("authclient: base URL is required")
	}
	if state == nil {
		return nil, errors.New("authclient: state is required")
	}
	if nav == nil {
		nav = noopNavigator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Jar: jar, Timeout: timeout},
		state:      state,
		nav:        nav,
		logger:     logger,
		csrf:       cfg.CSRF,
	}, nil
}

// State はクライアントが更新する認証状態を返す。
func (c *Client) State() *State {
	return c.state
}

type userEnvelope struct {
	User *model.PublicUser `json:"user"`
}

type checkAuthEnvelope struct {
	IsAuthenticated bool              `json:"isAuthenticated"`
	User            *model.PublicUser `json:"user"`
}

type errorEnvelope struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
}

// Init は起動時にサーバーへ認証状態を問い合わせ、Stateに反映する。
// 結果にかかわらずLoadingを解除する。通信失敗時は未認証として扱う。
func (c *Client) Init(ctx context.Context) error {
	defer c.state.setLoading(false)

	var resp checkAuthEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/auth/check-auth", nil, &resp); err != nil {
		c.state.setUser(nil)
		c.logger.Warn("auth check failed", slog.String("error", err.Error()))
		return err
	}

	if resp.IsAuthenticated && resp.User != nil {
		c.state.setUser(resp.User)
	} else {
		c.state.setUser(nil)
	}
	return nil
}

// Login はログインし、成功したらユーザーを保存してトップへ遷移する。
// 失敗時は*Errorを返し、状態は変更しない。
func (c *Client) Login(ctx context.Context, email, password string) (*model.PublicUser, error) {
	body := map[string]string{"email": email, "password": password}
	return c.authenticate(ctx, "/api/auth/login", body)
}

// Signup は新規登録し、成功したらユーザーを保存してトップへ遷移する。
func (c *Client) Signup(ctx context.Context, fullName, email, password string) (*model.PublicUser, error) {
	body := map[string]string{"fullName": fullName, "email": email, "password": password}
	return c.authenticate(ctx, "/api/auth/signup", body)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*model.PublicUser, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrRequestInFlight
	}
	defer c.inFlight.Store(false)

	var resp userEnvelope
	if err := c.doMutating(ctx, path, body, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, transportError("invalid response from server", nil)
	}

	c.state.setUser(resp.User)
	c.nav.Navigate(homePath)
	return copyUser(resp.User), nil
}

// Logout はログアウトする。サーバー呼び出しの成否にかかわらず
// ローカルの状態を破棄してログイン画面へ遷移する。返すエラーはログ用。
func (c *Client) Logout(ctx context.Context) error {
	err := c.doMutating(ctx, "/api/auth/logout", nil, nil)
	if err != nil {
		c.logger.Warn("logout request failed", slog.String("error", err.Error()))
	}

	c.state.setUser(nil)
	c.nav.Navigate(loginPath)
	return err
}

// doMutating は状態変更リクエストを送る。
// CSRFトークンが拒否された場合はトークンを取り直して1回だけ再送する。
func (c *Client) doMutating(ctx context.Context, path string, body, out any) error {
	err := c.do(ctx, http.MethodPost, path, body, out)
	if !c.csrf {
		return err
	}

	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeCSRFTokenInvalid {
		c.resetCSRFToken()
		return c.do(ctx, http.MethodPost, path, body, out)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return transportError("failed to encode request", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return transportError("failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.csrf && method != http.MethodGet {
		token, err := c.ensureCSRFToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set(csrfHeaderName, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError("could not reach the server", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBytes)

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, limited)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, limited)
		return nil
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return transportError("invalid response from server", err)
	}
	return nil
}

func decodeError(status int, body io.Reader) error {
	var env errorEnvelope
	if err := json.NewDecoder(body).Decode(&env); err != nil || env.Message == "" {
		return &Error{
			Kind:    KindTransport,
			Status:  status,
			Message: fmt.Sprintf("unexpected response status %d", status),
		}
	}
	return &Error{
		Kind:    kindFromCategory(env.Category),
		Code:    env.Code,
		Message: env.Message,
		Status:  status,
	}
}

func (c *Client) ensureCSRFToken(ctx context.Context) (string, error) {
	c.csrfMu.Lock()
	defer c.csrfMu.Unlock()

	if c.csrfToken != "" {
		return c.csrfToken, nil
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/csrf-token", nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", transportError("server returned an empty CSRF token", nil)
	}
	c.csrfToken = resp.Token
	return c.csrfToken, nil
}

func (c *Client) resetCSRFToken() {
	c.csrfMu.Lock()
	defer c.csrfMu.Unlock()
	c.csrfToken = ""
}
