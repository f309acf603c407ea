// Package source はGitHubリポジトリからノートのソースツリーを取得する。
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const (
	// DefaultAPIURL はGitHub REST APIのベースURL。
	DefaultAPIURL = "https://api.github.com"
	// DefaultRawURL はファイル本体を取得するベースURL。
	DefaultRawURL = "https://raw.githubusercontent.com"

	userAgent = "notegate/1.0"
)

// ErrorKind はツリー取得失敗の分類。
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
)

// Error はGitHub APIの失敗を表す。Messageには確認すべき設定値を含む。
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Config はGitHubリポジトリへの接続設定。
type Config struct {
	Owner   string
	Repo    string
	Token   string // 任意。プライベートリポジトリでは必須
	APIURL  string
	RawURL  string
	MaxSize int64 // 1ファイルあたりの最大バイト数。0以下は無制限
}

// TreeEntry はリポジトリツリーの1要素。
type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

type treeResponse struct {
	Tree      []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// Client はGitHub REST APIとrawコンテンツのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	cfg        Config
}

// NewClient はClientを生成する。
// httpClientには通常SSRF防止付きのクライアントを渡す。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.RawURL == "" {
		cfg.RawURL = DefaultRawURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.RawURL = strings.TrimRight(cfg.RawURL, "/")
	return &Client{httpClient: httpClient, logger: logger, cfg: cfg}
}

// Repository は "owner/repo" 形式の名前を返す。
func (c *Client) Repository() string {
	return c.cfg.Owner + "/" + c.cfg.Repo
}

// ListTree はrefのツリーを再帰的に取得し、prefix配下のblobのみを返す。
func (c *Client) ListTree(ctx context.Context, ref, prefix string) ([]TreeEntry, error) {
	reqURL := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1",
		c.cfg.APIURL, url.PathEscape(c.cfg.Owner), url.PathEscape(c.cfg.Repo), url.PathEscape(ref))

	resp, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, &Error{Kind: KindOther, Message: fmt.Sprintf("GitHub APIへのリクエストに失敗しました: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		apiErr := c.classifyStatus(resp.StatusCode, string(body))
		c.logger.Error("GitHubのツリー取得に失敗しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("repository", c.Repository()),
			slog.String("ref", ref),
		)
		return nil, apiErr
	}

	var tree treeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tree); err != nil {
		return nil, &Error{Kind: KindOther, Status: resp.StatusCode, Message: fmt.Sprintf("ツリーレスポンスのパースに失敗しました: %v", err)}
	}
	if tree.Truncated {
		c.logger.Warn("GitHubのツリーが切り詰められています", slog.String("repository", c.Repository()))
	}

	var entries []TreeEntry
	for _, e := range tree.Tree {
		if e.Type == "blob" && strings.HasPrefix(e.Path, prefix) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// FetchRaw はファイル本体を取得する。
func (c *Client) FetchRaw(ctx context.Context, ref, path string) ([]byte, error) {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	reqURL := fmt.Sprintf("%s/%s/%s/%s/%s",
		c.cfg.RawURL, url.PathEscape(c.cfg.Owner), url.PathEscape(c.cfg.Repo), url.PathEscape(ref), strings.Join(segments, "/"))

	resp, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status %d", path, resp.StatusCode)
	}

	var r io.Reader = resp.Body
	if c.cfg.MaxSize > 0 {
		r = io.LimitReader(resp.Body, c.cfg.MaxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if c.cfg.MaxSize > 0 && int64(len(data)) > c.cfg.MaxSize {
		return nil, fmt.Errorf("file %s exceeds max size %d bytes", path, c.cfg.MaxSize)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "token "+c.cfg.Token)
	}
	return c.httpClient.Do(req)
}

// classifyStatus はステータスコードから設定の確認方法を含むエラーを組み立てる。
func (c *Client) classifyStatus(status int, body string) *Error {
	owner := valueOrNotSet(c.cfg.Owner)
	repo := valueOrNotSet(c.cfg.Repo)

	switch status {
	case http.StatusUnauthorized:
		return &Error{Kind: KindUnauthorized, Status: status, Message: "GitHub APIが401 Unauthorizedを返しました。" +
			"GITHUB_TOKENが設定されていて有効か確認してください。プライベートリポジトリには'repo'スコープが必要です。"}
	case http.StatusForbidden:
		return &Error{Kind: KindForbidden, Status: status, Message: fmt.Sprintf("GitHub APIが403 Forbiddenを返しました。"+
			"レート制限または権限不足の可能性があります。GITHUB_TOKENのスコープと、リポジトリ'%s/%s'にアクセスできるか確認してください。", owner, repo)}
	case http.StatusNotFound:
		return &Error{Kind: KindNotFound, Status: status, Message: fmt.Sprintf("GitHub APIが404 Not Foundを返しました。"+
			"GITHUB_OWNER ('%s') と GITHUB_REPO ('%s') が正しく、トークンでアクセスできるか確認してください。", owner, repo)}
	default:
		return &Error{Kind: KindOther, Status: status, Message: fmt.Sprintf("GitHub APIがステータス %d を返しました: %s", status, body)}
	}
}

func valueOrNotSet(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}
