package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"data-gateway/middleware/gateway/domain"
)

// ErrInvalidPayload indica que o provedor respondeu 2xx com um corpo que não é JSON.
var ErrInvalidPayload = errors.New("upstream returned a non-JSON payload")

// HTTPUpstream faz uma requisição GET por tentativa a um provedor JSON.
//
// Não interpreta o payload: só garante que é JSON e classifica a falha
// (status, transporte) num *domain.UpstreamError.
type HTTPUpstream struct {
	provider string
	baseURL  string
	client   *http.Client

	apiKey       string
	apiKeyParam  string
	apiKeyHeader string
	requireKey   bool
	maxBody      int64
}

type UpstreamOption func(*HTTPUpstream)

func WithHTTPClient(c *http.Client) UpstreamOption {
	return func(u *HTTPUpstream) { u.client = c }
}

// WithAPIKeyParam envia a chave como query param. Chave vazia deixa o provedor "não configurado".
func WithAPIKeyParam(param, key string) UpstreamOption {
	return func(u *HTTPUpstream) {
		u.apiKeyParam, u.apiKey, u.requireKey = param, key, true
	}
}

// WithAPIKeyHeader envia a chave num header. Chave vazia deixa o provedor "não configurado".
func WithAPIKeyHeader(header, key string) UpstreamOption {
	return func(u *HTTPUpstream) {
		u.apiKeyHeader, u.apiKey, u.requireKey = header, key, true
	}
}

func WithMaxBodyBytes(n int64) UpstreamOption {
	return func(u *HTTPUpstream) { u.maxBody = n }
}

func NewHTTPUpstream(provider, baseURL string, opts ...UpstreamOption) *HTTPUpstream {
	u := &HTTPUpstream{
		provider: provider,
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:   &http.Client{Timeout: 5 * time.Second},
		maxBody:  1 << 20,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *HTTPUpstream) Provider() string { return u.provider }

// Configured informa se há URL (e chave, quando exigida) para chamar o provedor.
func (u *HTTPUpstream) Configured() bool {
	if u.baseURL == "" {
		return false
	}
	return !u.requireKey || u.apiKey != ""
}

// Call devolve a operação de uma tentativa para path+query, no formato esperado
// pelo orquestrador. Retorna nil quando o provedor não está configurado.
func (u *HTTPUpstream) Call(path string, query url.Values) func(ctx context.Context) ([]byte, error) {
	if !u.Configured() {
		return nil
	}
	return func(ctx context.Context) ([]byte, error) {
		return u.Get(ctx, path, query)
	}
}

func (u *HTTPUpstream) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if !u.Configured() {
		return nil, &domain.UpstreamError{Provider: u.provider, Err: domain.ErrNotConfigured}
	}

	q := url.Values{}
	for k, vs := range query {
		q[k] = append([]string(nil), vs...)
	}
	if u.apiKeyParam != "" {
		q.Set(u.apiKeyParam, u.apiKey)
	}

	target := u.baseURL + "/" + strings.TrimLeft(path, "/")
	if enc := q.Encode(); enc != "" {
		target += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &domain.UpstreamError{Provider: u.provider, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if u.apiKeyHeader != "" {
		req.Header.Set(u.apiKeyHeader, u.apiKey)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Provider: u.provider, Err: fmt.Errorf("%w: %w", domain.ErrTransport, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &domain.UpstreamError{Provider: u.provider, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, u.maxBody))
	if err != nil {
		return nil, &domain.UpstreamError{Provider: u.provider, Status: resp.StatusCode, Err: fmt.Errorf("%w: %w", domain.ErrTransport, err)}
	}
	if !json.Valid(body) {
		return nil, &domain.UpstreamError{Provider: u.provider, Status: resp.StatusCode, Err: ErrInvalidPayload}
	}
	return body, nil
}
