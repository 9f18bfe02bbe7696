package origin

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

	"go.uber.org/zap"

	"memberpass/internal/errs"
	"memberpass/internal/model"
	"memberpass/internal/repository"
	"memberpass/internal/vault"
)

// Config holds origin platform endpoints and OAuth client credentials.
type Config struct {
	APIBaseURL   string // e.g. https://www.googleapis.com/youtube/v3
	TokenURL     string // OAuth token endpoint for refresh
	ClientID     string
	ClientSecret string
	HTTPTimeout  time.Duration
	Retry        RetryPolicy
}

// Client is the HTTP implementation of Verifier against a YouTube-style API.
// Member access tokens are loaded from the token store, decrypted with the
// vault, and rotated through the OAuth refresh flow on 401.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens repository.TokenRepository
	vault  *vault.Vault
	log    *zap.Logger
}

// NewClient constructs an origin platform client.
func NewClient(cfg Config, tokens repository.TokenRepository, v *vault.Vault, log *zap.Logger) *Client {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		tokens: tokens,
		vault:  v,
		log:    log,
	}
}

type itemList struct {
	Items []json.RawMessage `json:"items"`
}

type commentItem struct {
	ID      string `json:"id"`
	Snippet struct {
		AuthorChannelID struct {
			Value string `json:"value"`
		} `json:"authorChannelId"`
		AuthorDisplayName string `json:"authorDisplayName"`
		VideoID           string `json:"videoId"`
		PublishedAt       string `json:"publishedAt"`
	} `json:"snippet"`
}

// CheckStanding probes the issuer's members-only resource with the member's
// token. An accessible resource confirms standing; 403/404 or an empty item
// list means the membership lapsed.
func (c *Client) CheckStanding(ctx context.Context, iss *model.Issuer, member *model.Member) (*Standing, error) {
	var st *Standing
	err := c.cfg.Retry.Do(ctx, func() error {
		var err error
		st, err = c.checkStandingOnce(ctx, iss, member)
		return err
	})
	return st, err
}

func (c *Client) checkStandingOnce(ctx context.Context, iss *model.Issuer, member *model.Member) (*Standing, error) {
	status, body, err := c.authorizedGet(ctx, member,
		fmt.Sprintf("%s/videos?id=%s&part=snippet", c.cfg.APIBaseURL, url.QueryEscape(iss.OriginRef)))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	switch status {
	case http.StatusOK:
		var list itemList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("%w: malformed origin response: %v", errs.ErrOriginUnavailable, err)
		}
		if len(list.Items) == 0 {
			return &Standing{State: StandingLapsed, Snapshot: "resource not visible", CheckedAt: now}, nil
		}
		return &Standing{State: StandingConfirmed, Snapshot: "resource accessible", CheckedAt: now}, nil
	case http.StatusForbidden, http.StatusNotFound:
		return &Standing{State: StandingLapsed, Snapshot: fmt.Sprintf("origin status %d", status), CheckedAt: now}, nil
	default:
		return nil, classifyStatus(status, body)
	}
}

// VerifyProof fetches the proof (a comment on the origin platform) and checks
// authorship, target resource and freshness against the issuance session.
func (c *Client) VerifyProof(ctx context.Context, iss *model.Issuer, member *model.Member, proofRef string, sessionStart time.Time) (*ProofConfirmation, error) {
	var conf *ProofConfirmation
	err := c.cfg.Retry.Do(ctx, func() error {
		var err error
		conf, err = c.verifyProofOnce(ctx, iss, member, proofRef, sessionStart)
		return err
	})
	return conf, err
}

func (c *Client) verifyProofOnce(ctx context.Context, iss *model.Issuer, member *model.Member, proofRef string, sessionStart time.Time) (*ProofConfirmation, error) {
	status, body, err := c.authorizedGet(ctx, member,
		fmt.Sprintf("%s/comments?id=%s&part=snippet", c.cfg.APIBaseURL, url.QueryEscape(proofRef)))
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusNotFound:
		return nil, fmt.Errorf("%w: proof not retrievable (status %d)", errs.ErrProofInvalid, status)
	default:
		return nil, classifyStatus(status, body)
	}

	var resp struct {
		Items []commentItem `json:"items"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed origin response: %v", errs.ErrOriginUnavailable, err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%w: proof not found", errs.ErrProofInvalid)
	}
	item := resp.Items[0]
	if item.Snippet.AuthorChannelID.Value != member.ExternalID {
		return nil, fmt.Errorf("%w: proof not authored by member", errs.ErrProofInvalid)
	}
	if item.Snippet.VideoID != iss.OriginRef {
		return nil, fmt.Errorf("%w: proof targets wrong resource", errs.ErrProofInvalid)
	}
	publishedAt, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable proof timestamp", errs.ErrProofInvalid)
	}
	if publishedAt.Before(sessionStart) {
		return nil, fmt.Errorf("%w: proof predates issuance session", errs.ErrProofInvalid)
	}
	return &ProofConfirmation{
		ProofRef:          item.ID,
		AuthorExternalID:  item.Snippet.AuthorChannelID.Value,
		AuthorDisplayName: item.Snippet.AuthorDisplayName,
		ConfirmedAt:       publishedAt.UTC(),
	}, nil
}

// authorizedGet performs a bearer-authorized GET, refreshing the member's
// access token once on 401 before giving up.
func (c *Client) authorizedGet(ctx context.Context, member *model.Member, u string) (int, []byte, error) {
	token, rec, err := c.accessToken(ctx, member)
	if err != nil {
		return 0, nil, err
	}
	status, body, err := c.get(ctx, u, token)
	if err != nil {
		return 0, nil, err
	}
	if status != http.StatusUnauthorized {
		return status, body, nil
	}

	c.log.Info("origin returned 401, refreshing access token",
		zap.String("member_id", member.ID.String()))
	token, err = c.refreshToken(ctx, rec)
	if err != nil {
		return 0, nil, err
	}
	status, body, err = c.get(ctx, u, token)
	if err != nil {
		return 0, nil, err
	}
	if status == http.StatusUnauthorized {
		return 0, nil, fmt.Errorf("%w: authorization no longer valid", errs.ErrOriginRejected)
	}
	return status, body, nil
}

func (c *Client) get(ctx context.Context, u, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", errs.ErrOriginUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := readAll(resp)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", errs.ErrOriginUnavailable, err)
	}
	return resp.StatusCode, body, nil
}

// accessToken returns a live plaintext access token for the member, refreshing
// a stale one. A missing token record means the member has no authorization on
// file, which is a permanent rejection.
func (c *Client) accessToken(ctx context.Context, member *model.Member) (string, *model.TokenRecord, error) {
	rec, err := c.tokens.GetByMember(ctx, member.ID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return "", nil, fmt.Errorf("%w: no authorization on file", errs.ErrOriginRejected)
		}
		return "", nil, err
	}
	if rec.Expired(time.Now()) {
		token, err := c.refreshToken(ctx, rec)
		return token, rec, err
	}
	plain, err := c.vault.Decrypt(rec.AccessEnc)
	if err != nil {
		return "", nil, err // ErrVaultDecrypt, fatal
	}
	return string(plain), rec, nil
}

// refreshToken exchanges the refresh token for new material and rotates the
// stored record in place.
func (c *Client) refreshToken(ctx context.Context, rec *model.TokenRecord) (string, error) {
	if len(rec.RefreshEnc) == 0 {
		return "", fmt.Errorf("%w: no refresh token on file", errs.ErrOriginRejected)
	}
	refresh, err := c.vault.Decrypt(rec.RefreshEnc)
	if err != nil {
		return "", err // ErrVaultDecrypt, fatal
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {string(refresh)},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token refresh: %v", errs.ErrOriginUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := readAll(resp)
	if err != nil {
		return "", fmt.Errorf("%w: token refresh: %v", errs.ErrOriginUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: token endpoint status %d", errs.ErrOriginUnavailable, resp.StatusCode)
	default:
		// 4xx from the token endpoint means the grant was revoked.
		return "", fmt.Errorf("%w: token refresh rejected (status %d)", errs.ErrOriginRejected, resp.StatusCode)
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("%w: malformed token response", errs.ErrOriginUnavailable)
	}

	accessEnc, err := c.vault.Encrypt([]byte(tok.AccessToken))
	if err != nil {
		return "", err
	}
	var refreshEnc []byte
	if tok.RefreshToken != "" {
		if refreshEnc, err = c.vault.Encrypt([]byte(tok.RefreshToken)); err != nil {
			return "", err
		}
	}
	expiresAt := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if err := c.tokens.Rotate(ctx, rec.ID, accessEnc, refreshEnc, expiresAt); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// classifyStatus maps non-success origin statuses onto the error taxonomy.
func classifyStatus(status int, body []byte) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: origin status %d", errs.ErrOriginUnavailable, status)
	}
	detail := string(body)
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return fmt.Errorf("%w: origin status %d: %s", errs.ErrOriginRejected, status, detail)
}

func readAll(resp *http.Response) ([]byte, error) {
	// Origin responses are small; 1 MiB caps pathological bodies.
	const maxBody = 1 << 20
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}
