// Package wechat talks to a local WeChat protocol gateway over HTTP.
//
// Every endpoint takes a JSON body and answers with an envelope
// {"Success":bool,"Message":string,"Data":...}. All calls share one rate
// limiter so the account is never flooded.
package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	rtsup "morningbot/internal/runtime/supervisor"
	"morningbot/internal/transport"
	logx "morningbot/pkg/logx"
)

// ErrGateway is returned when the gateway answers with Success=false
// or a non-2xx status.
var ErrGateway = errors.New("wechat gateway error")

const maxResponseBytes = 4 << 20

type Client struct {
	cfg     Config
	log     logx.Logger
	http    *http.Client
	limiter *rate.Limiter

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	out     atomic.Value // chan<- transport.Update

	dropped atomic.Int64
}

var _ transport.Host = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for gateway calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("wechat gateway url is empty")
	}
	if strings.TrimSpace(cfg.Wxid) == "" {
		return nil, errors.New("wechat wxid is empty")
	}
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		cfg:     cfg,
		log:     log,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(1, int(cfg.RatePerSec))),
	}
	var nilOut chan<- transport.Update
	c.out.Store(nilOut)
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type envelope struct {
	Success bool            `json:"Success"`
	Code    int             `json:"Code"`
	Message string          `json:"Message"`
	Data    json.RawMessage `json:"Data"`
}

// call POSTs body to path and decodes the envelope's Data into out (if non-nil).
func (c *Client) call(ctx context.Context, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s: status %d", ErrGateway, path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %s: decode envelope: %v", ErrGateway, path, err)
	}
	if !env.Success {
		return fmt.Errorf("%w: %s: %s", ErrGateway, path, env.Message)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %s: decode data: %v", ErrGateway, path, err)
	}
	return nil
}

// wrapped is the gateway's {"string": "..."} text wrapper.
type wrapped struct {
	String string `json:"string"`
}

type contactListData struct {
	ContactUsernameList       []string `json:"ContactUsernameList"`
	CurrentWxcontactSeq       int64    `json:"CurrentWxcontactSeq"`
	CurrentChatRoomContactSeq int64    `json:"CurrentChatRoomContactSeq"`
	CountinueFlag             int      `json:"CountinueFlag"`
}

func (c *Client) ListContacts(ctx context.Context, cursorA, cursorB int64) (transport.ContactPage, error) {
	var d contactListData
	err := c.call(ctx, "/GetContractList", map[string]any{
		"Wxid":                      c.cfg.Wxid,
		"CurrentWxcontactSeq":       cursorA,
		"CurrentChatroomContactSeq": cursorB,
	}, &d)
	if err != nil {
		return transport.ContactPage{}, err
	}
	return transport.ContactPage{
		IDs:     d.ContactUsernameList,
		CursorA: d.CurrentWxcontactSeq,
		CursorB: d.CurrentChatRoomContactSeq,
		HasMore: d.CountinueFlag == 1,
	}, nil
}

func (c *Client) SendText(ctx context.Context, to, text string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("empty recipient")
	}
	return c.call(ctx, "/SendTextMsg", map[string]any{
		"Wxid":    c.cfg.Wxid,
		"ToWxid":  to,
		"Content": text,
		"Type":    1,
		"At":      "",
	}, nil)
}

type contactDetailData struct {
	ContactList []struct {
		UserName wrapped `json:"UserName"`
		NickName wrapped `json:"NickName"`
	} `json:"ContactList"`
}

// DisplayName returns the nickname of a contact or group.
func (c *Client) DisplayName(ctx context.Context, id string) (string, error) {
	var d contactDetailData
	if err := c.call(ctx, "/GetContractDetail", map[string]any{
		"Wxid":         c.cfg.Wxid,
		"RequestWxids": id,
		"Chatroom":     "",
	}, &d); err != nil {
		return "", err
	}
	for _, ct := range d.ContactList {
		if ct.UserName.String == id || len(d.ContactList) == 1 {
			if name := strings.TrimSpace(ct.NickName.String); name != "" {
				return name, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no display name for %s", ErrGateway, id)
}
