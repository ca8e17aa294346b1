package wechat

import (
	"context"
	"strconv"
	"strings"
	"time"

	rtsup "morningbot/internal/runtime/supervisor"
	"morningbot/internal/transport"
	logx "morningbot/pkg/logx"
)

const msgTypeText = 1

type syncData struct {
	AddMsgs []syncMsg `json:"AddMsgs"`
}

type syncMsg struct {
	MsgID        int64   `json:"MsgId"`
	NewMsgID     int64   `json:"NewMsgId"`
	FromUserName wrapped `json:"FromUserName"`
	ToUserName   wrapped `json:"ToUserName"`
	MsgType      int     `json:"MsgType"`
	Content      wrapped `json:"Content"`
}

// Start polls the gateway for new messages and forwards text messages to out.
// Updates are dropped, not queued, when out is full.
func (c *Client) Start(ctx context.Context, out chan<- transport.Update) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return nil
	}
	c.running = true
	c.out.Store(out)
	c.sup = rtsup.New(ctx, rtsup.WithLogger(c.log.With(logx.String("loop", "sync"))))
	sup := c.sup
	c.runMu.Unlock()

	sup.GoRestart("wechat.sync", c.pollLoop,
		rtsup.WithRestartBackoff(500*time.Millisecond, 30*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	c.log.Info("polling started", logx.Duration("interval", c.cfg.PollInterval))
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.runMu.Lock()
	sup := c.sup
	c.sup = nil
	wasRunning := c.running
	c.running = false
	var nilOut chan<- transport.Update
	c.out.Store(nilOut)
	c.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	c.log.Info("stopping", logx.Int64("dropped_updates", c.dropped.Load()))
	if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
		return err
	}
	return nil
}

// pollLoop returns an error on a failed sync so the supervisor restarts it
// with backoff.
func (c *Client) pollLoop(ctx context.Context) error {
	t := time.NewTicker(c.cfg.PollInterval)
	defer t.Stop()
	for {
		if err := c.syncOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) syncOnce(ctx context.Context) error {
	var d syncData
	if err := c.call(ctx, "/Sync", map[string]any{
		"Wxid":    c.cfg.Wxid,
		"Scene":   0,
		"Synckey": "",
	}, &d); err != nil {
		return err
	}
	for _, m := range d.AddMsgs {
		if msg, ok := c.toMessage(m); ok {
			c.emit(transport.Update{Kind: transport.UpdateMessage, Message: msg})
		}
	}
	return nil
}

// toMessage keeps incoming text messages. Group messages carry the real
// sender as a "<wxid>:\n" prefix on the content.
func (c *Client) toMessage(m syncMsg) (*transport.Message, bool) {
	if m.MsgType != msgTypeText {
		return nil, false
	}
	from := strings.TrimSpace(m.FromUserName.String)
	if from == "" || from == c.cfg.Wxid {
		return nil, false
	}
	id := m.NewMsgID
	if id == 0 {
		id = m.MsgID
	}
	msg := &transport.Message{
		ID:             strconv.FormatInt(id, 10),
		ConversationID: from,
		SenderID:       from,
		Text:           m.Content.String,
	}
	if transport.IsGroup(from) {
		msg.IsGroup = true
		sender, text, ok := strings.Cut(m.Content.String, ":\n")
		if !ok {
			return nil, false
		}
		msg.SenderID = strings.TrimSpace(sender)
		msg.Text = text
	}
	msg.Text = strings.TrimSpace(msg.Text)
	return msg, msg.Text != ""
}

func (c *Client) emit(up transport.Update) {
	out, _ := c.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		if n := c.dropped.Add(1); n%50 == 1 {
			c.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", n), logx.Int("chan_cap", cap(out)))
		}
	}
}
