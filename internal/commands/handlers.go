package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"morningbot/internal/prefs"
)

const (
	replyUnauthorized = "❌你没有权限使用此命令"
	replyGroupOnly    = "❌请在群聊中使用此命令"
	replyMissingCity  = "❌请指定城市，例如：设置早安天气 北京"
	replyEmpty        = "列表为空"

	replyBlacklistSet      = "✅已将本群加入早安黑名单"
	replyBlacklistSetFail  = "❌设置早安黑名单失败"
	replyBlacklistDelete   = "✅已将本群移出早安黑名单"
	replyBlacklistDelFail  = "❌删除早安黑名单失败"
	replyWeatherSetFmt     = "✅已设置本群早安天气城市：%s"
	replyWeatherSetFail    = "❌设置早安天气失败"
	replyWeatherDelete     = "✅已删除本群早安天气设置"
	replyWeatherDeleteFail = "❌删除早安天气失败"
	headerBlacklist        = "早安黑名单："
	headerWeather          = "早安天气设置："
	infoFmt                = "发送者：%s\n会话：%s\n群名称：%s"
)

var errStore = errors.New("preference store operation failed")

func (r *Router) setBlacklist(ctx context.Context, req *Request) error {
	id := req.Msg.ConversationID
	if !r.deps.Store.UpsertBlacklist(ctx, id, r.displayName(ctx, req, id)) {
		r.reply(ctx, req, replyBlacklistSetFail)
		return errStore
	}
	r.reply(ctx, req, replyBlacklistSet)
	return nil
}

func (r *Router) deleteBlacklist(ctx context.Context, req *Request) error {
	if !r.deps.Store.RemoveBlacklist(ctx, req.Msg.ConversationID) {
		r.reply(ctx, req, replyBlacklistDelFail)
		return errStore
	}
	r.reply(ctx, req, replyBlacklistDelete)
	return nil
}

func (r *Router) getBlacklist(ctx context.Context, req *Request) error {
	r.reply(ctx, req, renderList(headerBlacklist, r.deps.Store.ListBlacklist(ctx), false))
	return nil
}

func (r *Router) setWeather(ctx context.Context, req *Request) error {
	city := strings.TrimSpace(strings.Join(req.Args, " "))
	if city == "" {
		r.reply(ctx, req, replyMissingCity)
		return nil
	}
	id := req.Msg.ConversationID
	if !r.deps.Store.UpsertWeather(ctx, city, id, r.displayName(ctx, req, id)) {
		r.reply(ctx, req, replyWeatherSetFail)
		return errStore
	}
	r.reply(ctx, req, fmt.Sprintf(replyWeatherSetFmt, city))
	return nil
}

func (r *Router) deleteWeather(ctx context.Context, req *Request) error {
	if !r.deps.Store.RemoveWeather(ctx, req.Msg.ConversationID) {
		r.reply(ctx, req, replyWeatherDeleteFail)
		return errStore
	}
	r.reply(ctx, req, replyWeatherDelete)
	return nil
}

func (r *Router) getWeather(ctx context.Context, req *Request) error {
	r.reply(ctx, req, renderList(headerWeather, r.deps.Store.ListWeather(ctx), true))
	return nil
}

func (r *Router) info(ctx context.Context, req *Request) error {
	group := "-"
	if req.Msg.IsGroup {
		group = r.displayName(ctx, req, req.Msg.ConversationID)
	}
	r.reply(ctx, req, fmt.Sprintf(infoFmt, req.Msg.SenderID, req.Msg.ConversationID, group))
	return nil
}

// renderList numbers rows from 1 in store order.
func renderList(header string, rows []prefs.Record, withCity bool) string {
	if len(rows) == 0 {
		return replyEmpty
	}
	var b strings.Builder
	b.WriteString(header)
	for i, rec := range rows {
		name := rec.DisplayName
		if name == "" {
			name = rec.DestinationID
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, name)
		if withCity {
			fmt.Fprintf(&b, " - %s", rec.City)
		}
	}
	return b.String()
}
