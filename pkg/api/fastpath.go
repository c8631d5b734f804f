package api

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// Presence signal handlers live in this file. They are thin fast-path
// handlers which hand fire-and-forget signals to the presence tracker and
// return a 202. A burst of typing signals never blocks the caller; under
// pressure signals are dropped, not queued.

type signalBody struct {
	User string `json:"user"`
	Chat string `json:"chat"`
}

// FastPathHandler routes the presence signal endpoints:
// POST /v1/signals/typing, /current, /heartbeat, /online, /offline.
func (a *API) FastPathHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.Response.Header.Set("Content-Type", "application/json")
		if !ctx.IsPost() {
			jsonErrorFast(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var body signalBody
		if err := json.Unmarshal(ctx.PostBody(), &body); err != nil || body.User == "" {
			jsonErrorFast(ctx, fasthttp.StatusBadRequest, "user missing")
			return
		}
		tracker := a.svc.Tracker()
		switch string(ctx.Path()) {
		case "/v1/signals/typing":
			tracker.SetTyping(body.User, body.Chat)
		case "/v1/signals/current":
			tracker.SetCurrentChat(body.User, body.Chat)
		case "/v1/signals/heartbeat":
			tracker.Heartbeat(body.User)
		case "/v1/signals/online":
			tracker.SetOnline(body.User, true)
		case "/v1/signals/offline":
			tracker.SetOnline(body.User, false)
		default:
			jsonErrorFast(ctx, fasthttp.StatusNotFound, "unknown signal")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusAccepted)
	}
}

func jsonErrorFast(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	_ = json.NewEncoder(ctx).Encode(map[string]string{"error": msg})
}
