package api

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/iwoork/homeforpup-sub006/pkg/api/auth"
	"github.com/iwoork/homeforpup-sub006/pkg/apperr"
	"github.com/iwoork/homeforpup-sub006/pkg/logger"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
)

func pathParam(ctx *fasthttp.RequestCtx, name string) string {
	if v, ok := ctx.UserValue(name).(string); ok {
		return v
	}
	return ""
}

// actor resolves the acting user. claimed is the user the request names
// (path or body); it must match the caller unless a backend key speaks
// for it.
func actor(ctx *fasthttp.RequestCtx, claimed string) (auth.Identity, error) {
	id := auth.Current(ctx)
	if id.UserID == "" {
		if id.Role == auth.RoleBackend && claimed != "" {
			id.UserID = claimed
			return id, nil
		}
		return id, apperr.Permissionf("acting user required")
	}
	if claimed != "" && claimed != id.UserID {
		logger.Warn("actor_mismatch", "actor", id.UserID, "claimed", claimed, "path", string(ctx.Path()))
		return id, apperr.Permissionf("user %q cannot act as %q", id.UserID, claimed)
	}
	return id, nil
}

func decode(ctx *fasthttp.RequestCtx, v interface{}) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return apperr.Validation("request body required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperr.Validation("invalid json payload: %v", err)
	}
	return check(v)
}

func queryInt(ctx *fasthttp.RequestCtx, name string) (int64, error) {
	raw := string(ctx.QueryArgs().Peek(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return n, nil
}

func threadsResponse(threads []models.Thread) ThreadsResponse {
	if threads == nil {
		threads = []models.Thread{}
	}
	return ThreadsResponse{Threads: threads}
}

func (s *Server) listThreads(ctx *fasthttp.RequestCtx) {
	userID := pathParam(ctx, "userId")
	if _, err := actor(ctx, userID); err != nil {
		WriteError(ctx, err)
		return
	}
	var (
		threads []models.Thread
		err     error
	)
	if with := string(ctx.QueryArgs().Peek("with")); with != "" {
		threads, err = s.store.FindThreadsBetween(s.base, userID, with)
	} else {
		threads, err = s.store.ListThreadsForUser(s.base, userID)
	}
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSONStatus(ctx, fasthttp.StatusOK, threadsResponse(threads))
}

// parseFilter reads search, read and type; absent parameters stay unset.
func parseFilter(args *fasthttp.Args) (models.ThreadFilter, error) {
	var f models.ThreadFilter
	if args.Has("search") {
		q := string(args.Peek("search"))
		f.Search = &q
	}
	if raw := string(args.Peek("read")); raw != "" {
		read, err := strconv.ParseBool(raw)
		if err != nil {
			return f, apperr.Validation("read must be true or false")
		}
		f.Read = &read
	}
	if raw := string(args.Peek("type")); raw != "" {
		mt := models.MessageType(raw)
		if !mt.Valid() {
			return f, apperr.Validation("unknown message type %q", raw)
		}
		f.Type = &mt
	}
	return f, nil
}

func (s *Server) searchThreads(ctx *fasthttp.RequestCtx) {
	userID := pathParam(ctx, "userId")
	if _, err := actor(ctx, userID); err != nil {
		WriteError(ctx, err)
		return
	}
	filter, err := parseFilter(ctx.QueryArgs())
	if err != nil {
		WriteError(ctx, err)
		return
	}
	threads, err := s.store.SearchThreads(s.base, userID, filter)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSONStatus(ctx, fasthttp.StatusOK, threadsResponse(threads))
}

func (s *Server) unread(ctx *fasthttp.RequestCtx) {
	userID := pathParam(ctx, "userId")
	if _, err := actor(ctx, userID); err != nil {
		WriteError(ctx, err)
		return
	}
	n, err := s.store.UnreadTotal(s.base, userID)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSONStatus(ctx, fasthttp.StatusOK, UnreadResponse{UserID: userID, Unread: n})
}

func (s *Server) createThread(ctx *fasthttp.RequestCtx) {
	var req createThreadRequest
	if err := decode(ctx, &req); err != nil {
		WriteError(ctx, err)
		return
	}
	id, err := actor(ctx, req.SenderID)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	if req.SenderName == "" {
		req.SenderName = id.UserName
	}
	th, msg, err := s.store.CreateThread(s.base, req.model())
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSONStatus(ctx, fasthttp.StatusCreated, CreateThreadResponse{Thread: th, Message: msg})
}

func (s *Server) getThread(ctx *fasthttp.RequestCtx) {
	id, err := actor(ctx, string(ctx.QueryArgs().Peek("user_id")))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	th, err := s.store.GetThreadFor(s.base, pathParam(ctx, "threadId"), id.UserID)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSONStatus(ctx, fasthttp.StatusOK, ThreadResponse{Thread: th})
}

func (s *Server) deleteThread(ctx *fasthttp.RequestCtx) {
	id, err := actor(ctx, string(ctx.QueryArgs().Peek("user_id")))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	threadID := pathParam(ctx, "threadId")
	if _, err := s.store.GetThreadFor(s.base, threadID, id.UserID); err != nil {
		WriteError(ctx, err)
		return
	}
	if err := s.store.DeleteThread(s.base, threadID); err != nil {
		WriteError(ctx, err)
		return
	}
	logger.Info("thread_deleted", "thread", threadID, "by", id.UserID)
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (s *Server) listMessages(ctx *fasthttp.RequestCtx) {
	id, err := actor(ctx, string(ctx.QueryArgs().Peek("user_id")))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	threadID := pathParam(ctx, "threadId")
	limit, err := queryInt(ctx, "limit")
	if err != nil {
		WriteError(ctx, err)
		return
	}
	before, err := queryInt(ctx, "before")
	if err != nil {
		WriteError(ctx, err)
		return
	}
	if limit == 0 {
		limit = int64(s.pageSize)
	}
	if _, err := s.store.GetThreadFor(s.base, threadID, id.UserID); err != nil {
		WriteError(ctx, err)
		return
	}
	page, err := s.store.ListMessages(s.base, threadID, int(limit), before)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	WriteJSONStatus(ctx, fasthttp.StatusOK, page)
}

func (s *Server) appendMessage(ctx *fasthttp.RequestCtx) {
	var req appendMessageRequest
	if err := decode(ctx, &req); err != nil {
		WriteError(ctx, err)
		return
	}
	id, err := actor(ctx, req.SenderID)
	if err != nil {
		WriteError(ctx, err)
		return
	}
	if req.SenderName == "" {
		req.SenderName = id.UserName
	}
	msg, err := s.store.AppendMessage(s.base, req.model(pathParam(ctx, "threadId")))
	if err != nil {
		WriteError(ctx, err)
		return
	}
	WriteJSONStatus(ctx, fasthttp.StatusCreated, MessageResponse{Message: msg})
}

func (s *Server) markRead(ctx *fasthttp.RequestCtx) {
	var req markReadRequest
	if err := decode(ctx, &req); err != nil {
		WriteError(ctx, err)
		return
	}
	if _, err := actor(ctx, req.UserID); err != nil {
		WriteError(ctx, err)
		return
	}
	if err := s.store.MarkThreadRead(s.base, pathParam(ctx, "threadId"), req.UserID); err != nil {
		WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}
