package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	"SwapBot-Chain/internal/auth"
	"SwapBot-Chain/internal/bot"
	xerrors "SwapBot-Chain/internal/errors"
	"SwapBot-Chain/internal/task"
)

type initializeBody struct {
	Owner             *solana.PublicKey `json:"owner,omitempty"`
	ExecutorAuthority *solana.PublicKey `json:"executor_authority,omitempty"`
	MaxTradeAmount    uint64            `json:"max_trade_amount"`
	MaxSlippageBps    uint16            `json:"max_slippage_bps"`
}

type updateBody struct {
	MaxTradeAmount *uint64 `json:"max_trade_amount,omitempty"`
	MaxSlippageBps *uint16 `json:"max_slippage_bps,omitempty"`
	IsActive       *bool   `json:"is_active,omitempty"`
}

type submitJobBody struct {
	ID    string           `json:"id,omitempty"`
	Owner solana.PublicKey `json:"owner"`
	Mode  task.Mode        `json:"mode"`
	Swap  task.SwapParams  `json:"swap"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var body initializeBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	owner := caller
	if body.Owner != nil && !body.Owner.IsZero() {
		owner = *body.Owner
	}
	req := bot.InitializeRequest{
		MaxTradeAmount: body.MaxTradeAmount,
		MaxSlippageBps: body.MaxSlippageBps,
	}
	if body.ExecutorAuthority != nil {
		req.ExecutorAuthority = bot.Some(*body.ExecutorAuthority)
	}

	switch {
	case s.admin != nil:
		acct, err := s.admin.Initialize(r.Context(), caller, owner, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, acct)
	case s.preparer != nil:
		if !caller.Equals(owner) {
			writeError(w, bot.ErrUnauthorized)
			return
		}
		prepared, err := s.preparer.PrepareInitialize(r.Context(), owner, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, prepared)
	default:
		writeError(w, errAdminUnavailable)
	}
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	if s.reader == nil {
		writeError(w, errAdminUnavailable)
		return
	}
	acct, err := s.reader.Get(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	var body updateBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	var req bot.UpdateRequest
	if body.MaxTradeAmount != nil {
		req.MaxTradeAmount = bot.Some(*body.MaxTradeAmount)
	}
	if body.MaxSlippageBps != nil {
		req.MaxSlippageBps = bot.Some(*body.MaxSlippageBps)
	}
	if body.IsActive != nil {
		req.IsActive = bot.Some(*body.IsActive)
	}

	switch {
	case s.admin != nil:
		acct, err := s.admin.UpdateConfig(r.Context(), caller, owner, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)
	case s.preparer != nil:
		if !caller.Equals(owner) {
			writeError(w, bot.ErrUnauthorized)
			return
		}
		prepared, err := s.preparer.PrepareUpdate(r.Context(), owner, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, prepared)
	default:
		writeError(w, errAdminUnavailable)
	}
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	switch {
	case s.admin != nil:
		reclaim, err := s.admin.CloseBot(r.Context(), caller, owner)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reclaim)
	case s.preparer != nil:
		if !caller.Equals(owner) {
			writeError(w, bot.ErrUnauthorized)
			return
		}
		prepared, err := s.preparer.PrepareClose(r.Context(), owner)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, prepared)
	default:
		writeError(w, errAdminUnavailable)
	}
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	s.handleSwap(w, r, task.ModeAuthorize)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	s.handleSwap(w, r, task.ModeExecute)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request, mode task.Mode) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	var params task.SwapParams
	if err := decodeBody(r, &params); err != nil {
		writeError(w, err)
		return
	}
	if s.swapper == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "交换执行器未初始化"))
		return
	}

	var (
		receipt *bot.Receipt
		err     error
	)
	if mode == task.ModeAuthorize {
		receipt, err = s.swapper.AuthorizeSwap(r.Context(), caller, owner, params.Request())
	} else {
		receipt, err = s.swapper.ExecuteSwap(r.Context(), caller, owner, params.Request())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	if s.jobs == nil {
		writeError(w, errJobsUnavailable)
		return
	}
	var body submitJobBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Mode == "" {
		body.Mode = task.ModeExecute
	}
	job, err := s.jobs.Submit(r.Context(), task.SubmitRequest{
		ID:     body.ID,
		Owner:  body.Owner,
		Caller: caller,
		Mode:   body.Mode,
		Swap:   body.Swap,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !job.Caller.Equals(caller) {
		writeError(w, task.ErrJobConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	if s.jobs == nil {
		writeError(w, errJobsUnavailable)
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !job.Owner.Equals(caller) && !job.Caller.Equals(caller) {
		writeError(w, xerrors.New(xerrors.CodePermissionDenied, "无权查看该任务"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	if s.jobs == nil {
		writeError(w, errJobsUnavailable)
		return
	}
	query := r.URL.Query()
	opts := []task.ListOption{task.WithOwner(caller)}
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, task.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, task.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func callerOf(w http.ResponseWriter, r *http.Request) (solana.PublicKey, bool) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		writeError(w, auth.ErrMissingSignature)
		return solana.PublicKey{}, false
	}
	return caller, true
}

func ownerParam(w http.ResponseWriter, r *http.Request) (solana.PublicKey, bool) {
	owner, err := solana.PublicKeyFromBase58(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "owner 地址无效"))
		return solana.PublicKey{}, false
	}
	return owner, true
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}
