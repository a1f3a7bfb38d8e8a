package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"

	"RiftBeacon/internal/attestation"
	"RiftBeacon/internal/auth"
	"RiftBeacon/internal/events"
	"RiftBeacon/internal/penalty"
	"RiftBeacon/internal/score"
	"RiftBeacon/internal/session"
	"RiftBeacon/internal/verifier"
	"RiftBeacon/internal/web3"
)

const maxBodyBytes = 1 << 20

type startChallengeRequest struct {
	ChallengeHash common.Hash `json:"challenge_hash"`
	Duration      uint64      `json:"duration"`
}

type submitResponseRequest struct {
	Attestation hexutil.Bytes `json:"attestation"`
	EntropyHash common.Hash   `json:"entropy_hash"`
}

type sessionResponse struct {
	session.Session
	Active bool `json:"active"`
}

type initializeScoreRequest struct {
	Address common.Address `json:"address"`
	Initial uint64         `json:"initial"`
}

type updateScoreRequest struct {
	Delta int64 `json:"delta"`
}

type batchUpdateRequest struct {
	Identities []common.Address `json:"identities"`
	Deltas     []int64          `json:"deltas"`
}

type scoreResponse struct {
	Address     common.Address `json:"address"`
	Initialized bool           `json:"initialized"`
	score.Record
}

type penaltyRequest struct {
	Address common.Address `json:"address"`
	Amount  uint64         `json:"amount"`
	Reason  string         `json:"reason"`
}

type penaltyResponse struct {
	Address     common.Address `json:"address"`
	Blacklisted bool           `json:"blacklisted"`
	penalty.Record
}

type nullifierResponse struct {
	Token      common.Hash     `json:"token"`
	Consumed   bool            `json:"consumed"`
	Consumer   *common.Address `json:"consumer,omitempty"`
	ConsumedAt uint64          `json:"consumed_at,omitempty"`
}

type attestationRequest struct {
	SessionID common.Hash `json:"session_id"`
	Hash      common.Hash `json:"hash"`
	ExpiresAt uint64      `json:"expires_at"`
}

type attestationResponse struct {
	Hash  common.Hash `json:"hash"`
	Valid bool        `json:"valid"`
	attestation.Record
}

type commitmentRequest struct {
	Commitment common.Hash `json:"commitment"`
}

type verifyProofRequest struct {
	verifier.Proof
	PublicInputs []common.Hash `json:"public_inputs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"height": s.protocol.Ledger.Height(),
	})
}

func (s *Server) handleStartChallenge(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req startChallengeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, err := s.protocol.Sessions.StartChallenge(r.Context(), caller, req.ChallengeHash, req.Duration)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Session: sess, Active: true})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := hashVar(w, r, "id")
	if !ok {
		return
	}
	sess, err := s.protocol.Sessions.GetSession(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	active, err := s.protocol.Sessions.IsSessionActive(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Active: active})
}

func (s *Server) handleSubmitResponse(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	id, ok := hashVar(w, r, "id")
	if !ok {
		return
	}
	var req submitResponseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	receipt, err := s.protocol.Sessions.SubmitResponse(r.Context(), caller, id, req.Attestation, req.EntropyHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleInitializeScore(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req initializeScoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.protocol.Scores.Initialize(r.Context(), caller, req.Address, req.Initial); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondScore(w, r, req.Address, http.StatusCreated)
}

func (s *Server) handleGetScore(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	s.respondScore(w, r, addr, http.StatusOK)
}

func (s *Server) handleUpdateScore(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	var req updateScoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := s.protocol.Scores.Update(r.Context(), caller, addr, req.Delta); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondScore(w, r, addr, http.StatusOK)
}

func (s *Server) handleApplyDecay(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	if _, err := s.protocol.Scores.ApplyDecay(r.Context(), caller, addr); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondScore(w, r, addr, http.StatusOK)
}

func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req batchUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	scores, err := s.protocol.Batch.BatchUpdateScores(r.Context(), caller, req.Identities, req.Deltas)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scores": scores})
}

func (s *Server) respondScore(w http.ResponseWriter, r *http.Request, addr common.Address, status int) {
	rec, found, err := s.protocol.Scores.Get(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, scoreResponse{Address: addr, Initialized: found, Record: rec})
}

func (s *Server) handleApplyPenalty(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req penaltyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := s.protocol.Penalties.ApplyPenalty(r.Context(), caller, req.Address, req.Amount, req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondPenalty(w, r, req.Address)
}

func (s *Server) handleGetPenalty(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	s.respondPenalty(w, r, addr)
}

func (s *Server) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	if err := s.protocol.Penalties.RemoveBlacklist(r.Context(), caller, addr); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondPenalty(w, r, addr)
}

func (s *Server) respondPenalty(w http.ResponseWriter, r *http.Request, addr common.Address) {
	rec, err := s.protocol.Penalties.GetPenalty(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	blacklisted, err := s.protocol.Penalties.IsBlacklisted(r.Context(), addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, penaltyResponse{Address: addr, Blacklisted: blacklisted, Record: rec})
}

func (s *Server) handleGetNullifier(w http.ResponseWriter, r *http.Request) {
	token, ok := hashVar(w, r, "token")
	if !ok {
		return
	}
	rec, found, err := s.protocol.Nullifiers.Get(r.Context(), token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := nullifierResponse{Token: token, Consumed: found}
	if found {
		consumer := rec.Consumer
		resp.Consumer = &consumer
		resp.ConsumedAt = rec.ConsumedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegisterAttestation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req attestationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.protocol.Attestations.Register(r.Context(), caller, req.SessionID, req.Hash, req.ExpiresAt); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondAttestation(w, r, req.Hash, http.StatusCreated)
}

func (s *Server) handleGetAttestation(w http.ResponseWriter, r *http.Request) {
	hash, ok := hashVar(w, r, "hash")
	if !ok {
		return
	}
	s.respondAttestation(w, r, hash, http.StatusOK)
}

func (s *Server) handleRevokeAttestation(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	hash, ok := hashVar(w, r, "hash")
	if !ok {
		return
	}
	if err := s.protocol.Attestations.Revoke(r.Context(), caller, hash); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondAttestation(w, r, hash, http.StatusOK)
}

func (s *Server) respondAttestation(w http.ResponseWriter, r *http.Request, hash common.Hash, status int) {
	rec, found, err := s.protocol.Attestations.Get(r.Context(), hash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeError(w, r, attestation.ErrNotFound)
		return
	}
	valid, err := s.protocol.Attestations.IsValid(r.Context(), hash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, attestationResponse{Hash: hash, Valid: valid, Record: rec})
}

func (s *Server) handleRegisterCommitment(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req commitmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.protocol.Verifier.RegisterCommitment(r.Context(), caller, req.Commitment); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"commitment": req.Commitment})
}

func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req verifyProofRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.protocol.Verifier.VerifyProof(r.Context(), caller, req.Proof, req.PublicInputs); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "EVENTS_DISABLED", Message: "event store not configured"})
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			badRequest(w, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}
	var (
		list []events.Event
		err  error
	)
	if subject := r.URL.Query().Get("subject"); subject != "" {
		list, err = s.events.ListBySubject(r.Context(), subject, limit)
	} else {
		list, err = s.events.ListLatest(r.Context(), limit)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": list})
}

func callerOf(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Code: "UNAUTHENTICATED", Message: "caller identity missing"})
	}
	return caller, ok
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "请求体解析失败: "+err.Error())
		return false
	}
	return true
}

func hashVar(w http.ResponseWriter, r *http.Request, name string) (common.Hash, bool) {
	h, ok := web3.ParseHash(mux.Vars(r)[name])
	if !ok {
		badRequest(w, name+" must be a 32-byte hex string")
	}
	return h, ok
}

func addressVar(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := web3.ParseAddress(mux.Vars(r)["address"])
	if !ok {
		badRequest(w, "address must be a 20-byte hex string")
	}
	return addr, ok
}
