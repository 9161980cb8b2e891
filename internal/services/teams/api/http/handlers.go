// Package httpapi exposes the teams service over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Thomas0321/badminton-app/internal/platform/httputil"
	"github.com/Thomas0321/badminton-app/internal/services/teams/domain"
	"github.com/Thomas0321/badminton-app/internal/services/teams/storage"
)

// TeamService is the domain surface the handlers depend on.
type TeamService interface {
	CreateTeam(ctx context.Context, input domain.CreateTeamInput) (storage.TeamRecord, error)
	ListTeams(ctx context.Context, filter storage.TeamFilter) ([]storage.TeamSummary, error)
	GetTeamDetail(ctx context.Context, teamID string) (domain.TeamDetail, error)
	Join(ctx context.Context, teamID, userID string) (domain.JoinResult, error)
	Leave(ctx context.Context, teamID, userID string) (domain.LeaveResult, error)
	PostMessage(ctx context.Context, teamID, userID, body string, public bool) (storage.MessageRecord, error)
	ListMessages(ctx context.Context, teamID string, public bool) ([]storage.MessageRecord, error)
	GetUser(ctx context.Context, userID string) (storage.UserRecord, error)
}

// Sweeper triggers one expired-team sweep on demand.
type Sweeper interface {
	ReapExpired(ctx context.Context, now time.Time) (int, error)
}

// Handler serves the teams HTTP API.
type Handler struct {
	logger  *slog.Logger
	service TeamService
	sweeper Sweeper
	clock   func() time.Time
}

// NewHandler builds the teams HTTP handler set.
func NewHandler(logger *slog.Logger, service TeamService, sweeper Sweeper, clock func() time.Time) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Handler{logger: logger, service: service, sweeper: sweeper, clock: clock}
}

type teamResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	OrganizerID     string    `json:"organizer_id"`
	LocationCity    string    `json:"location_city,omitempty"`
	LocationVenue   string    `json:"location_venue,omitempty"`
	LocationAddress string    `json:"location_address,omitempty"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	MaxParticipants int       `json:"max_participants"`
	ActivityType    string    `json:"activity_type,omitempty"`
	Description     string    `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toTeamResponse(team storage.TeamRecord) teamResponse {
	return teamResponse{
		ID:              team.ID,
		Name:            team.Name,
		OrganizerID:     team.OrganizerID,
		LocationCity:    team.LocationCity,
		LocationVenue:   team.LocationVenue,
		LocationAddress: team.LocationAddress,
		StartTime:       team.StartTime,
		EndTime:         team.EndTime,
		MaxParticipants: team.MaxParticipants,
		ActivityType:    team.ActivityType,
		Description:     team.Description,
		CreatedAt:       team.CreatedAt,
	}
}

type teamSummaryResponse struct {
	teamResponse
	ActiveCount   int `json:"active_count"`
	WaitlistCount int `json:"waitlist_count"`
}

type memberResponse struct {
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

type teamDetailResponse struct {
	teamResponse
	Members  []memberResponse `json:"members"`
	Waitlist []memberResponse `json:"waitlist"`
}

type joinResponse struct {
	TeamID     string `json:"team_id"`
	UserID     string `json:"user_id"`
	Waitlisted bool   `json:"waitlisted"`
}

type leaveResponse struct {
	Left             bool    `json:"left"`
	PenaltyApplied   bool    `json:"penalty_applied"`
	HoursBeforeEvent float64 `json:"hours_before_event"`
	PromotedUserID   string  `json:"promoted_user_id,omitempty"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	UserID    string    `json:"user_id"`
	Body      string    `json:"body"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
}

type userResponse struct {
	ID                string     `json:"id"`
	Nickname          string     `json:"nickname"`
	SkillLevel        string     `json:"skill_level,omitempty"`
	PreferredRegion   string     `json:"preferred_region,omitempty"`
	CancellationCount int        `json:"cancellation_count"`
	Banned            bool       `json:"banned"`
	BanUntil          *time.Time `json:"ban_until,omitempty"`
}

type createTeamRequest struct {
	Name            string    `json:"name"`
	LocationCity    string    `json:"location_city"`
	LocationVenue   string    `json:"location_venue"`
	LocationAddress string    `json:"location_address"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	MaxParticipants int       `json:"max_participants"`
	ActivityType    string    `json:"activity_type"`
	Description     string    `json:"description"`
}

type postMessageRequest struct {
	Body   string `json:"body"`
	Public *bool  `json:"public,omitempty"`
}

// CreateTeam creates a team organized by the authenticated user.
// POST /v1/teams
func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	team, err := h.service.CreateTeam(r.Context(), domain.CreateTeamInput{
		Name:            req.Name,
		OrganizerID:     userID,
		LocationCity:    req.LocationCity,
		LocationVenue:   req.LocationVenue,
		LocationAddress: req.LocationAddress,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		MaxParticipants: req.MaxParticipants,
		ActivityType:    req.ActivityType,
		Description:     req.Description,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, toTeamResponse(team))
}

// ListTeams lists upcoming teams, optionally filtered by city, venue or
// activity query parameters.
// GET /v1/teams
func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	filter := storage.TeamFilter{
		City:     r.URL.Query().Get("city"),
		Venue:    r.URL.Query().Get("venue"),
		Activity: r.URL.Query().Get("activity"),
	}
	summaries, err := h.service.ListTeams(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	out := make([]teamSummaryResponse, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, teamSummaryResponse{
			teamResponse:  toTeamResponse(summary.Team),
			ActiveCount:   summary.ActiveCount,
			WaitlistCount: summary.WaitlistCount,
		})
	}
	httputil.JSON(w, http.StatusOK, out)
}

// GetTeam returns one team with its roster.
// GET /v1/teams/{teamID}
func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetTeamDetail(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := teamDetailResponse{
		teamResponse: toTeamResponse(detail.Team),
		Members:      make([]memberResponse, 0, len(detail.Members)),
		Waitlist:     make([]memberResponse, 0, len(detail.Waitlist)),
	}
	for _, membership := range detail.Members {
		resp.Members = append(resp.Members, memberResponse{UserID: membership.UserID, JoinedAt: membership.JoinedAt})
	}
	for _, membership := range detail.Waitlist {
		resp.Waitlist = append(resp.Waitlist, memberResponse{UserID: membership.UserID, JoinedAt: membership.JoinedAt})
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// Join admits or waitlists the authenticated user.
// POST /v1/teams/{teamID}/join
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	teamID := chi.URLParam(r, "teamID")

	result, err := h.service.Join(r.Context(), teamID, userID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, joinResponse{
		TeamID:     teamID,
		UserID:     userID,
		Waitlisted: result.Waitlisted,
	})
}

// Leave removes the authenticated user from the team.
// POST /v1/teams/{teamID}/leave
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := h.service.Leave(r.Context(), chi.URLParam(r, "teamID"), userID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, leaveResponse{
		Left:             true,
		PenaltyApplied:   result.PenaltyApplied,
		HoursBeforeEvent: result.HoursBeforeEvent,
		PromotedUserID:   result.PromotedUserID,
	})
}

// ListMessages lists a team's board. Anonymous callers see only public
// messages; passing visibility=private requires authentication.
// GET /v1/teams/{teamID}/messages
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	public := r.URL.Query().Get("visibility") != "private"
	if !public {
		if _, ok := UserID(r.Context()); !ok {
			httputil.Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	messages, err := h.service.ListMessages(r.Context(), chi.URLParam(r, "teamID"), public)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]messageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, messageResponse{
			ID:        message.ID,
			TeamID:    message.TeamID,
			UserID:    message.UserID,
			Body:      message.Body,
			Public:    message.IsPublic,
			CreatedAt: message.CreatedAt,
		})
	}
	httputil.JSON(w, http.StatusOK, out)
}

// PostMessage appends a message to the team board.
// POST /v1/teams/{teamID}/messages
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	public := true
	if req.Public != nil {
		public = *req.Public
	}

	message, err := h.service.PostMessage(r.Context(), chi.URLParam(r, "teamID"), userID, req.Body, public)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, messageResponse{
		ID:        message.ID,
		TeamID:    message.TeamID,
		UserID:    message.UserID,
		Body:      message.Body,
		Public:    message.IsPublic,
		CreatedAt: message.CreatedAt,
	})
}

// GetUser returns one player profile with its ban state.
// GET /v1/users/{userID}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, userResponse{
		ID:                user.ID,
		Nickname:          user.Nickname,
		SkillLevel:        user.SkillLevel,
		PreferredRegion:   user.PreferredRegion,
		CancellationCount: user.CancellationCount,
		Banned:            user.BanUntil != nil && user.BanUntil.After(h.clock().UTC()),
		BanUntil:          user.BanUntil,
	})
}

// Reap triggers one expired-team sweep.
// POST /v1/maintenance/reap
func (h *Handler) Reap(w http.ResponseWriter, r *http.Request) {
	if _, ok := UserID(r.Context()); !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.sweeper == nil {
		httputil.Error(w, http.StatusNotFound, "not found")
		return
	}

	reaped, err := h.sweeper.ReapExpired(r.Context(), h.clock())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]int{"reaped": reaped})
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		httputil.Error(w, http.StatusForbidden, "user is banned")
	case errors.Is(err, domain.ErrTooLate):
		httputil.Error(w, http.StatusUnprocessableEntity, "too close to start time")
	case errors.Is(err, domain.ErrAlreadyMember):
		httputil.Error(w, http.StatusConflict, "already a member")
	case errors.Is(err, domain.ErrNotMember):
		httputil.Error(w, http.StatusBadRequest, "not a member")
	case errors.Is(err, domain.ErrNotFound):
		httputil.Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		httputil.Error(w, http.StatusConflict, "team is busy, try again")
	case errors.Is(err, domain.ErrInvalidTeam):
		httputil.Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
	}
}
