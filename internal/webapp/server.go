// Package webapp is the JSON API consumed by the Telegram WebApp
// front-end. It adds no business rules of its own: every endpoint
// delegates to the service and formats the outcome.
package webapp

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"prediction-bot/internal/service"
	"prediction-bot/internal/store"
	"prediction-bot/internal/utils"
)

const historyLimit = 20

type Server struct {
	log              *slog.Logger
	service          *service.Service
	leaderboardLimit int
	creditCIDRs      []string
}

func New(log *slog.Logger, svc *service.Service, leaderboardLimit int, creditCIDRs []string) *Server {
	return &Server{
		log:              log,
		service:          svc,
		leaderboardLimit: leaderboardLimit,
		creditCIDRs:      creditCIDRs,
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/profile", s.handleProfile)
		r.Get("/history", s.handleHistory)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/rank", s.handleRank)
		r.Post("/action", s.handleAction)

		r.Group(func(r chi.Router) {
			r.Use(s.creditGuard)
			r.Post("/add_stars", s.handleAddStars)
		})
	})

	return r
}

type profileResponse struct {
	TelegramID       int64  `json:"telegram_id"`
	Username         string `json:"username"`
	Stars            int64  `json:"stars"`
	TotalPredictions int64  `json:"total_predictions"`
	Rank             int    `json:"rank"`
	LastPrediction   string `json:"last_prediction_date,omitempty"`
}

type actionRequest struct {
	Action   string `json:"action"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

type actionResponse struct {
	Success    bool   `json:"success"`
	Prediction string `json:"prediction,omitempty"`
	Stars      int64  `json:"stars"`
	Error      string `json:"error,omitempty"`
	RetryAfter string `json:"retry_after,omitempty"`
}

type addStarsRequest struct {
	UserID           int64  `json:"user_id"`
	Stars            int64  `json:"stars"`
	PaymentReference string `json:"payment_reference"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type historyRow struct {
	Text string `json:"prediction_text"`
	Date string `json:"date"`
}

type leaderboardRow struct {
	Username         string `json:"username"`
	TotalPredictions int64  `json:"total_predictions"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := s.userID(w, r)
	if !ok {
		return
	}

	user, rank, err := s.service.Profile(r.Context(), telegramID, r.URL.Query().Get("username"))
	if err != nil {
		s.internalError(w, r, "failed to load profile", err)
		return
	}

	resp := profileResponse{
		TelegramID:       user.TelegramID,
		Username:         user.Username,
		Stars:            user.Stars,
		TotalPredictions: user.PredictionCount,
		Rank:             rank,
	}
	if user.LastPredictionAt != nil {
		resp.LastPrediction = user.LastPredictionAt.Format("02.01.2006 15:04")
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := s.userID(w, r)
	if !ok {
		return
	}

	events, err := s.service.History(r.Context(), telegramID, historyLimit)
	if err != nil {
		s.internalError(w, r, "failed to load history", err)
		return
	}

	rows := make([]historyRow, 0, len(events))
	for _, e := range events {
		rows = append(rows, historyRow{
			Text: e.Text,
			Date: e.IssuedAt.Format("2006-01-02 15:04:05"),
		})
	}
	render.JSON(w, r, rows)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	top, err := s.service.Leaderboard(r.Context(), s.leaderboardLimit)
	if err != nil {
		s.internalError(w, r, "failed to load leaderboard", err)
		return
	}

	rows := make([]leaderboardRow, 0, len(top))
	for _, row := range top {
		rows = append(rows, leaderboardRow{
			Username:         row.Username,
			TotalPredictions: row.PredictionCount,
		})
	}
	render.JSON(w, r, rows)
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := s.userID(w, r)
	if !ok {
		return
	}

	rank, err := s.service.Rank(r.Context(), telegramID)
	if errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, errorResponse{Error: "Сначала начните работу с ботом"})
		return
	}
	if err != nil {
		s.internalError(w, r, "failed to load rank", err)
		return
	}

	render.JSON(w, r, map[string]int{"rank": rank})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "некорректный запрос"})
		return
	}

	if req.Action != "get_prediction" {
		render.JSON(w, r, errorResponse{Error: "Неизвестное действие"})
		return
	}

	if req.Username != "" {
		if _, err := s.service.RegisterUser(r.Context(), req.UserID, req.Username); err != nil {
			s.internalError(w, r, "failed to register user", err)
			return
		}
	}

	result, err := s.service.Grant(r.Context(), req.UserID, time.Now())
	if err != nil {
		s.internalError(w, r, "grant failed", err)
		return
	}

	if !result.Granted {
		resp := actionResponse{Success: false}
		switch result.Reason {
		case service.ReasonCooldown:
			resp.Error = "Кулдаун ещё не прошёл"
			resp.RetryAfter = service.FormatRetryAfter(result.RetryAfter)
		default:
			resp.Error = "Недостаточно звёзд!"
		}
		render.JSON(w, r, resp)
		return
	}

	render.JSON(w, r, actionResponse{
		Success:    true,
		Prediction: result.Text,
		Stars:      result.NewBalance,
	})
}

func (s *Server) handleAddStars(w http.ResponseWriter, r *http.Request) {
	var req addStarsRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "некорректный запрос"})
		return
	}

	if req.Stars <= 0 {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "некорректная сумма"})
		return
	}

	user, err := s.service.CreditStars(r.Context(), req.UserID, req.Stars, req.PaymentReference)
	if err != nil {
		s.internalError(w, r, "credit failed", err)
		return
	}

	render.JSON(w, r, actionResponse{Success: true, Stars: user.Stars})
}

// creditGuard fences the credit endpoint to the configured subnets.
func (s *Server) creditGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !utils.IsAllowedIP(host, s.creditCIDRs) {
			s.log.Warn("rejected credit request", slog.String("remote", r.RemoteAddr))
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, errorResponse{Error: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	telegramID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "некорректный user_id"})
		return 0, false
	}
	return telegramID, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.log.Error(msg, slog.Any("err", err))
	w.WriteHeader(http.StatusInternalServerError)
	render.JSON(w, r, errorResponse{Error: "Произошла ошибка. Попробуйте позже."})
}
