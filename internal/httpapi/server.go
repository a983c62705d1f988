// Package httpapi is the REST surface. Handlers are thin: decode,
// delegate to a domain service, encode. Business rules live in the
// services.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/guildhall-dev/guildhall/internal/auth"
	"github.com/guildhall-dev/guildhall/internal/billing"
	"github.com/guildhall-dev/guildhall/internal/chat"
	"github.com/guildhall-dev/guildhall/internal/collab"
	"github.com/guildhall-dev/guildhall/internal/config"
	"github.com/guildhall-dev/guildhall/internal/goal"
	"github.com/guildhall-dev/guildhall/internal/guild"
	"github.com/guildhall-dev/guildhall/internal/metrics"
	"github.com/guildhall-dev/guildhall/internal/quest"
	"github.com/guildhall-dev/guildhall/internal/ratelimit"
	"github.com/guildhall-dev/guildhall/internal/user"
)

// authAuthorizer is the narrow slice of the auth layer the router
// needs; tests substitute a stub.
type authAuthorizer interface {
	Authorize(ctx context.Context, raw string) (auth.Policy, error)
}

// Deps carries everything the router depends on.
type Deps struct {
	Users   *user.Service
	Goals   *goal.Service
	Quests  *quest.Service
	Guilds  *guild.Service
	Collab  *collab.Service
	Chat    *chat.Service
	Billing *billing.Service
	Webhook *billing.Webhook

	Authorizer authAuthorizer
	Limiter    *ratelimit.Limiter
	Metrics    *metrics.Metrics

	// WS and GraphQL are mounted as-is; nil skips the mount.
	WS      http.Handler
	GraphQL http.Handler

	Config *config.Config
	Log    zerolog.Logger
}

// Server owns the router.
type Server struct {
	users   *user.Service
	goals   *goal.Service
	quests  *quest.Service
	guilds  *guild.Service
	collab  *collab.Service
	chat    *chat.Service
	billing *billing.Service
	webhook *billing.Webhook

	authorizer  authAuthorizer
	limiter     *ratelimit.Limiter
	metrics     *metrics.Metrics
	waitlistKey string
	limits      config.RateLimits
	analytics   guild.Coefficients

	router chi.Router
	log    zerolog.Logger
}

// New assembles the router.
func New(d Deps) *Server {
	s := &Server{
		users:       d.Users,
		goals:       d.Goals,
		quests:      d.Quests,
		guilds:      d.Guilds,
		collab:      d.Collab,
		chat:        d.Chat,
		billing:     d.Billing,
		webhook:     d.Webhook,
		authorizer:  d.Authorizer,
		limiter:     d.Limiter,
		metrics:     d.Metrics,
		waitlistKey: d.Config.WaitlistAPIKey,
		limits:      d.Config.RateLimits,
		analytics: guild.Coefficients{
			Alpha: d.Config.Analytics.ActiveMemberWeight,
			Beta:  d.Config.Analytics.RecentActivityWeight,
			Gamma: d.Config.Analytics.CompletedGoalsWeight,
		},
		log: d.Log.With().Str("component", "http").Logger(),
	}
	s.router = s.routes(d)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(d Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger(s.log))
	r.Use(recoverer)
	if s.metrics != nil {
		r.Use(instrument(s.metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Api-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		// Unauthenticated surface.
		r.Group(func(r chi.Router) {
			r.Use(withTimeout(RequestTimeout))

			r.With(s.requireAPIKey, s.limitByIP(ratelimit.Policy{
				Scope: "ip", Name: "waitlist", Limit: s.limits.WaitlistPerMinutePerIP, Window: time.Minute,
			})).Post("/waitlist/subscribe", s.handleWaitlist)

			r.Post("/auth/signup", s.handleSignup)
			r.With(s.limitByIP(ratelimit.Policy{
				Scope: "ip", Name: "login", Limit: s.limits.LoginPerMinutePerIP, Window: time.Minute,
			})).Post("/auth/login", s.handleLogin)
			r.Post("/auth/confirm", s.handleConfirm)
			r.With(s.limitByIP(ratelimit.Policy{
				Scope: "ip", Name: "pwreset", Limit: s.limits.LoginPerMinutePerIP, Window: time.Minute,
			})).Post("/auth/password-reset/request", s.handleResetRequest)
			r.Post("/auth/password-reset/confirm", s.handleResetConfirm)

			// Public directory.
			r.Get("/guilds", s.handleGuildDirectory)
		})

		// Webhook: signature-authenticated, longer deadline.
		r.With(withTimeout(WebhookTimeout)).Post("/webhooks/stripe", s.handleStripeWebhook)

		// Bearer surface.
		r.Group(func(r chi.Router) {
			r.Use(withTimeout(RequestTimeout))
			r.Use(s.requireAuth)

			r.Get("/profile", s.handleGetProfile)
			r.Put("/profile", s.handleUpdateProfile)

			r.Route("/goals", func(r chi.Router) {
				r.Post("/", s.handleCreateGoal)
				r.Get("/", s.handleListGoals)
				r.Get("/{goalId}", s.handleGetGoal)
				r.Patch("/{goalId}", s.handleUpdateGoal)
				r.Delete("/{goalId}", s.handleDeleteGoal)
				r.Get("/{goalId}/progress", s.handleGoalProgress)
				r.Post("/{goalId}/tasks", s.handleCreateTask)
				r.Get("/{goalId}/tasks", s.handleListTasks)
				r.Patch("/{goalId}/tasks/{taskId}", s.handleUpdateTask)
				r.Post("/{goalId}/tasks/{taskId}/toggle", s.handleToggleTask)
				r.Delete("/{goalId}/tasks/{taskId}", s.handleDeleteTask)
			})

			r.Route("/quests", func(r chi.Router) {
				r.Post("/", s.handleCreateQuest)
				r.Get("/", s.handleListQuests)
				r.Get("/{questId}", s.handleGetQuest)
				r.Patch("/{questId}", s.handleUpdateQuest)
				r.Post("/{questId}/start", s.transitionQuest("active"))
				r.Post("/{questId}/complete", s.transitionQuest("completed"))
				r.Post("/{questId}/cancel", s.transitionQuest("cancelled"))
				r.Post("/{questId}/fail", s.transitionQuest("failed"))
				r.Post("/{questId}/increment", s.handleIncrementQuest)
				r.Get("/{questId}/audit", s.handleQuestAudit)
			})

			r.Route("/guilds", func(r chi.Router) {
				r.Post("/", s.handleCreateGuild)
				r.Get("/{guildId}", s.handleGetGuild)
				r.Post("/{guildId}/members", s.handleJoinGuild)
				r.Delete("/{guildId}/members", s.handleLeaveGuild)
				r.Get("/{guildId}/members", s.handleGuildMembers)
				r.Post("/{guildId}/quests", s.handleCreateGuildQuest)
				r.Get("/{guildId}/quests", s.handleListGuildQuests)
				r.Post("/{guildId}/quests/{questId}/complete", s.handleCompleteGuildQuest)
				r.Get("/{guildId}/quests/{questId}/progress", s.handleGuildQuestProgress)
				r.Get("/{guildId}/activities", s.handleGuildFeed)
				r.Get("/{guildId}/analytics", s.handleGuildAnalytics)
				r.Get("/{guildId}/messages", s.handleGuildMessages)
				r.Post("/{guildId}/messages", s.handleSendGuildMessage)
			})

			r.Route("/collaborations", func(r chi.Router) {
				r.With(s.limitByPrincipal(ratelimit.Policy{
					Scope: "user", Name: "invites", Limit: s.limits.InvitesPerHourPerUser, Window: time.Hour,
				})).Post("/invites", s.handleSendInvite)
				r.Get("/invites", s.handleListInvites)
				r.Post("/invites/{inviteId}/accept", s.handleAcceptInvite)
				r.Post("/invites/{inviteId}/decline", s.handleDeclineInvite)
				r.With(s.limitByPrincipal(ratelimit.Policy{
					Scope: "user", Name: "comments", Limit: s.limits.CommentsPerHourPerUser, Window: time.Hour,
				})).Post("/comments", s.handleCreateComment)
				r.Get("/resources/{resourceType}/{resourceId}/comments", s.handleListComments)
				r.Get("/resources/{resourceType}/{resourceId}/collaborators", s.handleListCollaborators)
				r.Post("/comments/{commentId}/reactions", s.handleReact)
				r.Get("/comments/{commentId}/reactions", s.handleListReactions)
			})

			// The chat quota lives inside chat.Service.Send so REST,
			// guild messages, the websocket and GraphQL all share one
			// window.
			r.Route("/rooms/{roomId}/messages", func(r chi.Router) {
				r.Get("/", s.handleRoomHistory)
				r.Post("/", s.handleSendRoomMessage)
			})

			r.Get("/subscriptions/current", s.handleCurrentSubscription)
			r.Post("/subscriptions/create-checkout", s.handleCreateCheckout)
			r.Post("/subscriptions/cancel", s.handleCancelSubscription)
			r.Get("/subscriptions/portal", s.handlePortal)
			r.Get("/credits/balance", s.handleCreditBalance)
			r.Get("/credits/ledger", s.handleCreditLedger)
			r.Post("/credits/topup", s.handleTopup)
		})
	})

	// The websocket lives outside the request deadline; its lifetime is
	// the connection's.
	if d.WS != nil {
		r.Handle("/ws/rooms/{roomId}", d.WS)
	}
	if d.GraphQL != nil {
		r.Handle("/graphql", d.GraphQL)
	}
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
