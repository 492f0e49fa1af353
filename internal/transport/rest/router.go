package rest

import (
	"lobbycast/internal/service"
	"lobbycast/internal/transport/rest/handler"
	"lobbycast/internal/transport/rest/middleware"
	"lobbycast/internal/transport/ws"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService         *service.AuthService
	LobbyService        *service.LobbyService
	NotificationService *service.NotificationService
	WSHandler           *ws.Handler
	ServiceKey          string
	AllowedOrigins      []string
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	authHandler := handler.NewAuthHandler(c.AuthService)
	lobbyHandler := handler.NewLobbyHandler(c.LobbyService)
	notifyHandler := handler.NewNotificationHandler(c.NotificationService)

	authMW := middleware.NewAuthMiddleware(c.AuthService, c.ServiceKey)

	// CORS middleware (apply first)
	r.Use(corsMiddleware(c.AllowedOrigins))

	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/token", authHandler.Token).Methods("POST", "OPTIONS")
	v1.HandleFunc("/lobbies", lobbyHandler.List).Methods("GET", "OPTIONS")
	v1.HandleFunc("/lobbies/{id}", lobbyHandler.Get).Methods("GET", "OPTIONS")
	v1.HandleFunc("/lobbies/{id}/sessions", lobbyHandler.Sessions).Methods("GET", "OPTIONS")
	v1.HandleFunc("/games/{id}", lobbyHandler.Game).Methods("GET", "OPTIONS")

	// WebSocket route (token in query param or header)
	if c.WSHandler != nil {
		v1.HandleFunc("/ws", c.WSHandler.ServeWS).Methods("GET")
	}

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	userRoutes := v1.NewRoute().Subrouter()
	userRoutes.Use(authMW.RequireUser)
	userRoutes.HandleFunc("/lobbies/{id}/finish", lobbyHandler.Finish).Methods("POST", "OPTIONS")

	// Backend routes (shared service key)
	serviceRoutes := v1.NewRoute().Subrouter()
	serviceRoutes.Use(authMW.RequireService)
	serviceRoutes.HandleFunc("/notifications", notifyHandler.Push).Methods("POST", "OPTIONS")
	serviceRoutes.HandleFunc("/friends/status", notifyHandler.FriendStatus).Methods("POST", "OPTIONS")

	return r
}

func corsMiddleware(allowed []string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := allowOrigin(allowed, r.Header.Get("Origin")); origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+middleware.ServiceKeyHeader)

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allowOrigin(allowed []string, origin string) string {
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(a, origin) {
			return origin
		}
	}
	return ""
}
