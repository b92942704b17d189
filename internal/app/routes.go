package app

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"window-limiter/internal/middleware"
	"window-limiter/internal/ratelimit"
)

// SetupRoutes configures the health check and one guarded handler per route rule
func SetupRoutes(guard *ratelimit.Guard, routes []ratelimit.RouteRule, health http.HandlerFunc) (*mux.Router, error) {
	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(nil))

	// Health check is never rate limited
	router.HandleFunc("/health", health).Methods(http.MethodGet)

	for _, route := range routes {
		limit, err := guard.Limit(route.Strategy, route.Policy)
		if err != nil {
			return nil, err
		}
		router.Handle(route.Path, limit(placeholderHandler(route))).Methods(route.Method)
	}

	return router, nil
}

// placeholderHandler answers for an endpoint whose business logic lives elsewhere
func placeholderHandler(route ratelimit.RouteRule) http.Handler {
	name := route.Method + " " + route.Path
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "route": name})
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
