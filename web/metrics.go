package web

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	inboxActivities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "koasocial_inbox_activities_total",
		Help: "Inbound activities by type and HTTP outcome.",
	}, []string{"type", "code"})

	followActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "koasocial_follow_actions_total",
		Help: "Local follow/unfollow API actions by result.",
	}, []string{"action", "result"})
)

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// ObserveInbox records one inbound delivery.
func ObserveInbox(activityType string, statusCode int) {
	if activityType == "" {
		activityType = "unknown"
	}
	inboxActivities.WithLabelValues(activityType, strconv.Itoa(statusCode)).Inc()
}

// ObserveFollowAction records one local follow API action.
func ObserveFollowAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	followActions.WithLabelValues(action, result).Inc()
}
