package metrics

import (
	"fmt"
	"sync"
	"time"
)

// Metrics holds in-process bridge metrics
type Metrics struct {
	mu sync.RWMutex

	// Session metrics
	SessionsStarted    int64
	SessionsTerminated int64
	ActiveSessions     int64

	// Turn metrics
	TurnsCompleted int64
	TurnsFailed    int64
	TurnLatency    []time.Duration

	// External service metrics (transcription, generation, synthesis)
	ServiceCalls   map[string]int64
	ServiceErrors  map[string]int64
	ServiceLatency map[string][]time.Duration

	// Circuit breaker metrics
	CircuitBreakerState    map[string]string
	CircuitBreakerFailures map[string]int64

	// Start time
	StartTime time.Time
}

var globalMetrics = &Metrics{
	ServiceCalls:           make(map[string]int64),
	ServiceErrors:          make(map[string]int64),
	ServiceLatency:         make(map[string][]time.Duration),
	CircuitBreakerState:    make(map[string]string),
	CircuitBreakerFailures: make(map[string]int64),
	StartTime:              time.Now(),
}

// RecordSessionStarted records a new call session
func RecordSessionStarted() {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.SessionsStarted++
	globalMetrics.ActiveSessions++
}

// RecordSessionTerminated records a session reaching its terminal state
func RecordSessionTerminated() {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.SessionsTerminated++
	if globalMetrics.ActiveSessions > 0 {
		globalMetrics.ActiveSessions--
	}
}

// RecordTurn records one completed conversation turn
func RecordTurn(success bool, latency time.Duration) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	if success {
		globalMetrics.TurnsCompleted++
	} else {
		globalMetrics.TurnsFailed++
	}

	// Keep only last 100 latency measurements
	if len(globalMetrics.TurnLatency) >= 100 {
		globalMetrics.TurnLatency = globalMetrics.TurnLatency[1:]
	}
	globalMetrics.TurnLatency = append(globalMetrics.TurnLatency, latency)
}

// RecordServiceCall records one external service call
func RecordServiceCall(service string, success bool, latency time.Duration) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.ServiceCalls[service]++
	if !success {
		globalMetrics.ServiceErrors[service]++
	}

	// Keep only last 100 latency measurements per service
	if len(globalMetrics.ServiceLatency[service]) >= 100 {
		globalMetrics.ServiceLatency[service] = globalMetrics.ServiceLatency[service][1:]
	}
	globalMetrics.ServiceLatency[service] = append(globalMetrics.ServiceLatency[service], latency)
}

// UpdateCircuitBreaker updates circuit breaker metrics
func UpdateCircuitBreaker(service, state string, failures int64) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.CircuitBreakerState[service] = state
	globalMetrics.CircuitBreakerFailures[service] = failures
}

func avgLatency(latencies []time.Duration) float64 {
	if len(latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	return sum.Seconds() / float64(len(latencies))
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	serviceAvgLatency := make(map[string]float64)
	for service, latencies := range globalMetrics.ServiceLatency {
		serviceAvgLatency[service] = avgLatency(latencies)
	}

	uptime := time.Since(globalMetrics.StartTime)

	return map[string]interface{}{
		"uptime_seconds": uptime.Seconds(),
		"sessions": map[string]interface{}{
			"started":    globalMetrics.SessionsStarted,
			"terminated": globalMetrics.SessionsTerminated,
			"active":     globalMetrics.ActiveSessions,
		},
		"turns": map[string]interface{}{
			"completed":           globalMetrics.TurnsCompleted,
			"failed":              globalMetrics.TurnsFailed,
			"latency_avg_seconds": avgLatency(globalMetrics.TurnLatency),
		},
		"services": map[string]interface{}{
			"calls":               globalMetrics.ServiceCalls,
			"errors":              globalMetrics.ServiceErrors,
			"latency_avg_seconds": serviceAvgLatency,
		},
		"circuit_breakers": map[string]interface{}{
			"state":    globalMetrics.CircuitBreakerState,
			"failures": globalMetrics.CircuitBreakerFailures,
		},
	}
}

// GetPrometheusMetrics returns metrics in Prometheus format
func GetPrometheusMetrics() string {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	var output string

	output += "# HELP bridge_uptime_seconds Bridge uptime in seconds\n"
	output += "# TYPE bridge_uptime_seconds gauge\n"
	output += fmt.Sprintf("bridge_uptime_seconds %.2f\n", time.Since(globalMetrics.StartTime).Seconds())

	output += "# HELP bridge_sessions_total Call sessions by lifecycle stage\n"
	output += "# TYPE bridge_sessions_total counter\n"
	output += fmt.Sprintf("bridge_sessions_total{stage=\"started\"} %d\n", globalMetrics.SessionsStarted)
	output += fmt.Sprintf("bridge_sessions_total{stage=\"terminated\"} %d\n", globalMetrics.SessionsTerminated)

	output += "# HELP bridge_sessions_active Currently registered sessions\n"
	output += "# TYPE bridge_sessions_active gauge\n"
	output += fmt.Sprintf("bridge_sessions_active %d\n", globalMetrics.ActiveSessions)

	output += "# HELP bridge_turns_total Conversation turns by outcome\n"
	output += "# TYPE bridge_turns_total counter\n"
	output += fmt.Sprintf("bridge_turns_total{outcome=\"completed\"} %d\n", globalMetrics.TurnsCompleted)
	output += fmt.Sprintf("bridge_turns_total{outcome=\"failed\"} %d\n", globalMetrics.TurnsFailed)

	output += "# HELP bridge_service_calls_total External service calls per stage\n"
	output += "# TYPE bridge_service_calls_total counter\n"
	for service, count := range globalMetrics.ServiceCalls {
		output += fmt.Sprintf("bridge_service_calls_total{service=\"%s\"} %d\n", service, count)
	}

	output += "# HELP bridge_service_errors_total External service errors per stage\n"
	output += "# TYPE bridge_service_errors_total counter\n"
	for service, count := range globalMetrics.ServiceErrors {
		output += fmt.Sprintf("bridge_service_errors_total{service=\"%s\"} %d\n", service, count)
	}

	return output
}
