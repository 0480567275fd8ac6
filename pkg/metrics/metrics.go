package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	CampaignsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_campaigns_created_total", Help: "Campaigns accepted, by outcome"},
		[]string{"outcome"},
	)
	CampaignRecipients = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "api_campaign_recipients",
			Help:    "Recipients per accepted campaign",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
	PublishedJobsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "api_published_jobs_total", Help: "Jobs published to queue"},
	)
	AuthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "api_auth_failures_total", Help: "Requests rejected for invalid authentication"},
	)

	WorkerJobsConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_consumed_total", Help: "Jobs consumed"},
	)
	WorkerJobsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "worker_jobs_sent_total", Help: "Jobs sent successfully"},
		[]string{"provider"},
	)
	WorkerJobsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_failed_total", Help: "Delivery attempts that failed"},
	)
	WorkerJobsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_dropped_total", Help: "Jobs marked failed after exhausting retries"},
	)
	WorkerJobRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_job_retries_total", Help: "Retries performed"},
	)
	WorkerProcessDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_job_process_duration_seconds",
			Help:    "Time spent processing a job",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration, CampaignsCreatedTotal, CampaignRecipients,
		PublishedJobsTotal, AuthFailuresTotal,
		WorkerJobsConsumed, WorkerJobsSent, WorkerJobsFailed, WorkerJobsDropped,
		WorkerJobRetries, WorkerProcessDuration,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
