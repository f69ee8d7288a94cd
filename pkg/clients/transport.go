package clients

import (
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/ajitpratap0/tidemark/pkg/metrics"
)

// instrumentedTransport applies the client-wide rate limit and records
// request metrics for every round trip.
type instrumentedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	host := req.URL.Host
	timer := metrics.NewTimer()
	resp, err := t.base.RoundTrip(req)
	metrics.HTTPRequestDuration.WithLabelValues(host).Observe(timer.Stop().Seconds())

	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	metrics.HTTPRequests.WithLabelValues(host, status).Inc()

	return resp, err
}
