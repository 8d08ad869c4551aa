package directions

import (
	"net/http"
	"strings"

	"github.com/twpayne/go-polyline"
	"golang.org/x/time/rate"
)

func newTestLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 1)
}

// newRewriteClient sends requests for targetPrefix to the test server instead.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{Transport: &rewriteTransport{
		base:         http.DefaultTransport,
		testServer:   testServerURL,
		targetPrefix: targetPrefix,
	}}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	orig := req.URL.String()
	if !strings.HasPrefix(orig, t.targetPrefix) {
		return t.base.RoundTrip(req)
	}
	parsed, err := req.URL.Parse(t.testServer + orig[len(t.targetPrefix):])
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	r.URL = parsed
	r.Host = parsed.Host
	return t.base.RoundTrip(r)
}

func encode(pts ...[2]float64) string {
	coords := make([][]float64, len(pts))
	for i, p := range pts {
		coords[i] = []float64{p[0], p[1]}
	}
	return string(polyline.EncodeCoords(coords))
}
