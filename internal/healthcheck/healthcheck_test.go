package healthcheck_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/angeloszaimis/inference-router/internal/healthcheck"
	"github.com/angeloszaimis/inference-router/internal/metrics"
)

var _ = Describe("Healthcheck", func() {
	var (
		mockBackend *httptest.Server
		up          atomic.Bool
		exporter    *metrics.Exporter
		log         *slog.Logger
		ctx         context.Context
		cancel      context.CancelFunc
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		up.Store(true)

		mockBackend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" && up.Load() {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
		}))

		ctx, cancel = context.WithCancel(context.Background())
		exporter = metrics.NewExporter(100, log)
		go func() { _ = exporter.Run(ctx) }()
	})

	AfterEach(func() {
		cancel()
		mockBackend.Close()
	})

	backendUp := func() string {
		w := httptest.NewRecorder()
		exporter.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		return w.Body.String()
	}

	target := func() healthcheck.Target {
		u, err := url.Parse(mockBackend.URL + "/classify")
		Expect(err).NotTo(HaveOccurred())
		return healthcheck.Target{ID: "roberta", URL: u}
	}

	It("should report a healthy backend", func() {
		go func() { _ = healthcheck.HealthCheck(ctx, target(), 20*time.Millisecond, exporter, log) }()

		Eventually(backendUp).Should(ContainSubstring(`inference_router_backend_up{backend="roberta"} 1`))
	})

	It("should report a backend going down", func() {
		go func() { _ = healthcheck.HealthCheck(ctx, target(), 20*time.Millisecond, exporter, log) }()
		Eventually(backendUp).Should(ContainSubstring(`inference_router_backend_up{backend="roberta"} 1`))

		up.Store(false)
		Eventually(backendUp).Should(ContainSubstring(`inference_router_backend_up{backend="roberta"} 0`))
	})

	It("should return when the context is cancelled", func() {
		done := make(chan error, 1)
		go func() { done <- healthcheck.HealthCheck(ctx, target(), 20*time.Millisecond, exporter, log) }()

		time.Sleep(50 * time.Millisecond)
		cancel()

		Eventually(done).Should(Receive(BeNil()))
		count, err := testutil.GatherAndCount(exporter.Registry(), "inference_router_backend_up")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(BeNumerically("<=", 1))
	})
})
