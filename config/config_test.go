package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/inference-router/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Server:     config.ServerConfig{Address: ":8000", Environment: config.EnvDev},
		Logging:    config.LoggingConfig{Level: config.LogLevelInfo},
		Dispatcher: config.DispatcherConfig{Timeout: "5s"},
		Backends: []config.BackendConfig{
			{ID: "distilbert", Type: config.BackendTypeLexicon, Weight: 0.5},
			{ID: "roberta", Type: config.BackendTypeHTTP, URL: "http://localhost:9001/predict", Weight: 0.5},
		},
		CircuitBreaker: config.CircuitBreakerConfig{ResetTimeout: "30s"},
		HealthCheck:    config.HealthCheckConfig{Interval: "10s"},
		Metrics:        config.MetricsConfig{BufferSize: 100},
	}
}

var _ = Describe("Config", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	writeConfig := func(content string) string {
		path := filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
		return path
	}

	Describe("Load", func() {
		Context("with valid config file", func() {
			var path string

			BeforeEach(func() {
				path = writeConfig(`
server:
  address: ":8080"
  environment: "prod"

dispatcher:
  timeout: "2s"

backends:
  - id: "distilbert"
    type: "lexicon"
    weight: 0.3
    version: "distilbert-v1"
  - id: "roberta"
    type: "http"
    url: "http://localhost:9001/predict"
    weight: 0.7
    timeout: "500ms"

circuit_breaker:
  failure_threshold: 5
  reset_timeout: "15s"

rate_limit:
  requests_per_second: 50
  burst: 10

logging:
  level: "debug"
`)
			})

			It("should load configuration successfully", func() {
				cfg, err := config.Load(path)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())
				Expect(cfg.Server.Address).To(Equal(":8080"))
				Expect(cfg.Server.Environment).To(Equal(config.EnvProd))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelDebug))
			})

			It("should parse backends in order", func() {
				cfg, _ := config.Load(path)
				Expect(cfg.Backends).To(HaveLen(2))
				Expect(cfg.Backends[0].ID).To(Equal("distilbert"))
				Expect(cfg.Backends[0].Version).To(Equal("distilbert-v1"))
				Expect(cfg.Backends[1].Type).To(Equal(config.BackendTypeHTTP))
				Expect(cfg.Backends[1].URL).To(Equal("http://localhost:9001/predict"))
				Expect(config.ParseDuration(cfg.Backends[1].Timeout)).To(Equal(500 * time.Millisecond))
			})

			It("should expose the weights by backend id", func() {
				cfg, _ := config.Load(path)
				Expect(cfg.Weights()).To(Equal(map[string]float64{"distilbert": 0.3, "roberta": 0.7}))
			})

			It("should parse the optional sections", func() {
				cfg, _ := config.Load(path)
				Expect(cfg.CircuitBreaker.FailureThreshold).To(Equal(5))
				Expect(cfg.RateLimit.RequestsPerSecond).To(BeNumerically("==", 50))
				Expect(cfg.RateLimit.Burst).To(Equal(10))
			})

			It("should fill unset fields from defaults", func() {
				cfg, _ := config.Load(path)
				Expect(cfg.HealthCheck.Interval).To(Equal("10s"))
				Expect(cfg.Metrics.BufferSize).To(Equal(1000))
				Expect(config.ParseDuration(cfg.Dispatcher.Timeout)).To(Equal(2 * time.Second))
			})
		})

		Context("with environment variables", func() {
			var path string

			BeforeEach(func() {
				path = writeConfig("logging:\n  level: \"info\"\n")
				os.Setenv("SERVER_ADDRESS", ":9090")
				os.Setenv("DISPATCHER_TIMEOUT", "750ms")
			})

			AfterEach(func() {
				os.Unsetenv("SERVER_ADDRESS")
				os.Unsetenv("DISPATCHER_TIMEOUT")
			})

			It("should override file values", func() {
				cfg, err := config.Load(path)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Address).To(Equal(":9090"))
				Expect(cfg.Dispatcher.Timeout).To(Equal("750ms"))
			})

			It("should fall back to the default backends", func() {
				cfg, err := config.Load(path)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Weights()).To(Equal(map[string]float64{"distilbert": 0.5, "roberta": 0.5}))
			})
		})

		Context("with invalid input", func() {
			It("should fail for a missing explicit file", func() {
				_, err := config.Load(filepath.Join(tempDir, "absent.yaml"))
				Expect(err).To(HaveOccurred())
			})

			It("should fail validation for an unknown environment", func() {
				path := writeConfig("server:\n  environment: \"qa\"\n")
				_, err := config.Load(path)
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Validate", func() {
		It("should accept a valid configuration", func() {
			Expect(validConfig().Validate()).To(Succeed())
		})

		DescribeTable("rejects",
			func(mutate func(*config.Config)) {
				cfg := validConfig()
				mutate(cfg)
				Expect(cfg.Validate()).NotTo(Succeed())
			},
			Entry("an address without a port", func(c *config.Config) { c.Server.Address = "localhost" }),
			Entry("an unknown log level", func(c *config.Config) { c.Logging.Level = "trace" }),
			Entry("a malformed dispatcher timeout", func(c *config.Config) { c.Dispatcher.Timeout = "soon" }),
			Entry("a zero dispatcher timeout", func(c *config.Config) { c.Dispatcher.Timeout = "0s" }),
			Entry("no backends", func(c *config.Config) { c.Backends = nil }),
			Entry("a backend without id", func(c *config.Config) { c.Backends[0].ID = "" }),
			Entry("an unknown backend type", func(c *config.Config) { c.Backends[0].Type = "grpc" }),
			Entry("an http backend without url", func(c *config.Config) { c.Backends[1].URL = "" }),
			Entry("an http backend with a bad scheme", func(c *config.Config) { c.Backends[1].URL = "ftp://models" }),
			Entry("a negative weight", func(c *config.Config) { c.Backends[0].Weight = -0.1 }),
			Entry("a weight above one", func(c *config.Config) { c.Backends[0].Weight = 1.5 }),
			Entry("a malformed backend timeout", func(c *config.Config) { c.Backends[0].Timeout = "fast" }),
			Entry("duplicate backend ids", func(c *config.Config) { c.Backends[1].ID = "distilbert" }),
			Entry("a negative failure threshold", func(c *config.Config) { c.CircuitBreaker.FailureThreshold = -1 }),
			Entry("a negative rate", func(c *config.Config) { c.RateLimit.RequestsPerSecond = -1 }),
			Entry("a zero metrics buffer", func(c *config.Config) { c.Metrics.BufferSize = 0 }),
			Entry("a dispatcher timeout past the default write timeout", func(c *config.Config) { c.Dispatcher.Timeout = "20s" }),
			Entry("a dispatcher timeout equal to the write timeout", func(c *config.Config) {
				c.Server.WriteTimeout = "5s"
			}),
			Entry("a backend timeout past the write timeout", func(c *config.Config) { c.Backends[1].Timeout = "16s" }),
		)

		It("should accept long timeouts under a longer write timeout", func() {
			cfg := validConfig()
			cfg.Server.WriteTimeout = "60s"
			cfg.Dispatcher.Timeout = "20s"
			cfg.Backends[1].Timeout = "45s"
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should name the offending backend timeout", func() {
			cfg := validConfig()
			cfg.Backends[1].Timeout = "30s"
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("server.write_timeout")))
		})

		It("should not require a url for lexicon backends", func() {
			cfg := validConfig()
			cfg.Backends[0].URL = ""
			Expect(cfg.Validate()).To(Succeed())
		})
	})

	Describe("ParseDuration", func() {
		It("should return zero for empty input", func() {
			Expect(config.ParseDuration("")).To(BeZero())
		})

		It("should parse valid durations", func() {
			Expect(config.ParseDuration("1m30s")).To(Equal(90 * time.Second))
		})
	})
})
