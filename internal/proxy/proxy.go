package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	maxBodyBytes = 1 << 20

	// ErrUpstream is the fixed error body returned when the backend fails.
	ErrUpstream = "Failed to connect backend"
)

// Forwarder relays chat requests to the external chat backend.
type Forwarder struct {
	target string
	client *http.Client
}

// NewForwarder validates target, the full upstream chat URL.
func NewForwarder(target string, timeout time.Duration) (*Forwarder, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q must be http or https", target)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream url %q has no host", target)
	}
	return &Forwarder{
		target: target,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Target returns the upstream URL.
func (f *Forwarder) Target() string {
	return f.target
}

// Handle accepts {"message": string} and passes the request body through to
// the upstream unchanged. A successful upstream body is streamed back as is;
// any failure becomes a 500 with a fixed error payload.
func (f *Forwarder) Handle(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !validChatRequest(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, f.target, bytes.NewReader(body))
	if err != nil {
		log.Printf("proxy: build upstream request: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": ErrUpstream})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		log.Printf("proxy: upstream request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": ErrUpstream})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("proxy: upstream returned status %d", resp.StatusCode)
		c.JSON(http.StatusInternalServerError, gin.H{"error": ErrUpstream})
		return
	}

	c.DataFromReader(http.StatusOK, resp.ContentLength, "application/json", resp.Body, nil)
}

func validChatRequest(body []byte) bool {
	var req struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return false
	}
	return req.Message != nil
}

// RateLimit throttles requests with a shared token bucket.
func RateLimit(perSecond float64, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
