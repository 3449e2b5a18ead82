package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/minutebook/internal/blocks"
	"github.com/local/minutebook/internal/breaker"
	"github.com/local/minutebook/internal/metrics"
	"github.com/local/minutebook/internal/page"
)

const (
	endpointAsk    = "ask"
	endpointVision = "process-pdf"
)

// Options configures the HTTP client for the classification API.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	VisionModel string
	Labels      page.LabelSet
	Breaker     breaker.Breaker
	HTTPClient  *http.Client
}

// HTTPClient talks to the /ask (text) and /process-pdf (vision) endpoints.
// It implements both TextClassifier and VisionClassifier.
type HTTPClient struct {
	baseURL      string
	apiKey       string
	model        string
	visionModel  string
	http         *http.Client
	breaker      breaker.Breaker
	textPrompt   string
	visionPrompt string
	requests     atomic.Int64
}

func NewHTTPClient(opts Options) *HTTPClient {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	br := opts.Breaker
	if br == nil {
		br = breaker.Nop{}
	}
	vm := opts.VisionModel
	if vm == "" {
		vm = opts.Model
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		model:        opts.Model,
		visionModel:  vm,
		http:         hc,
		breaker:      br,
		textPrompt:   TextPrompt(opts.Labels),
		visionPrompt: VisionPrompt(opts.Labels),
	}
}

// Requests returns the number of HTTP requests sent so far.
func (c *HTTPClient) Requests() int64 { return c.requests.Load() }

type askRequest struct {
	Query string `json:"query"`
	Model string `json:"model"`
}

type visionRequest struct {
	PDFPage string `json:"pdfPage"`
	Prompt  string `json:"prompt"`
	Model   string `json:"model"`
}

type apiResponse struct {
	Result string `json:"result"`
}

type blockResult struct {
	PagePredictions *[]Prediction `json:"pagePredictions"`
}

func (c *HTTPClient) ClassifyBlock(ctx context.Context, block blocks.Block) ([]Prediction, error) {
	var payload bytes.Buffer
	enc := json.NewEncoder(&payload)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(block); err != nil {
		return nil, fmt.Errorf("marshal block: %w", err)
	}
	query := c.textPrompt + "\n\nJSON INPUT:\n" + strings.TrimSpace(payload.String())

	raw, err := c.post(ctx, endpointAsk, c.model, askRequest{Query: query, Model: c.model})
	if err != nil {
		return nil, err
	}

	res, err := Parse[blockResult](raw)
	if err != nil {
		return nil, err
	}
	if res.PagePredictions == nil {
		return nil, fmt.Errorf("%w: missing pagePredictions array", ErrMalformedResponse)
	}
	return *res.PagePredictions, nil
}

func (c *HTTPClient) ClassifyImage(ctx context.Context, img PageImage) (VisionPrediction, error) {
	raw, err := c.post(ctx, endpointVision, c.visionModel, visionRequest{
		PDFPage: img.Base64,
		Prompt:  c.visionPrompt,
		Model:   c.visionModel,
	})
	if err != nil {
		return VisionPrediction{}, err
	}
	vp, err := Parse[VisionPrediction](raw)
	if err != nil {
		return VisionPrediction{}, err
	}
	if strings.TrimSpace(vp.Label) == "" {
		return VisionPrediction{}, fmt.Errorf("%w: vision result has no label", ErrMalformedResponse)
	}
	return vp, nil
}

// post sends body to endpoint and returns the "result" string of the reply.
func (c *HTTPClient) post(ctx context.Context, endpoint, model string, body any) (string, error) {
	key := endpoint + ":" + model
	if !c.breaker.Allow(ctx, key) {
		metrics.BreakerRejected(endpoint)
		return "", &CircuitOpenError{Key: key, RetryAt: c.breaker.RetryAt(ctx, key)}
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	c.requests.Add(1)
	result, err := c.do(req, endpoint)
	dur := time.Since(start)

	switch {
	case err == nil:
		c.breaker.Success(ctx, key)
		metrics.ObserveRequest(endpoint, model, "success", dur)
	case IsTransient(err):
		c.breaker.Failure(ctx, key)
		metrics.ObserveRequest(endpoint, model, "transient", dur)
	default:
		metrics.ObserveRequest(endpoint, model, "error", dur)
	}

	log.Debug().
		Str("endpoint", endpoint).
		Str("model", model).
		Dur("duration", dur).
		Err(err).
		Msg("api request")
	return result, err
}

func (c *HTTPClient) do(req *http.Request, endpoint string) (string, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(body), 300), Endpoint: endpoint}
	}

	var r apiResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("%w: %s response is not JSON", ErrMalformedResponse, endpoint)
	}
	if r.Result == "" {
		return "", errors.Join(ErrMalformedResponse, fmt.Errorf("%s response has empty result", endpoint))
	}
	return r.Result, nil
}
