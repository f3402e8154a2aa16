package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/health-analytics-server/internal/domain"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultOpenAIBaseURL  = "https://api.openai.com/v1"
)

// providerClient is one configured credential with its own circuit
// breaker, so a tripped provider is skipped without probing it on
// every request.
type providerClient struct {
	cred    domain.RemoteCredential
	breaker *gobreaker.CircuitBreaker
}

// RemoteBackend serves predictions through hosted language models. It
// walks the configured credentials in order and fails over to the next
// one when a call or its response parsing fails; only when every
// credential is exhausted does the backend report itself unavailable.
type RemoteBackend struct {
	logger     *logrus.Logger
	cfg        domain.RemoteConfig
	providers  []*providerClient
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewRemoteBackend builds the provider chain from the configured
// credentials, preserving their order.
func NewRemoteBackend(logger *logrus.Logger, cfg domain.RemoteConfig) *RemoteBackend {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	b := &RemoteBackend{
		logger:     logger,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		httpClient: &http.Client{Timeout: cfg.Timeout()},
	}

	for i, cred := range cfg.Credentials {
		name := fmt.Sprintf("%s-%d", cred.Provider, i)
		b.providers = append(b.providers, &providerClient{
			cred: cred,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        name,
				MaxRequests: 3,
				Interval:    30 * time.Second,
				Timeout:     60 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
					return counts.Requests >= 3 && failureRatio >= 0.6
				},
				OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
					logger.WithFields(logrus.Fields{
						"provider": name,
						"from":     from.String(),
						"to":       to.String(),
					}).Warn("Remote provider circuit breaker state changed")
				},
			}),
		})
	}

	logger.WithField("provider_count", len(b.providers)).Info("Initialized remote inference backend")
	return b
}

// Name implements Backend.
func (b *RemoteBackend) Name() string { return "remote" }

// remotePayload is the JSON contract every provider is asked to emit.
type remotePayload struct {
	Score           float64  `json:"score"`
	Level           string   `json:"level"`
	Confidence      float64  `json:"confidence"`
	Factors         []string `json:"factors"`
	Recommendations []string `json:"recommendations"`
}

// Predict runs one domain analysis through the provider chain. The
// configured timeout bounds the whole attempt, failovers included.
func (b *RemoteBackend) Predict(ctx context.Context, d domain.Domain, fs domain.PatientFeatureSet) (*domain.Prediction, error) {
	if len(b.providers) == 0 {
		return nil, fmt.Errorf("no remote credentials configured: %w", domain.ErrRemoteUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout())
	defer cancel()

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	systemPrompt, userPrompt := buildPrompts(d, fs)

	var lastErr error
	for _, p := range b.providers {
		result, err := p.breaker.Execute(func() (interface{}, error) {
			raw, err := b.call(ctx, p.cred, systemPrompt, userPrompt)
			if err != nil {
				return nil, err
			}
			return b.parse(d, raw)
		})
		if err != nil {
			lastErr = err
			b.logger.WithError(err).WithFields(logrus.Fields{
				"provider": p.cred.Provider,
				"domain":   d,
			}).Warn("Remote provider failed, trying next credential")
			if ctx.Err() != nil {
				break
			}
			continue
		}

		pred := result.(*domain.Prediction)
		b.logger.WithFields(logrus.Fields{
			"provider": p.cred.Provider,
			"domain":   d,
			"score":    pred.Score,
		}).Debug("Remote prediction completed")
		return pred, nil
	}

	return nil, fmt.Errorf("all remote providers failed: %w (last: %w)", domain.ErrRemoteUnavailable, lastErr)
}

func (b *RemoteBackend) call(ctx context.Context, cred domain.RemoteCredential, systemPrompt, userPrompt string) (string, error) {
	switch cred.Provider {
	case "anthropic":
		return b.callAnthropic(ctx, cred, systemPrompt, userPrompt)
	case "openai":
		return b.callOpenAI(ctx, cred, systemPrompt, userPrompt)
	default:
		return "", fmt.Errorf("unknown provider %q", cred.Provider)
	}
}

func (b *RemoteBackend) callAnthropic(ctx context.Context, cred domain.RemoteCredential, systemPrompt, userPrompt string) (string, error) {
	opts := []option.RequestOption{option.WithAPIKey(cred.APIKey)}
	if cred.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cred.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := cred.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic api: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in anthropic response: %w", domain.ErrMalformedResponse)
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b *RemoteBackend) callOpenAI(ctx context.Context, cred domain.RemoteCredential, systemPrompt, userPrompt string) (string, error) {
	baseURL := cred.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := cred.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	bodyBytes, err := json.Marshal(openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.APIKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai api status %d", resp.StatusCode)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing openai response: %w", domain.ErrMalformedResponse)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response: %w", domain.ErrMalformedResponse)
	}

	return parsed.Choices[0].Message.Content, nil
}

// parse extracts and validates the JSON payload from a provider
// response. A payload the provider mangled counts as a provider
// failure, so the caller moves on to the next credential.
func (b *RemoteBackend) parse(d domain.Domain, raw string) (*domain.Prediction, error) {
	body, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var payload remotePayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("parsing analysis payload: %w", domain.ErrMalformedResponse)
	}

	score := clampRange(payload.Score, 0, 1)
	confidence := clampRange(payload.Confidence, 0, 1)
	level := strings.ToLower(strings.TrimSpace(payload.Level))
	if !validLevel(d, level) {
		level = levelFromScore(d, score)
	}

	return &domain.Prediction{
		Domain:          d,
		Score:           score,
		Level:           level,
		Confidence:      confidence,
		Factors:         payload.Factors,
		Recommendations: payload.Recommendations,
		Provenance:      domain.ProvenanceRemote,
		GeneratedAt:     time.Now().UTC(),
	}, nil
}

func validLevel(d domain.Domain, level string) bool {
	switch d {
	case domain.DomainVitalAnomaly:
		return level == domain.VitalNormal || level == domain.VitalElevated || level == domain.VitalCritical
	case domain.DomainProgression:
		return level == domain.TrendImproving || level == domain.TrendStable || level == domain.TrendDeclining
	default:
		return level == "low" || level == "medium" || level == "high"
	}
}

func levelFromScore(d domain.Domain, score float64) string {
	switch d {
	case domain.DomainVitalAnomaly:
		switch {
		case score > 0.6:
			return domain.VitalCritical
		case score > 0.3:
			return domain.VitalElevated
		}
		return domain.VitalNormal
	case domain.DomainProgression:
		switch {
		case score > 0.66:
			return domain.TrendDeclining
		case score > 0.33:
			return domain.TrendStable
		}
		return domain.TrendImproving
	default:
		switch {
		case score > 0.6:
			return "high"
		case score > 0.3:
			return "medium"
		}
		return "low"
	}
}

var domainTask = map[domain.Domain]string{
	domain.DomainHealthRisk:       "Assess the patient's overall health risk.",
	domain.DomainAdherence:        "Estimate the probability that the patient adheres to their medication plan.",
	domain.DomainVitalAnomaly:     "Judge whether the patient's vital signs form an anomalous pattern.",
	domain.DomainProgression:      "Project the likely trajectory of the patient's condition.",
	domain.DomainTreatmentOutcome: "Estimate the probability that the current treatment plan succeeds.",
}

func buildPrompts(d domain.Domain, fs domain.PatientFeatureSet) (string, string) {
	systemPrompt := "You are a clinical analytics engine. " + domainTask[d] +
		` Respond with ONLY a JSON object of this exact shape, no prose:
{"score": <0..1>, "level": "<` + levelChoices(d) + `>", "confidence": <0..1>, "factors": ["..."], "recommendations": ["..."]}`

	keys := make([]string, 0, len(fs))
	for k := range fs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("Patient attributes:\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "- %s: %g\n", k, fs[k])
	}

	return systemPrompt, sb.String()
}

func levelChoices(d domain.Domain) string {
	switch d {
	case domain.DomainVitalAnomaly:
		return "normal|elevated|critical"
	case domain.DomainProgression:
		return "improving|stable|declining"
	default:
		return "low|medium|high"
	}
}
