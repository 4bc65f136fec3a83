package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/vbonduro/nutrilog/internal/domain"
	"github.com/vbonduro/nutrilog/internal/generation"
	"github.com/vbonduro/nutrilog/internal/logging"
)

const backendName = "ollama"

// Connector targets a local Ollama server. Ollama does not authenticate, but a
// session still has to supply a non-blank credential before it can generate.
type Connector struct {
	host  string
	model string
}

func NewConnector(host, model string) *Connector {
	return &Connector{host: host, model: model}
}

func (c *Connector) Name() string { return backendName }

func (c *Connector) Connect(_ context.Context, credential string) (generation.Client, error) {
	if _, err := generation.RequireCredential(backendName, credential); err != nil {
		return nil, err
	}
	return &Client{
		host:   c.host,
		model:  c.model,
		client: &http.Client{},
	}, nil
}

type Client struct {
	host   string
	model  string
	client *http.Client
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	body := generateRequest{
		Model:  c.model,
		Prompt: req.Instruction,
		Stream: false,
	}
	for _, img := range req.Images {
		body.Images = append(body.Images, base64.StdEncoding.EncodeToString(img.Data()))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", goerr.Wrap(domain.Upstream(err), "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", goerr.Wrap(domain.Upstream(err), "failed to call ollama", goerr.V("host", c.host))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close ollama response body", logging.ErrAttr(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", goerr.Wrap(domain.Upstream(fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, errBody)),
			"ollama generate failed", goerr.V("model", c.model))
	}

	var respBody struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return "", goerr.Wrap(domain.Upstream(err), "failed to decode response")
	}

	return respBody.Response, nil
}
