package claude

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/m-mizutani/goerr/v2"
	"github.com/vbonduro/nutrilog/internal/domain"
	"github.com/vbonduro/nutrilog/internal/generation"
)

const backendName = "claude"

// maxTokens covers the longest expected response (a full daily summary or a
// ranked menu) with headroom for verbose models.
const maxTokens = 2048

type Connector struct {
	model   string
	baseURL string
}

func NewConnector(model string) *Connector {
	return &Connector{model: model}
}

func (c *Connector) Name() string { return backendName }

func (c *Connector) Connect(_ context.Context, credential string) (generation.Client, error) {
	apiKey, err := generation.RequireCredential(backendName, credential)
	if err != nil {
		return nil, err
	}

	var opts []anthropic.ClientOption
	if c.baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(c.baseURL))
	}
	return &Client{
		client: anthropic.NewClient(apiKey, opts...),
		model:  c.model,
	}, nil
}

type Client struct {
	client *anthropic.Client
	model  string
}

// buildMessages puts the images first and the instruction last, which is the
// ordering Anthropic recommends for vision prompts.
func buildMessages(req domain.GenerationRequest) []anthropic.Message {
	content := make([]anthropic.MessageContent, 0, len(req.Images)+1)
	for _, img := range req.Images {
		content = append(content, anthropic.NewImageMessageContent(
			anthropic.NewMessageContentSource(
				anthropic.MessagesContentSourceTypeBase64,
				normaliseMIME(img.MIMEType()),
				base64.StdEncoding.EncodeToString(img.Data()),
			),
		))
	}
	content = append(content, anthropic.NewTextMessageContent(req.Instruction))
	return []anthropic.Message{{Role: anthropic.RoleUser, Content: content}}
}

func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  buildMessages(req),
	})
	if err != nil {
		return "", classify(err, c.model)
	}

	text := resp.GetFirstContentText()
	if strings.TrimSpace(text) == "" {
		return "", goerr.Wrap(domain.ErrUpstream, "claude returned no text", goerr.V("model", c.model))
	}
	return text, nil
}

func classify(err error, model string) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) && (apiErr.IsAuthenticationErr() || apiErr.IsPermissionErr()) {
		return goerr.Wrap(domain.Auth(err), "claude rejected the credential", goerr.V("model", model))
	}
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) &&
		(reqErr.StatusCode == http.StatusUnauthorized || reqErr.StatusCode == http.StatusForbidden) {
		return goerr.Wrap(domain.Auth(err), "claude rejected the credential", goerr.V("model", model))
	}
	return goerr.Wrap(domain.Upstream(err), "claude create message failed", goerr.V("model", model))
}

// normaliseMIME maps upload MIME types to the values the Anthropic API accepts.
// The API takes only jpeg, png, gif and webp; anything else (HEIF included) is
// sent as jpeg.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
