package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/vbonduro/nutrilog/internal/domain"
)

// CannedConnector serves fixed responses without any network access. It backs
// NUTRILOG_TEST_MODE so the shell can be exercised end to end offline. Image
// requests get a labelled meal analysis; text requests get a short note.
type CannedConnector struct {
	NameLabel    string
	SummaryLabel string
}

func (c CannedConnector) Name() string { return "canned" }

func (c CannedConnector) Connect(_ context.Context, credential string) (Client, error) {
	if _, err := RequireCredential(c.Name(), credential); err != nil {
		return nil, err
	}
	return ClientFunc(c.generate), nil
}

func (c CannedConnector) generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.Upstream(err)
	}
	if len(req.Images) == 1 && c.NameLabel != "" && strings.Contains(req.Instruction, c.NameLabel) {
		size := req.Images[0].Len()
		return fmt.Sprintf("%s Test meal %d\n%s A %d byte %s image, about %d kcal.",
			c.NameLabel, size, c.SummaryLabel, size, req.Images[0].MIMEType(), 100+size%700), nil
	}
	return fmt.Sprintf("Canned response for a %d character prompt with %d image(s).", len(req.Instruction), len(req.Images)), nil
}
