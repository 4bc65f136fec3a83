package nutrition

import (
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/vbonduro/nutrilog/internal/domain"
)

// Upload is one file as received from the UI shell.
type Upload struct {
	Filename string
	MIMEType string
	Data     []byte
}

// allowedUploadTypes mirrors the uploader allow-list: jpg/jpeg, png and the
// vendor-declared HEIF family. HEIF is passed through unvalidated.
var allowedUploadTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/heif": true,
	"image/heic": true,
}

// AllowedUploadType reports whether mimeType (after normalisation) is accepted
// by the upload form.
func AllowedUploadType(mimeType string) bool {
	return allowedUploadTypes[normaliseMIME(mimeType, nil)]
}

// EncodeImage turns an uploaded file into an ImagePart. It fails with
// domain.ErrInput when no bytes were supplied. The content itself is not
// decoded or validated.
func EncodeImage(raw []byte, declaredMIME string) (domain.ImagePart, error) {
	if len(raw) == 0 {
		return domain.ImagePart{}, goerr.Wrap(domain.ErrInput, "no image uploaded, please try again")
	}
	return domain.NewImagePart(normaliseMIME(declaredMIME, raw), raw), nil
}

func normaliseMIME(declared string, raw []byte) string {
	m := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	switch m {
	case "":
		if len(raw) == 0 {
			return ""
		}
		return strings.SplitN(http.DetectContentType(raw), ";", 2)[0]
	case "image/jpg", "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "heif", "image/heif-sequence":
		return "image/heif"
	case "heic", "image/heic-sequence":
		return "image/heic"
	default:
		return m
	}
}
