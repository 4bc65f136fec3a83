package web

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/m-mizutani/goerr/v2"

	"github.com/vbonduro/nutrilog/internal/domain"
	"github.com/vbonduro/nutrilog/internal/logging"
	"github.com/vbonduro/nutrilog/internal/nutrition"
)

// maxUploadSize caps the whole multipart body, not just the part kept in
// memory.
const maxUploadSize = 20 * 1024 * 1024 // 20 MB

// allowedImageTypes is the set of MIME types recognised by magic-byte
// sniffing when the browser declares nothing useful. net/http.DetectContentType
// handles JPEG and PNG; it has no ISO-BMFF signatures, so HEIF is detected
// separately.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// heifBrand returns the MIME type for an ISO-BMFF "ftyp" box carrying a HEIF
// family brand, or "" when data is not HEIF.
func heifBrand(data []byte) string {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return ""
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heim", "heis":
		return "image/heic"
	case "mif1", "msf1", "heif":
		return "image/heif"
	default:
		return ""
	}
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	if mime := heifBrand(data); mime != "" {
		return mime, true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

// uploadType picks the MIME type for one uploaded file. The browser's
// declaration wins when it is on the allow-list; otherwise the bytes are
// sniffed. Empty files keep their declaration so the codec can report them.
func uploadType(declared string, data []byte) (string, bool) {
	if len(data) == 0 {
		return declared, true
	}
	if nutrition.AllowedUploadType(declared) {
		return declared, true
	}
	return allowedImageMIME(data)
}

// readUploads collects every file posted under field. It fails with
// domain.ErrInput when the body is over maxUploadSize, no file was posted or
// one has an unsupported type.
func readUploads(w http.ResponseWriter, r *http.Request, field string, logger *slog.Logger) ([]nutrition.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, goerr.Wrap(domain.ErrInput, "upload too large, images must total under 20 MB", goerr.V("limit", tooLarge.Limit))
		}
		return nil, goerr.Wrap(domain.ErrInput, "failed to read the upload", goerr.V("cause", err.Error()))
	}

	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, goerr.Wrap(domain.ErrInput, "no image uploaded, please try again")
	}

	uploads := make([]nutrition.Upload, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh, logger)
		if err != nil {
			return nil, goerr.Wrap(domain.ErrInput, "failed to read "+fh.Filename, goerr.V("cause", err.Error()))
		}
		mime, ok := uploadType(fh.Header.Get("Content-Type"), data)
		if !ok {
			return nil, goerr.Wrap(domain.ErrInput, "unsupported image type, use jpg, png or heif: "+fh.Filename)
		}
		uploads = append(uploads, nutrition.Upload{Filename: fh.Filename, MIMEType: mime, Data: data})
	}
	return uploads, nil
}

func readPart(fh *multipart.FileHeader, logger *slog.Logger) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer closeWithLog(f, "upload file", logger)

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, logging.ErrAttr(err))
	}
}
