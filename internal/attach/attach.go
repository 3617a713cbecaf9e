// Package attach reads image attachments from disk.
package attach

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
)

// ReadImage loads the image at path. The final path component must not be
// a symlink, the file must not exceed maxBytes, and its content must sniff
// as an image; the extension is not trusted.
func ReadImage(path string, maxBytes int64) (*model.Attachment, error) {
	if path == "" {
		return nil, errors.NewInvalidRequest("image path is required")
	}
	f, err := openNoFollowRead(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("not a regular file: %s", path))
	}
	if info.Size() > maxBytes {
		return nil, errors.NewAttachmentTooLarge(maxBytes, info.Size())
	}

	// Read one byte past the limit in case the file grew after Stat.
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if int64(len(data)) > maxBytes {
		return nil, errors.NewAttachmentTooLarge(maxBytes, int64(len(data)))
	}
	return FromBytes(filepath.Base(path), data)
}

// FromBytes builds an attachment from data, sniffing its MIME type.
func FromBytes(filename string, data []byte) (*model.Attachment, error) {
	if len(data) == 0 {
		return nil, errors.NewInvalidRequest("image is empty")
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("not an image: %s", mt.String()))
	}
	if filepath.Ext(filename) == "" {
		filename += mt.Extension()
	}
	return &model.Attachment{Data: data, Filename: filename, MIMEType: mt.String()}, nil
}
