// Package attachments uploads a binary attachment in one bounded request and
// returns the stable reference a subsequent message embeds. There is no
// chunking and no resumable state; a failed upload is re-invoked explicitly.
package attachments

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sahyam2023/dashboard-sub001/internal/chaterr"
	"github.com/sahyam2023/dashboard-sub001/internal/models"
	"github.com/sahyam2023/dashboard-sub001/internal/rest"
)

type Ingestor struct {
	rest     *rest.Client
	log      *zap.SugaredLogger
	maxBytes int64
}

func New(rc *rest.Client, maxBytes int64, log *zap.SugaredLogger) *Ingestor {
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	return &Ingestor{rest: rc, log: log, maxBytes: maxBytes}
}

// Upload sends one attachment. Oversize files are rejected before any network
// call.
func (in *Ingestor) Upload(ctx context.Context, conversationID int64, fileName string, size int64, r io.Reader) (models.AttachmentRef, error) {
	if size > in.maxBytes {
		return models.AttachmentRef{}, fmt.Errorf("%s is %d bytes, limit %d: %w",
			fileName, size, in.maxBytes, chaterr.ErrAttachmentTooLarge)
	}
	contentType := mime.TypeByExtension(filepath.Ext(fileName))
	ref, err := in.rest.UploadAttachment(ctx, conversationID, fileName, contentType, io.LimitReader(r, in.maxBytes))
	if err != nil {
		return models.AttachmentRef{}, err
	}
	in.log.Infow("attachment uploaded", "conversation", conversationID, "file", ref.FileName, "url", ref.FileURL)
	return ref, nil
}

// UploadFile is a convenience wrapper over Upload for on-disk files.
func (in *Ingestor) UploadFile(ctx context.Context, conversationID int64, path string) (models.AttachmentRef, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return models.AttachmentRef{}, err
	}
	if fi.Size() > in.maxBytes {
		return models.AttachmentRef{}, fmt.Errorf("%s is %d bytes, limit %d: %w",
			filepath.Base(path), fi.Size(), in.maxBytes, chaterr.ErrAttachmentTooLarge)
	}
	f, err := os.Open(path)
	if err != nil {
		return models.AttachmentRef{}, err
	}
	defer f.Close()
	return in.Upload(ctx, conversationID, filepath.Base(path), fi.Size(), f)
}
