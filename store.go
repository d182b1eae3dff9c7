package sizefit

import (
	"bytes"
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
	"github.com/Skryldev/sizefit/pipeline"
	"github.com/Skryldev/sizefit/utils"
)

// Storage key prefixes.
const (
	ResizedPrefix   = "resized"
	ThumbnailPrefix = "thumbnails"
)

// buffered is a source that has been read into memory so it can feed both
// the resize and the thumbnail.
type buffered struct {
	data        []byte
	contentType string
	name        string
}

func (b buffered) source() core.Source {
	return core.Source{
		Reader:      bytes.NewReader(b.data),
		ContentType: b.contentType,
		Name:        b.name,
		Size:        int64(len(b.data)),
	}
}

func bufferSource(ctx context.Context, src core.Source) (buffered, error) {
	if src.Reader == nil {
		return buffered{}, apperrors.New(apperrors.CategoryInput, "buffer", apperrors.ErrEmptyInput)
	}
	data, err := utils.ReadAll(ctx, src.Reader, src.Size, 0, 0)
	if err != nil {
		return buffered{}, apperrors.Wrap(apperrors.CategoryInput, "buffer", err)
	}
	return buffered{data: data, contentType: src.ContentType, name: src.Name}, nil
}

// persist stores res and a thumbnail of original, then records the resize.
// Partial progress is returned alongside any error.
func (p *Processor) persist(ctx context.Context, original []byte, res *core.ResizeResult) (*core.StoredResult, error) {
	if p.storage == nil {
		return nil, apperrors.Newf(apperrors.CategoryStorage, "persist", apperrors.ErrStorageUnavailable, "no storage configured")
	}

	id := uuid.NewString()
	stored := &core.StoredResult{}
	meta := map[string]string{
		"content-type": res.MIME,
		"file-name":    res.FileName,
		"size-kb":      strconv.FormatFloat(res.SizeKB, 'f', 2, 64),
		"width":        strconv.Itoa(res.Width),
		"height":       strconv.Itoa(res.Height),
	}

	imageKey := core.StorageKey{Bucket: ResizedPrefix, Path: id + "." + res.Format.Ext()}
	err := p.inner.Retry(ctx, "persist.image", func() error {
		return p.storage.Put(ctx, imageKey, bytes.NewReader(res.Data), meta)
	})
	if err != nil {
		return stored, storageErr("persist.image", err)
	}
	stored.ImageRef = p.storage.Ref(imageKey)

	thumb, err := p.thumbnail(ctx, original)
	if err != nil {
		return stored, err
	}
	thumbKey := core.StorageKey{Bucket: ThumbnailPrefix, Path: id + ".jpg"}
	err = p.inner.Retry(ctx, "persist.thumbnail", func() error {
		return p.storage.Put(ctx, thumbKey, bytes.NewReader(thumb), map[string]string{"content-type": "image/jpeg"})
	})
	if err != nil {
		return stored, storageErr("persist.thumbnail", err)
	}
	stored.ThumbnailRef = p.storage.Ref(thumbKey)

	hid, err := p.history.Add(ctx, core.HistoryEntry{
		ID:             id,
		FileName:       res.FileName,
		OriginalSizeKB: core.KB(res.Original.SizeBytes),
		OriginalWidth:  res.Original.Width,
		OriginalHeight: res.Original.Height,
		ThumbnailURL:   stored.ThumbnailRef,
		ResizedSizeKB:  res.SizeKB,
		ResizedWidth:   res.Width,
		ResizedHeight:  res.Height,
		ResizedURL:     stored.ImageRef,
	})
	if err != nil {
		return stored, storageErr("persist.history", err)
	}
	stored.HistoryID = hid
	return stored, nil
}

// thumbnail renders a JPEG preview of the original upload.
func (p *Processor) thumbnail(ctx context.Context, original []byte) ([]byte, error) {
	pl := pipeline.New().
		WithLogger(p.inner.Logger()).
		Use(
			&pipeline.InspectStep{Registry: p.reg},
			&pipeline.ThumbnailStep{Size: ThumbnailSize},
		)
	out, _, err := pl.Run(ctx, &core.ImageData{Data: original})
	if err != nil {
		return nil, apperrors.WrapAs(apperrors.CategoryStorage, "persist.thumbnail", apperrors.ErrStorageUnavailable, err)
	}
	return out.Data, nil
}

func storageErr(op string, err error) error {
	if apperrors.Is(err, apperrors.ErrStorageUnavailable) {
		return err
	}
	return apperrors.New(apperrors.CategoryStorage, op, apperrors.Join(apperrors.ErrStorageUnavailable, err))
}
