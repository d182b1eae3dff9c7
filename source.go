package sizefit

import (
	"bytes"
	"io"

	"github.com/Skryldev/sizefit/core"
	apperrors "github.com/Skryldev/sizefit/errors"
	"github.com/Skryldev/sizefit/utils"
)

// FromReader creates a Source from an io.Reader.
func FromReader(r io.Reader) core.Source { return core.Source{Reader: r, Size: -1} }

// FromReaderWithMeta creates a Source with known size and content-type hints.
func FromReaderWithMeta(r io.Reader, size int64, contentType, name string) core.Source {
	return core.Source{Reader: r, Size: size, ContentType: contentType, Name: name}
}

// FromBytes creates a Source over an in-memory buffer. The buffer is only read.
func FromBytes(b []byte, name string) core.Source {
	return core.Source{Reader: bytes.NewReader(b), Size: int64(len(b)), Name: name}
}

// FromDataURI parses "data:<mime>;base64,<payload>". Broken framing or
// base64 yields ErrInvalidInputFormat; the declared MIME type is only a hint,
// the bytes themselves decide the format.
func FromDataURI(uri, name string) (core.Source, error) {
	mime, data, err := utils.ParseDataURI(uri)
	if err != nil {
		return core.Source{}, apperrors.New(apperrors.CategoryInput, "data_uri",
			apperrors.Join(apperrors.ErrInvalidInputFormat, err))
	}
	return core.Source{
		Reader:      bytes.NewReader(data),
		ContentType: mime,
		Name:        name,
		Size:        int64(len(data)),
	}, nil
}
