package upload

import "errors"

var (
	ErrInvalidMimeType     = errors.New("upload: mime type has no known extension")
	ErrDisallowedExtension = errors.New("upload: extension not allowed for tenant")
	ErrDuplicateFilename   = errors.New("upload: filename already exists")
	ErrMissingChunks       = errors.New("upload: no chunks received")
	ErrNotOpen             = errors.New("upload: handle no longer accepts chunks")
	ErrNotFound            = errors.New("upload: partial upload not found")
)
