package document

import (
	"errors"
	"io/fs"
	"os"

	"github.com/kingrea/loom/fault"
)

// Loader resolves raw content for a document path. The default reads the
// local filesystem; embedders substitute their own source.
type Loader interface {
	Load(path string) ([]byte, error)
}

// FileLoader reads documents from the local filesystem.
type FileLoader struct{}

// Load returns the file's bytes. A missing file is a validation failure
// (bad input); any other read error is a retryable resource failure.
func (FileLoader) Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fault.Wrap(fault.KindValidation, "document", err)
		}
		return nil, fault.Wrap(fault.KindResource, "document", err)
	}
	return data, nil
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string) ([]byte, error)

// Load invokes the wrapped function.
func (f LoaderFunc) Load(path string) ([]byte, error) {
	return f(path)
}
