package pitch

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// OpenFile prepares an Upload from a file on disk. The media type comes from
// the extension, or from content sniffing when the extension is unknown.
// The caller closes the returned file.
func OpenFile(path string) (Upload, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return Upload{}, nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Upload{}, nil, fmt.Errorf("stat %s: %w", path, err)
	}

	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if mediaType == "" {
		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		mediaType = http.DetectContentType(head[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			_ = f.Close()
			return Upload{}, nil, fmt.Errorf("rewind %s: %w", path, err)
		}
	}

	return Upload{
		Filename:  filepath.Base(path),
		MediaType: mediaType,
		Size:      info.Size(),
		Body:      f,
	}, f, nil
}
