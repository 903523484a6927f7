package ingest

import (
	"fmt"
	"io"
	"os"
)

// spool copies reader into a temp file under dir, enforcing maxBytes. The
// caller owns the returned path and must remove it.
func spool(dir string, reader io.Reader, maxBytes int64) (string, int64, error) {
	if reader == nil {
		return "", 0, fmt.Errorf("reader is required")
	}
	tempFile, err := os.CreateTemp(dir, "filelinks-upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	keepFile := false
	defer func() {
		_ = tempFile.Close()
		if !keepFile {
			_ = os.Remove(tempPath)
		}
	}()

	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	written, err := io.Copy(tempFile, limited)
	if err != nil {
		return "", 0, fmt.Errorf("copy to temp file: %w", err)
	}
	if written > maxBytes {
		return "", 0, fmt.Errorf("%w: max %d bytes", ErrTooLarge, maxBytes)
	}
	if written == 0 {
		return "", 0, ErrEmpty
	}
	keepFile = true
	return tempPath, written, nil
}
