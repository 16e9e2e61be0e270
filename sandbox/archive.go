package sandbox

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// CreateFileTar returns an uncompressed tar archive holding a single regular
// file, in the format accepted by `docker cp -`.
func CreateFileTar(name string, content []byte) ([]byte, error) {
	cleanName := path.Clean(name)
	if cleanName == "." || cleanName == "/" || strings.Contains(cleanName, "/") {
		return nil, fmt.Errorf("invalid file name for archive: %q", name)
	}

	var buf bytes.Buffer
	tarWriter := tar.NewWriter(&buf)

	header := &tar.Header{
		Name:     cleanName,
		Mode:     FilePermission,
		Size:     int64(len(content)),
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}

	if err := tarWriter.WriteHeader(header); err != nil {
		return nil, fmt.Errorf("failed to write tar header: %w", err)
	}

	if _, err := io.Copy(tarWriter, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to write tar content: %w", err)
	}

	if err := tarWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close tar writer: %w", err)
	}

	return buf.Bytes(), nil
}

// ReadFileTar returns the content of the first regular file in a tar archive
func ReadFileTar(data []byte) (string, []byte, error) {
	tarReader := tar.NewReader(bytes.NewReader(data))

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return "", nil, fmt.Errorf("no regular file in archive")
		}
		if err != nil {
			return "", nil, fmt.Errorf("error reading tar: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		content, err := io.ReadAll(tarReader)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read file content: %w", err)
		}
		return header.Name, content, nil
	}
}
