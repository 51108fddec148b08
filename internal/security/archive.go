// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package security

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/bcem/refimport/internal/models"
	"github.com/bcem/refimport/internal/profile"
)

// isZip reports whether content starts with a ZIP local-file signature.
func isZip(content []byte) bool {
	return len(content) >= 4 && bytes.HasPrefix(content, []byte("PK\x03\x04"))
}

// extractArchive extracts a ZIP attachment entry-by-entry under the policy's
// archive limits. It aborts on the first breach: entry count, per-entry
// decompressed size, cumulative decompressed:compressed ratio, disallowed
// extension, or path traversal. On abort the partial output is discarded.
func extractArchive(name string, content []byte, limits profile.ArchiveLimits) ([]models.ExtractedFile, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, &ArchiveViolation{Entry: name, Reason: fmt.Sprintf("invalid ZIP file: %v", err)}
	}

	if len(reader.File) > limits.MaxFiles {
		return nil, &ArchiveViolation{Reason: fmt.Sprintf("archive contains %d files (max %d)", len(reader.File), limits.MaxFiles)}
	}

	compressedSize := int64(len(content))
	var decompressed int64
	var files []models.ExtractedFile

	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}

		if strings.HasPrefix(f.Name, "/") || strings.Contains(f.Name, "..") {
			return nil, &ArchiveViolation{Entry: f.Name, Reason: "path traversal attempt"}
		}

		ext := strings.ToLower(path.Ext(f.Name))
		if !extensionAllowed(ext, limits.AllowedExtensions) {
			return nil, &ArchiveViolation{Entry: f.Name, Reason: fmt.Sprintf("extension %s not allowed", ext)}
		}

		// The declared size is advisory; the copy below enforces the real
		// limit. Checking it first avoids decompressing obvious bombs.
		if int64(f.UncompressedSize64) > limits.MaxFileSize {
			return nil, &ArchiveViolation{Entry: f.Name, Reason: fmt.Sprintf("declared size %d exceeds maximum of %d", f.UncompressedSize64, limits.MaxFileSize)}
		}

		rc, err := f.Open()
		if err != nil {
			return nil, &ArchiveViolation{Entry: f.Name, Reason: fmt.Sprintf("open entry: %v", err)}
		}

		// Read one byte past the limit so a lying header is caught.
		data, err := io.ReadAll(io.LimitReader(rc, limits.MaxFileSize+1))
		rc.Close()
		if err != nil {
			return nil, &ArchiveViolation{Entry: f.Name, Reason: fmt.Sprintf("read entry: %v", err)}
		}
		if int64(len(data)) > limits.MaxFileSize {
			return nil, &ArchiveViolation{Entry: f.Name, Reason: fmt.Sprintf("decompressed size exceeds maximum of %d", limits.MaxFileSize)}
		}

		decompressed += int64(len(data))
		if compressedSize > 0 {
			ratio := float64(decompressed) / float64(compressedSize)
			if ratio > limits.MaxRatio {
				return nil, &ArchiveViolation{Entry: f.Name, Reason: fmt.Sprintf("compression ratio %.2f exceeds maximum of %.2f", ratio, limits.MaxRatio)}
			}
		}

		files = append(files, models.ExtractedFile{
			Name:    path.Base(f.Name),
			Content: data,
		})
	}

	return files, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(ext, a) {
			return true
		}
	}
	return false
}
