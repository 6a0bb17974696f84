package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
)

var typeExtensions = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
	"image/webp": {".webp"},
	"image/avif": {".avif"},
}

type ValidationError struct {
	Field        string `json:"field"`
	Message      string `json:"message"`
	InvalidValue any    `json:"invalid_value,omitempty"`
}

type uploadValidator struct {
	maxSize    int64
	types      []string
	extensions []string
}

func newUploadValidator(maxSize int64, types []string) *uploadValidator {
	v := &uploadValidator{maxSize: maxSize}
	for _, t := range types {
		t = normalizeMIME(t)
		v.types = append(v.types, t)
		if exts, ok := typeExtensions[t]; ok {
			v.extensions = append(v.extensions, exts...)
		} else if mt := mimetype.Lookup(t); mt != nil && mt.Extension() != "" {
			v.extensions = append(v.extensions, mt.Extension())
		}
	}
	return v
}

// uploadError carries the field errors for a rejected upload. tooLarge
// selects 413 over 400.
type uploadError struct {
	errs     []ValidationError
	tooLarge bool
}

func (e *uploadError) Error() string {
	msgs := make([]string, len(e.errs))
	for i, ve := range e.errs {
		msgs[i] = ve.Message
	}
	return strings.Join(msgs, "; ")
}

// read checks the declared metadata, reads the file and checks its
// content. Metadata problems are reported together before any read.
func (v *uploadValidator) read(fh *multipart.FileHeader) ([]byte, error) {
	var errs []ValidationError

	if fh.Filename == "" {
		errs = append(errs, ValidationError{Field: "filename", Message: "Filename is required"})
	}
	if fh.Size == 0 {
		errs = append(errs, ValidationError{Field: "file", Message: "File is empty"})
	}
	if fh.Size > v.maxSize {
		return nil, &uploadError{tooLarge: true, errs: []ValidationError{{
			Field:        "file_size",
			Message:      fmt.Sprintf("File size %s exceeds maximum allowed size of %s", formatFileSize(fh.Size), formatFileSize(v.maxSize)),
			InvalidValue: fh.Size,
		}}}
	}
	if declared := normalizeMIME(fh.Header.Get("Content-Type")); declared != "" && !slices.Contains(v.types, declared) {
		errs = append(errs, ValidationError{
			Field:        "content_type",
			Message:      fmt.Sprintf("File type %s not allowed. Allowed types: %s", declared, strings.Join(v.types, ", ")),
			InvalidValue: declared,
		})
	}
	if ext := strings.ToLower(filepath.Ext(fh.Filename)); fh.Filename != "" && !slices.Contains(v.extensions, ext) {
		errs = append(errs, ValidationError{
			Field:        "filename",
			Message:      fmt.Sprintf("File extension %q not allowed. Allowed extensions: %s", ext, strings.Join(v.extensions, ", ")),
			InvalidValue: ext,
		})
	}
	if len(errs) > 0 {
		return nil, &uploadError{errs: errs}
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, v.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(data)) > v.maxSize {
		return nil, &uploadError{tooLarge: true, errs: []ValidationError{{
			Field:   "file_size",
			Message: fmt.Sprintf("File exceeds maximum allowed size of %s", formatFileSize(v.maxSize)),
		}}}
	}
	if len(data) == 0 {
		return nil, &uploadError{errs: []ValidationError{{Field: "file", Message: "File is empty"}}}
	}

	detected := normalizeMIME(mimetype.Detect(data).String())
	if !slices.Contains(v.types, detected) {
		return nil, &uploadError{errs: []ValidationError{{
			Field:        "file_content",
			Message:      fmt.Sprintf("Detected file type %s not allowed", detected),
			InvalidValue: detected,
		}}}
	}
	return data, nil
}

func normalizeMIME(t string) string {
	t, _, _ = strings.Cut(t, ";")
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "image/jpg" || t == "image/pjpeg" {
		return "image/jpeg"
	}
	return t
}

// safeFilename strips directories and control characters from a
// client-supplied name.
func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, name)
	if name == "." || name == ".." || name == "" {
		return "upload"
	}
	if r := []rune(name); len(r) > 255 {
		name = string(r[:255])
	}
	return name
}

func formatFileSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if size < 1024 || unit == "GB" {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%d B", n)
}
