package middleware

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

var allowedImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tiff": true,
}

// ValidateImageExtension checks if the uploaded filename carries an allowed extension
func ValidateImageExtension(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedImageExtensions[ext] {
		return fmt.Errorf("invalid image extension: %s (allowed: .jpg, .jpeg, .png, .bmp, .tiff)", ext)
	}
	return nil
}

// ValidateUploadSize checks the upload against the configured ceiling
func ValidateUploadSize(size int64, maxSizeMB int) error {
	if size <= 0 {
		return fmt.Errorf("uploaded image is empty")
	}
	max := int64(maxSizeMB) * 1024 * 1024
	if size > max {
		return fmt.Errorf("uploaded image exceeds %dMB limit", maxSizeMB)
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateProjectID validates project ID format
func ValidateProjectID(project string) error {
	if project == "" {
		return fmt.Errorf("project ID cannot be empty")
	}

	// Allow alphanumeric, dash, underscore (max 64 chars)
	pattern := `^[a-zA-Z0-9_-]{1,64}$`
	matched, _ := regexp.MatchString(pattern, project)
	if !matched {
		return fmt.Errorf("invalid project ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}

	return nil
}

// ValidateAnalysisID validates analysis ID format (UUID)
func ValidateAnalysisID(analysisID string) error {
	if analysisID == "" {
		return fmt.Errorf("analysis ID cannot be empty")
	}

	pattern := `^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`
	matched, _ := regexp.MatchString(pattern, analysisID)
	if !matched {
		return fmt.Errorf("invalid analysis ID format")
	}

	return nil
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
