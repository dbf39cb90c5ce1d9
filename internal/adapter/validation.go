package adapter

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

const (
	minWidth  = 720
	minHeight = 1280

	// Above this width/height ratio the video is noticeably wider than 9:16.
	recommendedAspectRatio = 0.6
)

func ValidateTitle(title string, maxLength int) []string {
	var errs []string
	if strings.TrimSpace(title) == "" {
		errs = append(errs, "title is required")
	}
	if utf8.RuneCountInString(title) > maxLength {
		errs = append(errs, fmt.Sprintf("title must be at most %d characters", maxLength))
	}
	return errs
}

func ValidateDescription(description string, maxLength int) []string {
	if utf8.RuneCountInString(description) > maxLength {
		return []string{fmt.Sprintf("description must be at most %d characters", maxLength)}
	}
	return nil
}

func ValidateVerticalVideo(meta VideoMetadata) []string {
	var errs []string
	if meta.AspectRatio >= 1 {
		errs = append(errs, "video must be vertical (9:16 recommended)")
	}
	if meta.Width < minWidth || meta.Height < minHeight {
		errs = append(errs, fmt.Sprintf("minimum resolution is %dx%d", minWidth, minHeight))
	}
	return errs
}

func ValidateDuration(duration, minDuration, maxDuration float64) []string {
	var errs []string
	if duration < minDuration {
		errs = append(errs, fmt.Sprintf("minimum duration is %g seconds", minDuration))
	}
	if duration > maxDuration {
		errs = append(errs, fmt.Sprintf("maximum duration is %g seconds", maxDuration))
	}
	return errs
}

func ValidateFileSize(size, maxSize int64) []string {
	if size > maxSize {
		maxMB := math.Round(float64(maxSize) / (1024 * 1024))
		return []string{fmt.Sprintf("maximum file size is %dMB", int64(maxMB))}
	}
	return nil
}

// TruncateText shortens text to maxLength runes, ending with "..." when cut.
func TruncateText(text string, maxLength int) string {
	if utf8.RuneCountInString(text) <= maxLength {
		return text
	}
	if maxLength <= 3 {
		return string([]rune(text)[:maxLength])
	}
	return string([]rune(text)[:maxLength-3]) + "..."
}

func aspectWarning(meta VideoMetadata, platformName string) []string {
	if meta.AspectRatio > recommendedAspectRatio {
		return []string{fmt.Sprintf("use a 9:16 aspect ratio for best results on %s", platformName)}
	}
	return nil
}

// hashtags renders tags as "#a #b", skipping blanks and stray leading '#'.
func hashtags(tags []string) string {
	parts := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		if tag == "" {
			continue
		}
		parts = append(parts, "#"+tag)
	}
	return strings.Join(parts, " ")
}
