package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers stage collaborators wrap their failures with. The worker
// framework and the failure classifier match on these with errors.Is instead
// of sniffing error text.
var (
	ErrFTPConnection = errors.New("ftp connection error")
	ErrFTPMissing    = errors.New("ftp file missing")
	ErrFTPTransfer   = errors.New("ftp transfer error")
	ErrFTPTimeout    = errors.New("ftp timeout")
	ErrFTPAuth       = errors.New("ftp authentication error")

	ErrProcessing         = errors.New("processing error")
	ErrProcessingResource = errors.New("processing resource exhausted")
	ErrProcessingCorrupt  = errors.New("source file corrupt")

	ErrStoragePath       = errors.New("storage path error")
	ErrStoragePermission = errors.New("storage permission error")
	ErrStorageSpace      = errors.New("storage space exhausted")

	ErrValidation = errors.New("validation error")
	ErrCancelled  = errors.New("cancelled")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker. The marker should be one of the exported sentinel
// errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrProcessing
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsCancelled reports whether the error chain carries the cancellation marker.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
