package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Write persists the report under dir as report_<date>.json plus, when
// there are failures, failed_<date>.txt with one source key per line.
// It returns the path of the JSON report.
func Write(r *Report, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	reportPath := filepath.Join(dir, fmt.Sprintf("report_%s.json", r.Date))
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(reportPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	if len(r.FailedObjects) > 0 {
		failedPath := filepath.Join(dir, fmt.Sprintf("failed_%s.txt", r.Date))
		f, err := os.Create(failedPath)
		if err != nil {
			return "", fmt.Errorf("failed to write failed list: %w", err)
		}
		defer f.Close()

		for _, item := range r.FailedObjects {
			if _, err := fmt.Fprintf(f, "%s/%s\t%s\n", item.Bucket, item.Key, item.Error); err != nil {
				return "", fmt.Errorf("failed to write failed list: %w", err)
			}
		}
	}

	return reportPath, nil
}
