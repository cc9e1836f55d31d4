package multilabel

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/chestguard/chestguard/internal/inference"
)

// LoadLabels reads one class name per line. An empty path returns the
// default Normal, Pneumonia, Tuberculosis order.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return append([]string(nil), inference.Classes...), nil
	}

	f, err := os.Open(path) //nolint:gosec // G304: operator-supplied label file
	if err != nil {
		return nil, fmt.Errorf("failed to open label file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read label file: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label file %s is empty", path)
	}
	return labels, nil
}
