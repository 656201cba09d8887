package ota

import (
	"fmt"
	"strings"

	"github.com/solatis/aadnode/internal/types"
)

const deploymentMarker = "deploymentBase/"

// ExtractActionID returns the action id of a deploymentBase URL: the text after
// "deploymentBase/" up to the next '/', '?' or the end. Ids longer than
// MaxActionIDSize-1 characters are rejected.
func ExtractActionID(url string) (string, error) {
	i := strings.Index(url, deploymentMarker)
	if i < 0 {
		return "", fmt.Errorf("%w: %q", types.ErrActionIDNotFound, url)
	}
	rest := url[i+len(deploymentMarker):]
	if end := strings.IndexAny(rest, "/?"); end >= 0 {
		rest = rest[:end]
	}
	if rest == "" || len(rest) >= types.MaxActionIDSize {
		return "", fmt.Errorf("%w: %q", types.ErrActionIDNotFound, url)
	}
	return rest, nil
}
