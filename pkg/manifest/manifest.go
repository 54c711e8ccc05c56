// Package manifest retrieves the source-language message manifests of
// registered applications.
package manifest

import (
	"context"

	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// Extractor returns the manifest of the application at appURL.
type Extractor interface {
	Extract(ctx context.Context, appURL string) (models.Manifest, error)
}
