package ports

import (
	"context"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
)

// PreviewLocator resolves a playable preview clip for a track through the
// provider cascade. The returned resolution always carries the attempted URL
// list, even when err is non-nil; failures are typed with the domain taxonomy
// (ErrNoPreview, ErrIdentityMismatch) so callers can persist distinct
// terminal outcomes.
type PreviewLocator interface {
	Locate(ctx context.Context, identity domain.TrackIdentity, market string) (domain.PreviewResolution, error)
}
