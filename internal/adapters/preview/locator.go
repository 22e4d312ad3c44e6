package preview

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/ewilliams-labs/cadenza/internal/core/domain"
	"github.com/ewilliams-labs/cadenza/internal/core/ports"
)

// Provider names recorded in cache provenance.
const (
	ProviderDeezerISRC   = "deezer-isrc"
	ProviderDeezerSearch = "deezer-search"
	ProviderITunes       = "itunes-search"
	ProviderCatalog      = "catalog"
)

// Locator runs the fixed provider cascade: Deezer direct ISRC lookup, Deezer
// free-text search, iTunes free-text search, then the catalog's own inline
// preview as a last resort.
type Locator struct {
	deezer *DeezerClient
	itunes *ITunesClient
	log    *log.Logger
}

var _ ports.PreviewLocator = (*Locator)(nil)

// NewLocator constructs the cascade.
func NewLocator(deezer *DeezerClient, itunes *ITunesClient, logger *log.Logger) *Locator {
	if logger == nil {
		logger = log.Default()
	}
	return &Locator{deezer: deezer, itunes: itunes, log: logger}
}

// Locate walks the cascade until one provider yields a usable clip. Every
// candidate URL considered is retained in Attempted, in order, regardless of
// outcome.
//
// A search step whose candidates all carry the wrong recording id terminates
// the whole cascade as an identity mismatch rather than falling through:
// a negative match from an ISRC-aware provider is trusted over trying a
// provider that cannot verify identity at all.
func (l *Locator) Locate(ctx context.Context, identity domain.TrackIdentity, market string) (domain.PreviewResolution, error) {
	var res domain.PreviewResolution
	var providerErr error

	// Step 1: direct lookup by recording id, trustworthy by construction.
	if identity.ISRC != "" {
		cand, err := l.deezer.TrackByISRC(ctx, identity.ISRC)
		switch {
		case err != nil:
			providerErr = err
			l.log.Warn("deezer isrc lookup failed", "track", identity.TrackID, "err", err)
		case cand != nil && cand.PreviewURL != "":
			res.Attempted = append(res.Attempted, cand.PreviewURL)
			res.Provider = ProviderDeezerISRC
			res.URL = cand.PreviewURL
			return res, nil
		}
	}

	// Step 2: Deezer free-text search with identity verification.
	cands, err := l.deezer.Search(ctx, identity.Query(), market)
	if err != nil {
		providerErr = err
		l.log.Warn("deezer search failed", "track", identity.TrackID, "err", err)
	} else {
		for _, c := range cands {
			res.Attempted = append(res.Attempted, c.PreviewURL)
		}
		if cand, mismatch := pickCandidate(identity, cands); mismatch {
			res.IdentityMismatch = true
			return res, domain.IdentityMismatchError{
				Provider:     ProviderDeezerSearch,
				ExpectedISRC: identity.ISRC,
				Candidates:   len(cands),
			}
		} else if cand != nil {
			res.Provider = ProviderDeezerSearch
			res.URL = cand.PreviewURL
			return res, nil
		}
	}

	// Step 3: iTunes search, same rule.
	cands, err = l.itunes.Search(ctx, identity.Query(), market)
	if err != nil {
		providerErr = err
		l.log.Warn("itunes search failed", "track", identity.TrackID, "err", err)
	} else {
		for _, c := range cands {
			res.Attempted = append(res.Attempted, c.PreviewURL)
		}
		if cand, mismatch := pickCandidate(identity, cands); mismatch {
			res.IdentityMismatch = true
			return res, domain.IdentityMismatchError{
				Provider:     ProviderITunes,
				ExpectedISRC: identity.ISRC,
				Candidates:   len(cands),
			}
		} else if cand != nil {
			res.Provider = ProviderITunes
			res.URL = cand.PreviewURL
			return res, nil
		}
	}

	// Step 4: the catalog's own inline preview, when it exposed one.
	if identity.PreviewURL != "" {
		res.Attempted = append(res.Attempted, identity.PreviewURL)
		res.Provider = ProviderCatalog
		res.URL = identity.PreviewURL
		return res, nil
	}

	providers := []string{ProviderDeezerSearch, ProviderITunes}
	if identity.ISRC != "" {
		providers = append([]string{ProviderDeezerISRC}, providers...)
	}
	if len(res.Attempted) == 0 && providerErr != nil {
		return res, fmt.Errorf("preview cascade: %w", providerErr)
	}
	return res, domain.NoPreviewError{Providers: providers}
}
