package fetcher

import (
	"context"
	"fmt"

	"github.com/xeptore/xmfetch/mathutil"
	"github.com/xeptore/xmfetch/ximalaya/types"
)

// PageFunc is called after every non-empty listing page. In full mode tracks
// may be empty when none of the listed tracks had a playable URL.
type PageFunc func(page, pages int, tracks []types.Track)

// FetchAll walks an album page by page until the page count derived from the
// first page's total is reached or the listing comes back empty. Pages read
// before an error are returned together with it.
func (f *Fetcher) FetchAll(ctx context.Context, albumID int64, pageSize int, mode types.Mode, onPage PageFunc) ([]types.Track, error) {
	if err := validatePage(1, pageSize); nil != err {
		return nil, err
	}

	logger := f.logger.With().Int64("album_id", albumID).Int("page_size", pageSize).Str("mode", mode.String()).Logger()

	var (
		all   []types.Track
		pages = 1
	)
	for page := 1; page <= pages; page++ {
		res, err := f.fetchPage(ctx, albumID, page, pageSize, mode)
		if nil != err {
			return all, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}

		if res.listed == 0 {
			logger.Info().Int("page", page).Msg("Empty listing page, stopping")
			break
		}

		if page == 1 {
			pages = max(mathutil.PageCount(res.totalCount, pageSize), 1)
			logger.Info().Int("total_count", res.totalCount).Int("pages", pages).Msg("Album size known")
		}

		all = append(all, res.tracks...)
		if nil != onPage {
			onPage(page, pages, res.tracks)
		}
	}

	return all, nil
}
