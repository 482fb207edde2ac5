package domain

const (
	// PageSizeDefault applies when a fetch omits page_size.
	PageSizeDefault = 12
	// PageSizeMax is the hard ceiling on page_size for every fetch.
	PageSizeMax = 120
)

// NormalizePage validates pagination inputs and fills defaults. page is
// 1-based. Oversized page_size is a command error, not a silent clamp, so
// callers learn the limit instead of receiving truncated listings.
func NormalizePage(page, pageSize int) (int, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize == 0 {
		pageSize = PageSizeDefault
	}
	if pageSize < 0 || pageSize >= PageSizeMax {
		return 0, 0, NewCommandMalformed("invalid page_size")
	}
	return page, pageSize, nil
}

// PageOffset converts 1-based page/size to a SQL offset.
func PageOffset(page, pageSize int) int {
	return (page - 1) * pageSize
}
