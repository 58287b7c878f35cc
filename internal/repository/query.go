package repository

// pageWindow clamps pagination input to sane bounds and returns the SQL
// LIMIT and OFFSET values. Out-of-range sizes fall back to def.
func pageWindow(page, size, def, max int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > max {
		size = def
	}
	return size, (page - 1) * size
}
