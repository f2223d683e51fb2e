package cache

import "strconv"

func parseCount(raw []byte) int64 {
	n, _ := strconv.ParseInt(string(raw), 10, 64)
	return n
}

func formatCount(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}
